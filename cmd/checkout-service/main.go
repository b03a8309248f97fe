package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/promo"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/sequence"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/session"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[checkout-service] ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatalf("run migrations: %v", err)
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	promoStore := promo.NewPostgresStore(pool)
	orderRepo := order.NewPostgresRepository(pool, promoStore)

	var mirror cart.Mirror = cart.NewPostgresRepository(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		mirror = cart.NewCachedMirror(mirror, cart.NewRedisCache(rdb), logger)
		logger.Printf("server cart cache enabled at %s", cfg.RedisAddr)
	}

	catalogResolver, err := catalog.NewHTTPResolver(cfg.CatalogURL, cfg.UpstreamTimeout)
	if err != nil {
		logger.Fatalf("catalog client: %v", err)
	}
	payments, err := payment.NewHTTPClient(cfg.PaymentURL, cfg.UpstreamTimeout)
	if err != nil {
		logger.Fatalf("payment client: %v", err)
	}

	rabbitConn := events.MustDialRabbit(cfg.RabbitMQURL)
	defer rabbitConn.Close()

	publisher, err := events.NewPublisher(rabbitConn, sequence.NewRepository(pool), events.PublisherOptions{
		PublishEnveloped: cfg.PublishEnveloped,
	})
	if err != nil {
		logger.Fatalf("failed to create publisher: %v", err)
	}

	calc := pricing.NewCalculator(cfg.Pricing)
	reconciler := checkout.NewReconciler(checkout.Deps{
		Catalog:    catalogResolver,
		Promos:     promo.NewValidator(promoStore),
		Calculator: calc,
		Payments:   payments,
		Orders:     orderRepo,
		Publisher:  publisher,
		Logger:     logger,
	})
	registry := session.NewRegistry(mirror, cfg.CartRetry, reconciler, logger)

	dedupRepo := dedup.NewRepository(db.SQLFromPool(pool))
	find := events.RegistryFinder(registry)
	for rk, status := range map[string]payment.Status{
		events.PaymentSucceededRoutingKey: payment.StatusSucceeded,
		events.PaymentFailedRoutingKey:    payment.StatusFailed,
	} {
		handler := events.PaymentResultHandler(find, dedupRepo, status, logger, cfg.ConsumeEnveloped)
		if err := events.StartConsumer(ctx, rabbitConn, rk, handler, logger); err != nil {
			logger.Fatalf("start %s consumer: %v", rk, err)
		}
	}

	deps := httpapi.Deps{
		Sessions:   registry,
		Catalog:    catalogResolver,
		Calculator: calc,
		Logger:     logger,
	}
	if cfg.EnablePromoAdmin {
		deps.PromoAdmin = promoStore
	}
	router := httpapi.NewRouter(httpapi.NewHandler(deps))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      otelhttp.NewHandler(router, "checkout-service"),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("checkout-service listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errCh:
		logger.Fatalf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown error: %v", err)
	}
	// flush logged-in carts before the pool goes away
	registry.Close(shutdownCtx)
	if err := publisher.Close(); err != nil {
		logger.Printf("publisher close error: %v", err)
	}
}
