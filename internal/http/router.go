package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Logger)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Auth)

	r.Get("/health", h.Health)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)

		r.Route("/{sessionId}", func(r chi.Router) {
			r.Delete("/", h.DeleteSession)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Delete("/", h.ClearCart)
				r.Post("/items", h.AddItem)
				r.Put("/items", h.SetQuantity)
				r.Delete("/items", h.RemoveItem)
			})

			r.Route("/checkout", func(r chi.Router) {
				r.Post("/", h.BeginCheckout)
				r.Get("/", h.GetCheckout)
				r.Delete("/", h.CancelCheckout)
				r.Post("/promo", h.ApplyPromo)
				r.Delete("/promo", h.RemovePromo)
				r.Post("/place", h.PlaceOrder)
				r.Post("/payment", h.ConfirmPayment)
			})
		})
	})

	if h.promoAdmin != nil {
		r.Put("/api/admin/promos/{code}", h.UpsertPromo)
	}

	return r
}
