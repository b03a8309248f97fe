package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/session"
)

const PaymentResultConsumerName = "checkout-payment-result"

// PaymentTarget is the checkout attempt a payment result settles.
type PaymentTarget interface {
	HandlePaymentResult(ctx context.Context, res payment.Result) (checkout.Result, error)
}

// TargetFinder locates the attempt waiting on a client secret.
type TargetFinder func(clientSecret string) (PaymentTarget, bool)

func RegistryFinder(r *session.Registry) TargetFinder {
	return func(clientSecret string) (PaymentTarget, bool) {
		co, ok := r.FindByClientSecret(clientSecret)
		if !ok {
			return nil, false
		}
		return co, true
	}
}

// PaymentResultHandler settles waiting checkouts from payment.succeeded and
// payment.failed events. Enveloped events are deduplicated per partition;
// results for attempts this instance does not hold are acknowledged and
// dropped.
func PaymentResultHandler(find TargetFinder, dedupRepo dedup.Repository, status payment.Status, logger *log.Logger, consumeEnveloped bool) HandlerFunc {
	eventName := EventTypePaymentSucceeded
	if status == payment.StatusFailed {
		eventName = EventTypePaymentFailed
	}
	consumerName := PaymentResultConsumerName + "." + string(status)

	return func(ctx context.Context, body []byte) error {
		payload, env, err := parsePaymentResult(body, eventName, consumeEnveloped)
		if err != nil {
			return err
		}
		if payload.ClientSecret == "" {
			return fmt.Errorf("missing clientSecret")
		}

		if env == nil || env.sequence() == 0 {
			return applyPaymentResult(ctx, find, status, payload, logger)
		}

		partitionKey := env.PartitionKey
		incomingSeq := env.sequence()

		tx, err := dedupRepo.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		lastSeq, ok, err := dedupRepo.GetLastSequence(ctx, tx, consumerName, partitionKey)
		if err != nil {
			return err
		}
		if ok {
			if incomingSeq <= lastSeq {
				logger.Printf("skip duplicate %s partition=%s seq=%d last=%d", eventName, partitionKey, incomingSeq, lastSeq)
				return nil
			}
			if incomingSeq > lastSeq+1 {
				logger.Printf("warning: sequence gap for partition=%s seq=%d last=%d", partitionKey, incomingSeq, lastSeq)
			}
		}

		if err := applyPaymentResult(ctx, find, status, payload, logger); err != nil {
			return err
		}

		if err := dedupRepo.UpsertLastSequence(ctx, tx, consumerName, partitionKey, incomingSeq); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit checkpoint: %w", err)
		}
		return nil
	}
}

func applyPaymentResult(ctx context.Context, find TargetFinder, status payment.Status, p PaymentResultPayload, logger *log.Logger) error {
	target, ok := find(p.ClientSecret)
	if !ok {
		logger.Printf("no checkout waiting on payment %s, dropping %s result", p.PaymentID, status)
		return nil
	}

	res, err := target.HandlePaymentResult(ctx, payment.Result{
		Status:       status,
		Reason:       p.Reason,
		PaymentID:    p.PaymentID,
		ClientSecret: p.ClientSecret,
	})

	var rej *checkout.Rejection
	var pf *checkout.PaymentFailure
	switch {
	case err == nil:
		logger.Printf("checkout=%s settled by payment event state=%s order=%s", res.CheckoutID, res.State, res.OrderID)
		return nil
	case errors.Is(err, checkout.ErrPaymentAbandoned):
		logger.Printf("payment %s captured for an abandoned checkout, refund requested", p.PaymentID)
		return nil
	case errors.Is(err, checkout.ErrInvalidTransition) && status == payment.StatusFailed:
		// settled already, or the attempt moved on
		logger.Printf("stale %s result for payment %s", status, p.PaymentID)
		return nil
	case errors.As(err, &rej), errors.As(err, &pf):
		// a user-facing outcome, recorded on the attempt
		logger.Printf("payment %s settled with outcome: %v", p.PaymentID, err)
		return nil
	default:
		return fmt.Errorf("apply %s result: %w", status, err)
	}
}

func parsePaymentResult(body []byte, eventName string, consumeEnveloped bool) (PaymentResultPayload, *PaymentResultEnvelope, error) {
	if consumeEnveloped {
		var env PaymentResultEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return PaymentResultPayload{}, nil, fmt.Errorf("unmarshal %s envelope: %w", eventName, err)
		}
		if err := env.Validate(eventName, paymentEventVersion); err != nil {
			return PaymentResultPayload{}, nil, err
		}
		return env.Payload, &env, nil
	}

	var ev LegacyPaymentResult
	if err := json.Unmarshal(body, &ev); err != nil {
		return PaymentResultPayload{}, nil, fmt.Errorf("unmarshal %s: %w", eventName, err)
	}
	return ev.PaymentResultPayload, nil, nil
}
