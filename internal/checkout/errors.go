package checkout

import (
	"errors"
	"fmt"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/promo"
)

var (
	ErrEmptyCart            = errors.New("cart has no available items")
	ErrIncompleteAddress    = errors.New("shipping address is incomplete")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	ErrInvalidTransition    = errors.New("operation not allowed in current checkout state")
	ErrPaymentCaptured      = errors.New("payment already captured")
	// ErrPaymentAbandoned is returned when a successful payment arrives for
	// an intent the attempt no longer waits on. A refund has been requested.
	ErrPaymentAbandoned = errors.New("payment captured for an abandoned checkout")
)

type RejectionReason string

const (
	ReasonCatalogDrift  RejectionReason = "CatalogDrift"
	ReasonPromoRejected RejectionReason = "PromoRejected"
)

// Rejection is returned when commit-time checks disagree with what the
// customer reviewed. The checkout is back in Reviewing with Review holding
// the refreshed snapshot.
type Rejection struct {
	Reason  RejectionReason    `json:"reason"`
	Changed []cart.LineItemKey `json:"changed,omitempty"`
	Promo   *promo.Rejection   `json:"promo,omitempty"`
	Review  Review             `json:"review"`
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonCatalogDrift:
		return fmt.Sprintf("your cart was updated: %d item(s) changed", len(r.Changed))
	case ReasonPromoRejected:
		if r.Promo != nil {
			return r.Promo.Error()
		}
		return "promo code rejected"
	default:
		return string(r.Reason)
	}
}

// PaymentFailure carries the payment service's reason verbatim. The attempt
// is RolledBack and the cart untouched.
type PaymentFailure struct {
	Reason string `json:"reason"`
}

func (p *PaymentFailure) Error() string {
	if p.Reason == "" {
		return "payment failed"
	}
	return "payment failed: " + p.Reason
}
