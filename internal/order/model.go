package order

import (
	"strings"
	"time"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCard || m == PaymentCashOnDelivery
}

type Address struct {
	FullName   string `json:"fullName"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// Complete reports whether every required field is filled in. Line2 is
// optional.
func (a Address) Complete() bool {
	for _, f := range []string{a.FullName, a.Line1, a.City, a.State, a.PostalCode, a.Country, a.Phone} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}

// Intent is an order about to be created. It only becomes an Order once
// the catalog and promo checks pass and, for card payments, the payment is
// confirmed.
type Intent struct {
	IdempotencyKey   string                     `json:"idempotencyKey"`
	UserID           string                     `json:"userId,omitempty"`
	Items            []pricing.ResolvedLineItem `json:"items"`
	ShippingAddress  Address                    `json:"shippingAddress"`
	BillingAddress   Address                    `json:"billingAddress"`
	PromoCode        string                     `json:"promoCode,omitempty"`
	Breakdown        pricing.Breakdown          `json:"breakdown"`
	PaymentMethod    PaymentMethod              `json:"paymentMethod"`
	PaymentReference string                     `json:"paymentReference,omitempty"`
}

type Item struct {
	ProductID int64  `json:"productId"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type Order struct {
	ID               string            `json:"orderId"`
	IdempotencyKey   string            `json:"idempotencyKey"`
	UserID           string            `json:"userId,omitempty"`
	Status           Status            `json:"status"`
	PaymentMethod    PaymentMethod     `json:"paymentMethod"`
	PaymentReference string            `json:"paymentReference,omitempty"`
	PromoCode        string            `json:"promoCode,omitempty"`
	Breakdown        pricing.Breakdown `json:"breakdown"`
	ShippingAddress  Address           `json:"shippingAddress"`
	BillingAddress   Address           `json:"billingAddress"`
	Items            []Item            `json:"items"`
	CreatedAt        time.Time         `json:"createdAt"`
}
