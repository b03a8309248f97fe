// Package pricing computes order price breakdowns. Everything here is pure:
// the same items and discount always produce the same Breakdown, which is
// what keeps the checkout preview and the committed order in agreement.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
)

// DiscountType enumerates the supported promo discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// Discount describes an applicable promo. It says how to discount, not how
// much: the amount depends on the subtotal and is derived in ComputeBreakdown.
type Discount struct {
	Type              DiscountType        `json:"type"`
	Value             decimal.Decimal     `json:"value"`
	MaxDiscountAmount decimal.NullDecimal `json:"maxDiscountAmount"`
}

// ResolvedLineItem is a cart entry joined with live catalog data.
type ResolvedLineItem struct {
	Key       cart.LineItemKey `json:"key"`
	Quantity  int              `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unitPrice"`
	Name      string           `json:"name"`
	Category  string           `json:"category,omitempty"`
	Available bool             `json:"available"`
}

func (i ResolvedLineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Breakdown struct {
	Subtotal       decimal.Decimal    `json:"subtotal"`
	ShippingCost   decimal.Decimal    `json:"shippingCost"`
	Tax            decimal.Decimal    `json:"tax"`
	DiscountAmount decimal.Decimal    `json:"discountAmount"`
	Total          decimal.Decimal    `json:"total"`
	Removed        []ResolvedLineItem `json:"removed,omitempty"`
}

type Config struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingRate      decimal.Decimal
	TaxRate               decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: decimal.NewFromInt(100),
		FlatShippingRate:      decimal.NewFromInt(15),
		TaxRate:               decimal.RequireFromString("0.08"),
	}
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) Calculator {
	return Calculator{cfg: cfg}
}

func (c Calculator) Config() Config { return c.cfg }

// ComputeBreakdown prices the available items. Unavailable items, and items
// with a negative unit price, are left out of every amount and returned in
// Removed. Tax is charged on the subtotal before any discount.
func (c Calculator) ComputeBreakdown(items []ResolvedLineItem, discount *Discount) Breakdown {
	var b Breakdown
	subtotal := decimal.Zero
	billable := 0

	for _, it := range items {
		if it.Available && it.UnitPrice.IsNegative() {
			it.Available = false
		}
		if !it.Available || it.Quantity <= 0 {
			if !it.Available {
				b.Removed = append(b.Removed, it)
			}
			continue
		}
		subtotal = subtotal.Add(it.LineTotal())
		billable++
	}

	shipping := decimal.Zero
	if billable > 0 && subtotal.LessThan(c.cfg.FreeShippingThreshold) {
		shipping = c.cfg.FlatShippingRate
	}

	tax := subtotal.Mul(c.cfg.TaxRate)
	discountAmount := DiscountAmount(subtotal, discount)

	total := subtotal.Add(shipping).Add(tax).Sub(discountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	b.Subtotal = subtotal
	b.ShippingCost = shipping
	b.Tax = tax
	b.DiscountAmount = discountAmount
	b.Total = total
	return b
}

// DiscountAmount returns what discount saves on subtotal, never more than
// subtotal and never negative.
func DiscountAmount(subtotal decimal.Decimal, discount *Discount) decimal.Decimal {
	if discount == nil || !subtotal.IsPositive() || !discount.Value.IsPositive() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch discount.Type {
	case DiscountPercentage:
		amount = subtotal.Mul(discount.Value).Div(decimal.NewFromInt(100))
		if discount.MaxDiscountAmount.Valid && !discount.MaxDiscountAmount.Decimal.IsNegative() {
			amount = decimal.Min(amount, discount.MaxDiscountAmount.Decimal)
		}
	case DiscountFixed:
		amount = discount.Value
	default:
		return decimal.Zero
	}

	return decimal.Min(amount, subtotal)
}

// Rounded returns the breakdown at 2 decimal places for display and
// submission. The total is rebuilt from the rounded parts so the figures a
// customer sees still add up.
func (b Breakdown) Rounded() Breakdown {
	r := Breakdown{
		Subtotal:       round(b.Subtotal),
		ShippingCost:   round(b.ShippingCost),
		Tax:            round(b.Tax),
		DiscountAmount: round(b.DiscountAmount),
		Removed:        b.Removed,
	}
	r.Total = r.Subtotal.Add(r.ShippingCost).Add(r.Tax).Sub(r.DiscountAmount)
	if r.Total.IsNegative() {
		r.Total = decimal.Zero
	}
	return r
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
