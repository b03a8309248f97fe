package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

// Store provides promo codes and their atomic redemption.
type Store interface {
	Fetch(ctx context.Context, code string) (Code, error)
	// Redeem consumes one use of code. The usage check and the increment
	// happen as a single step in the store.
	Redeem(ctx context.Context, code string) error
}

// OrderContext is what a code is validated against.
type OrderContext struct {
	Subtotal   decimal.Decimal
	Categories []string
	Now        time.Time
}

// OrderContextFor builds an OrderContext from the billable items.
func OrderContextFor(items []pricing.ResolvedLineItem, now time.Time) OrderContext {
	oc := OrderContext{Subtotal: decimal.Zero, Now: now}
	seen := make(map[string]struct{})
	for _, it := range items {
		if !it.Available || it.Quantity <= 0 {
			continue
		}
		oc.Subtotal = oc.Subtotal.Add(it.LineTotal())
		if it.Category == "" {
			continue
		}
		if _, ok := seen[it.Category]; !ok {
			seen[it.Category] = struct{}{}
			oc.Categories = append(oc.Categories, it.Category)
		}
	}
	return oc
}

// Evaluate applies the checks in a fixed order; the first failing one
// decides the rejection.
func Evaluate(c Code, oc OrderContext) (pricing.Discount, *Rejection) {
	code := NormalizeCode(c.Code)

	if !c.IsActive {
		return pricing.Discount{}, &Rejection{Reason: ReasonCodeNotFound, Code: code}
	}

	if oc.Now.Before(c.ValidFrom) || oc.Now.After(c.ValidUntil) {
		from, until := c.ValidFrom, c.ValidUntil
		return pricing.Discount{}, &Rejection{
			Reason:      ReasonCodeExpired,
			Code:        code,
			NotYetValid: oc.Now.Before(c.ValidFrom),
			ValidFrom:   &from,
			ValidUntil:  &until,
		}
	}

	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return pricing.Discount{}, &Rejection{Reason: ReasonUsageLimitReached, Code: code}
	}

	if oc.Subtotal.LessThan(c.MinOrderAmount) {
		return pricing.Discount{}, &Rejection{
			Reason:         ReasonMinimumOrderNotMet,
			Code:           code,
			MinOrderAmount: decimal.NewNullDecimal(c.MinOrderAmount),
			Shortfall:      decimal.NewNullDecimal(c.MinOrderAmount.Sub(oc.Subtotal)),
		}
	}

	if len(c.ApplicableCategories) > 0 && !intersects(c.ApplicableCategories, oc.Categories) {
		return pricing.Discount{}, &Rejection{
			Reason:               ReasonCategoryNotApplicable,
			Code:                 code,
			ApplicableCategories: c.ApplicableCategories,
		}
	}

	return c.Discount(), nil
}

func intersects(allowed, present []string) bool {
	for _, a := range allowed {
		for _, p := range present {
			if strings.EqualFold(a, p) {
				return true
			}
		}
	}
	return false
}

// Validator checks codes against live store state. The checkout calls it
// at preview and again at commit; only the commit result is binding.
type Validator struct {
	store Store
	now   func() time.Time
}

func NewValidator(store Store) *Validator {
	return &Validator{store: store, now: time.Now}
}

// WithClock returns a copy of the validator that reads time from now.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	return &Validator{store: v.store, now: now}
}

// Validate returns the discount for code, a *Rejection when the customer
// cannot use it, or a plain error when the store could not be reached.
func (v *Validator) Validate(ctx context.Context, code string, oc OrderContext) (pricing.Discount, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return pricing.Discount{}, &Rejection{Reason: ReasonCodeNotFound, Code: normalized}
	}
	if oc.Now.IsZero() {
		oc.Now = v.now()
	}

	c, err := v.store.Fetch(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return pricing.Discount{}, &Rejection{Reason: ReasonCodeNotFound, Code: normalized}
		}
		return pricing.Discount{}, errors.Wrapf(err, "fetch promo %s", normalized)
	}

	discount, rejection := Evaluate(c, oc)
	if rejection != nil {
		return pricing.Discount{}, rejection
	}
	return discount, nil
}

// AsRejection unwraps a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
