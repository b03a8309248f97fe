package promo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }

func save20() Code {
	return Code{
		Code:           "SAVE20",
		DiscountType:   pricing.DiscountFixed,
		DiscountValue:  dec("20"),
		MinOrderAmount: dec("100"),
		UsageLimit:     intPtr(10),
		UsedCount:      3,
		ValidFrom:      now.Add(-24 * time.Hour),
		ValidUntil:     now.Add(24 * time.Hour),
		IsActive:       true,
	}
}

type fakeStore struct {
	codes    map[string]Code
	fetchErr error
}

func (f *fakeStore) Fetch(ctx context.Context, code string) (Code, error) {
	if f.fetchErr != nil {
		return Code{}, f.fetchErr
	}
	c, ok := f.codes[code]
	if !ok {
		return Code{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) Redeem(ctx context.Context, code string) error {
	c, ok := f.codes[code]
	if !ok {
		return ErrNotFound
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	c.UsedCount++
	f.codes[code] = c
	return nil
}

func TestEvaluateChecksInOrder(t *testing.T) {
	tests := map[string]struct {
		mutate     func(*Code)
		ctx        OrderContext
		wantReason Reason
	}{
		"valid code": {
			ctx: OrderContext{Subtotal: dec("150"), Now: now},
		},
		"inactive reads as not found": {
			mutate:     func(c *Code) { c.IsActive = false; c.ValidUntil = now.Add(-time.Hour) },
			ctx:        OrderContext{Subtotal: dec("150"), Now: now},
			wantReason: ReasonCodeNotFound,
		},
		"expired before usage limit": {
			mutate:     func(c *Code) { c.ValidUntil = now.Add(-time.Hour); c.UsedCount = 10 },
			ctx:        OrderContext{Subtotal: dec("150"), Now: now},
			wantReason: ReasonCodeExpired,
		},
		"usage limit before minimum": {
			mutate:     func(c *Code) { c.UsedCount = 10 },
			ctx:        OrderContext{Subtotal: dec("50"), Now: now},
			wantReason: ReasonUsageLimitReached,
		},
		"minimum before category": {
			mutate:     func(c *Code) { c.ApplicableCategories = []string{"shoes"} },
			ctx:        OrderContext{Subtotal: dec("50"), Categories: []string{"hats"}, Now: now},
			wantReason: ReasonMinimumOrderNotMet,
		},
		"category mismatch": {
			mutate:     func(c *Code) { c.ApplicableCategories = []string{"shoes"} },
			ctx:        OrderContext{Subtotal: dec("150"), Categories: []string{"hats"}, Now: now},
			wantReason: ReasonCategoryNotApplicable,
		},
		"category match ignores case": {
			mutate: func(c *Code) { c.ApplicableCategories = []string{"Shoes"} },
			ctx:    OrderContext{Subtotal: dec("150"), Categories: []string{"hats", "shoes"}, Now: now},
		},
		"no usage limit": {
			mutate: func(c *Code) { c.UsageLimit = nil; c.UsedCount = 5000 },
			ctx:    OrderContext{Subtotal: dec("150"), Now: now},
		},
		"boundaries are inclusive": {
			mutate: func(c *Code) { c.ValidFrom = now; c.ValidUntil = now },
			ctx:    OrderContext{Subtotal: dec("100"), Now: now},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := save20()
			if tc.mutate != nil {
				tc.mutate(&c)
			}

			discount, rejection := Evaluate(c, tc.ctx)
			if tc.wantReason == "" {
				require.Nil(t, rejection)
				assert.Equal(t, c.DiscountType, discount.Type)
				assert.True(t, c.DiscountValue.Equal(discount.Value))
				return
			}
			require.NotNil(t, rejection)
			assert.Equal(t, tc.wantReason, rejection.Reason)
			assert.Equal(t, "SAVE20", rejection.Code)
		})
	}
}

func TestEvaluateExpiredDistinguishesWindowSide(t *testing.T) {
	c := save20()
	c.ValidFrom = now.Add(time.Hour)
	c.ValidUntil = now.Add(48 * time.Hour)

	_, rejection := Evaluate(c, OrderContext{Subtotal: dec("150"), Now: now})
	require.NotNil(t, rejection)
	assert.Equal(t, ReasonCodeExpired, rejection.Reason)
	assert.True(t, rejection.NotYetValid)
	assert.Contains(t, rejection.Message(), "valid from")

	c = save20()
	c.ValidUntil = now.Add(-time.Minute)
	_, rejection = Evaluate(c, OrderContext{Subtotal: dec("150"), Now: now})
	require.NotNil(t, rejection)
	assert.False(t, rejection.NotYetValid)
	assert.Equal(t, "this code has expired", rejection.Message())
}

func TestEvaluateMinimumCarriesShortfall(t *testing.T) {
	_, rejection := Evaluate(save20(), OrderContext{Subtotal: dec("72.50"), Now: now})

	require.NotNil(t, rejection)
	assert.Equal(t, ReasonMinimumOrderNotMet, rejection.Reason)
	require.True(t, rejection.Shortfall.Valid)
	assert.True(t, dec("27.50").Equal(rejection.Shortfall.Decimal))
	assert.Equal(t, "add 27.50 more to use this code", rejection.Message())
}

func TestValidatorValidate(t *testing.T) {
	summer := Code{
		Code:              "SUMMER25",
		DiscountType:      pricing.DiscountPercentage,
		DiscountValue:     dec("25"),
		MinOrderAmount:    decimal.Zero,
		MaxDiscountAmount: decimal.NewNullDecimal(dec("50")),
		ValidFrom:         now.Add(-time.Hour),
		ValidUntil:        now.Add(time.Hour),
		IsActive:          true,
	}
	store := &fakeStore{codes: map[string]Code{"SAVE20": save20(), "SUMMER25": summer}}
	v := NewValidator(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	t.Run("codes are case-insensitive", func(t *testing.T) {
		discount, err := v.Validate(ctx, "  summer25 ", OrderContext{Subtotal: dec("300")})
		require.NoError(t, err)
		assert.Equal(t, pricing.DiscountPercentage, discount.Type)
		assert.True(t, discount.MaxDiscountAmount.Valid)
		assert.True(t, dec("50").Equal(discount.MaxDiscountAmount.Decimal))
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := v.Validate(ctx, "NOPE", OrderContext{Subtotal: dec("300")})
		rejection, ok := AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, ReasonCodeNotFound, rejection.Reason)
		assert.Equal(t, "NOPE", rejection.Code)
	})

	t.Run("blank code", func(t *testing.T) {
		_, err := v.Validate(ctx, "   ", OrderContext{Subtotal: dec("300")})
		rejection, ok := AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, ReasonCodeNotFound, rejection.Reason)
	})

	t.Run("store failure is not a rejection", func(t *testing.T) {
		broken := NewValidator(&fakeStore{fetchErr: errors.New("connection refused")})
		_, err := broken.Validate(ctx, "SAVE20", OrderContext{Subtotal: dec("300")})
		require.Error(t, err)
		_, ok := AsRejection(err)
		assert.False(t, ok)
	})

	t.Run("repeat validation sees live usage", func(t *testing.T) {
		limited := save20()
		limited.UsageLimit = intPtr(1)
		limited.UsedCount = 0
		store := &fakeStore{codes: map[string]Code{"SAVE20": limited}}
		v := NewValidator(store).WithClock(func() time.Time { return now })

		_, err := v.Validate(ctx, "save20", OrderContext{Subtotal: dec("150")})
		require.NoError(t, err)

		require.NoError(t, store.Redeem(ctx, "SAVE20"))

		_, err = v.Validate(ctx, "save20", OrderContext{Subtotal: dec("150")})
		rejection, ok := AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, ReasonUsageLimitReached, rejection.Reason)
	})
}

func TestOrderContextFor(t *testing.T) {
	items := []pricing.ResolvedLineItem{
		{Quantity: 2, UnitPrice: dec("10"), Category: "hats", Available: true},
		{Quantity: 1, UnitPrice: dec("5"), Category: "hats", Available: true},
		{Quantity: 1, UnitPrice: dec("99"), Category: "shoes", Available: false},
		{Quantity: 1, UnitPrice: dec("1.5"), Available: true},
	}

	oc := OrderContextFor(items, now)

	assert.True(t, dec("26.5").Equal(oc.Subtotal))
	assert.Equal(t, []string{"hats"}, oc.Categories)
	assert.Equal(t, now, oc.Now)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE20", NormalizeCode(" save20\t"))
	assert.Equal(t, "", NormalizeCode("  "))
}
