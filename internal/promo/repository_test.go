package promo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

var promoColumns = []string{
	"code", "discount_type", "discount_value", "min_order_amount",
	"max_discount_amount", "usage_limit", "used_count",
	"valid_from", "valid_until", "is_active", "applicable_categories",
}

func strPtr(s string) *string { return &s }

func TestPostgresStore_Fetch(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC)

	t.Run("maps a percentage code", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM promo_codes\s+WHERE code=\$1`).
			WithArgs("SUMMER25").
			WillReturnRows(pgxmock.NewRows(promoColumns).AddRow(
				"SUMMER25", "percentage", "25.00", "0.00",
				strPtr("50.00"), intPtr(100), 12,
				from, until, true, []string{"apparel"},
			))

		c, err := NewPostgresStore(mock).Fetch(ctx, "summer25")
		require.NoError(t, err)

		assert.Equal(t, "SUMMER25", c.Code)
		assert.Equal(t, pricing.DiscountPercentage, c.DiscountType)
		assert.True(t, dec("25").Equal(c.DiscountValue))
		require.True(t, c.MaxDiscountAmount.Valid)
		assert.True(t, dec("50").Equal(c.MaxDiscountAmount.Decimal))
		require.NotNil(t, c.UsageLimit)
		assert.Equal(t, 100, *c.UsageLimit)
		assert.Equal(t, 12, c.UsedCount)
		assert.Equal(t, []string{"apparel"}, c.ApplicableCategories)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing code", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM promo_codes`).
			WithArgs("NOPE").
			WillReturnRows(pgxmock.NewRows(promoColumns))

		_, err = NewPostgresStore(mock).Fetch(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown discount type", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM promo_codes`).
			WithArgs("ODD").
			WillReturnRows(pgxmock.NewRows(promoColumns).AddRow(
				"ODD", "bogo", "1", "0",
				(*string)(nil), (*int)(nil), 0,
				from, until, true, []string{},
			))

		_, err = NewPostgresStore(mock).Fetch(ctx, "odd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown discount type")
	})
}

func TestPostgresStore_Redeem(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr error
	}{
		"increments when uses remain": {
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`UPDATE promo_codes\s+SET used_count = used_count \+ 1`).
					WithArgs("SAVE20").
					WillReturnRows(pgxmock.NewRows([]string{"used_count"}).AddRow(4))
			},
		},
		"exhausted code": {
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`UPDATE promo_codes`).
					WithArgs("SAVE20").
					WillReturnRows(pgxmock.NewRows([]string{"used_count"}))
				mock.ExpectQuery(`SELECT EXISTS`).
					WithArgs("SAVE20").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: ErrUsageLimitReached,
		},
		"missing code": {
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`UPDATE promo_codes`).
					WithArgs("SAVE20").
					WillReturnRows(pgxmock.NewRows([]string{"used_count"}))
				mock.ExpectQuery(`SELECT EXISTS`).
					WithArgs("SAVE20").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: ErrNotFound,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tc.setup(mock)

			err = NewPostgresStore(mock).Redeem(ctx, "save20")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("database error is wrapped", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`UPDATE promo_codes`).
			WithArgs("SAVE20").
			WillReturnError(errors.New("conn reset"))

		err = NewPostgresStore(mock).Redeem(ctx, "SAVE20")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUsageLimitReached)
		assert.Contains(t, err.Error(), "redeem promo code")
	})
}

func TestPostgresStore_RedeemTx(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE promo_codes`).
		WithArgs("SAVE20").
		WillReturnRows(pgxmock.NewRows([]string{"used_count"}).AddRow(1))
	mock.ExpectCommit()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, NewPostgresStore(mock).RedeemTx(ctx, tx, "SAVE20"))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
