package promo

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db Querier
}

func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Fetch(ctx context.Context, code string) (Code, error) {
	var (
		c                 Code
		discountType      string
		discountValue     string
		minOrderAmount    string
		maxDiscountAmount *string
		usageLimit        *int
	)

	err := s.db.QueryRow(ctx, `
		SELECT code, discount_type, discount_value::text, min_order_amount::text,
		       max_discount_amount::text, usage_limit, used_count,
		       valid_from, valid_until, is_active, applicable_categories
		FROM promo_codes
		WHERE code=$1
	`, NormalizeCode(code)).Scan(
		&c.Code, &discountType, &discountValue, &minOrderAmount,
		&maxDiscountAmount, &usageLimit, &c.UsedCount,
		&c.ValidFrom, &c.ValidUntil, &c.IsActive, &c.ApplicableCategories,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrNotFound
		}
		return Code{}, errors.Wrap(err, "select promo code")
	}

	c.DiscountType = pricing.DiscountType(discountType)
	if !c.DiscountType.Valid() {
		return Code{}, errors.Errorf("promo %s has unknown discount type %q", c.Code, discountType)
	}
	if c.DiscountValue, err = decimal.NewFromString(discountValue); err != nil {
		return Code{}, errors.Wrap(err, "parse discount_value")
	}
	if c.MinOrderAmount, err = decimal.NewFromString(minOrderAmount); err != nil {
		return Code{}, errors.Wrap(err, "parse min_order_amount")
	}
	if maxDiscountAmount != nil {
		d, err := decimal.NewFromString(*maxDiscountAmount)
		if err != nil {
			return Code{}, errors.Wrap(err, "parse max_discount_amount")
		}
		c.MaxDiscountAmount = decimal.NewNullDecimal(d)
	}
	c.UsageLimit = usageLimit
	c.ValidFrom = c.ValidFrom.UTC()
	c.ValidUntil = c.ValidUntil.UTC()
	return c, nil
}

// Redeem increments used_count in one conditional statement, so two
// concurrent redemptions can never both take the last use.
func (s *PostgresStore) Redeem(ctx context.Context, code string) error {
	return redeem(ctx, s.db, code)
}

// RedeemTx redeems inside tx so the redemption commits or rolls back with
// the order that uses it.
func (s *PostgresStore) RedeemTx(ctx context.Context, tx pgx.Tx, code string) error {
	return redeem(ctx, tx, code)
}

func redeem(ctx context.Context, q Querier, code string) error {
	code = NormalizeCode(code)

	var used int
	err := q.QueryRow(ctx, `
		UPDATE promo_codes
		SET used_count = used_count + 1, updated_at = now()
		WHERE code=$1
		  AND is_active
		  AND (usage_limit IS NULL OR used_count < usage_limit)
		RETURNING used_count
	`, code).Scan(&used)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, "redeem promo code")
	}

	var exists bool
	if err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM promo_codes WHERE code=$1 AND is_active)
	`, code).Scan(&exists); err != nil {
		return errors.Wrap(err, "check promo code")
	}
	if !exists {
		return ErrNotFound
	}
	return ErrUsageLimitReached
}

// Upsert creates or replaces a code. Admin tooling and tests use it.
func (s *PostgresStore) Upsert(ctx context.Context, c Code) error {
	var maxDiscount *string
	if c.MaxDiscountAmount.Valid {
		v := c.MaxDiscountAmount.Decimal.String()
		maxDiscount = &v
	}
	categories := c.ApplicableCategories
	if categories == nil {
		categories = []string{}
	}

	var code string
	err := s.db.QueryRow(ctx, `
		INSERT INTO promo_codes (code, discount_type, discount_value, min_order_amount,
			max_discount_amount, usage_limit, used_count, valid_from, valid_until,
			is_active, applicable_categories)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			discount_type=EXCLUDED.discount_type,
			discount_value=EXCLUDED.discount_value,
			min_order_amount=EXCLUDED.min_order_amount,
			max_discount_amount=EXCLUDED.max_discount_amount,
			usage_limit=EXCLUDED.usage_limit,
			valid_from=EXCLUDED.valid_from,
			valid_until=EXCLUDED.valid_until,
			is_active=EXCLUDED.is_active,
			applicable_categories=EXCLUDED.applicable_categories,
			updated_at=now()
		RETURNING code
	`, NormalizeCode(c.Code), string(c.DiscountType), c.DiscountValue.String(), c.MinOrderAmount.String(),
		maxDiscount, c.UsageLimit, c.UsedCount, c.ValidFrom.UTC(), c.ValidUntil.UTC(),
		c.IsActive, categories).Scan(&code)
	if err != nil {
		return errors.Wrap(err, "upsert promo code")
	}
	return nil
}
