package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/pricing"
)

var ErrNotFound = errors.New("order not found")

// Persistence creates orders. Create is idempotent on the intent's
// IdempotencyKey: a replay returns the id of the order already created.
type Persistence interface {
	Create(ctx context.Context, intent Intent) (string, error)
}

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PromoRedeemer consumes a promo use inside the order transaction.
type PromoRedeemer interface {
	RedeemTx(ctx context.Context, tx pgx.Tx, code string) error
}

type PostgresRepository struct {
	pool   DBPool
	promos PromoRedeemer
	now    func() time.Time
}

func NewPostgresRepository(pool DBPool, promos PromoRedeemer) *PostgresRepository {
	return &PostgresRepository{pool: pool, promos: promos, now: time.Now}
}

// Create writes the order, its items and the promo redemption in one
// transaction. If the redemption fails nothing is written.
func (r *PostgresRepository) Create(ctx context.Context, intent Intent) (string, error) {
	if intent.IdempotencyKey == "" {
		return "", errors.New("idempotency key is required")
	}

	shipping, err := json.Marshal(intent.ShippingAddress)
	if err != nil {
		return "", fmt.Errorf("marshal shipping address: %w", err)
	}
	billing, err := json.Marshal(intent.BillingAddress)
	if err != nil {
		return "", fmt.Errorf("marshal billing address: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := intent.Breakdown.Rounded()
	var promoCode *string
	if intent.PromoCode != "" {
		promoCode = &intent.PromoCode
	}

	orderID := uuid.NewString()
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, idempotency_key, user_id, status, payment_method, payment_reference,
			promo_code, subtotal, shipping_cost, tax, discount_amount, total,
			shipping_address, billing_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13, $14, $15)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, orderID, intent.IdempotencyKey, intent.UserID, string(StatusFor(intent.PaymentMethod)),
		string(intent.PaymentMethod), intent.PaymentReference, promoCode,
		b.Subtotal.String(), b.ShippingCost.String(), b.Tax.String(), b.DiscountAmount.String(), b.Total.String(),
		shipping, billing, r.now().UTC()).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		// already created by an earlier attempt with the same key
		var existing string
		if err := tx.QueryRow(ctx, `SELECT id FROM orders WHERE idempotency_key=$1`, intent.IdempotencyKey).Scan(&existing); err != nil {
			return "", fmt.Errorf("lookup order by idempotency key: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}

	for _, it := range intent.Items {
		if !it.Available || it.Quantity <= 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variant, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
		`, uuid.NewString(), orderID, it.Key.ProductID, it.Key.Variant, it.Name, it.Quantity, it.UnitPrice.String()); err != nil {
			return "", fmt.Errorf("insert order item %s: %w", it.Key, err)
		}
	}

	if intent.PromoCode != "" && r.promos != nil {
		if err := r.promos.RedeemTx(ctx, tx, intent.PromoCode); err != nil {
			return "", fmt.Errorf("redeem promo %s: %w", intent.PromoCode, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit order: %w", err)
	}
	return orderID, nil
}

// GetByID returns ErrNotFound when the order does not exist.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	var (
		o                                  Order
		status, method                     string
		promoCode, paymentRef              *string
		subtotal, shipping, tax, disc, tot string
		shippingAddr, billingAddr          []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, idempotency_key, user_id, status, payment_method, payment_reference, promo_code,
			subtotal::text, shipping_cost::text, tax::text, discount_amount::text, total::text,
			shipping_address, billing_address, created_at
		FROM orders
		WHERE id=$1
	`, id).Scan(&o.ID, &o.IdempotencyKey, &o.UserID, &status, &method, &paymentRef, &promoCode,
		&subtotal, &shipping, &tax, &disc, &tot, &shippingAddr, &billingAddr, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	o.Status = Status(status)
	o.PaymentMethod = PaymentMethod(method)
	if promoCode != nil {
		o.PromoCode = *promoCode
	}
	if paymentRef != nil {
		o.PaymentReference = *paymentRef
	}
	if o.Breakdown, err = parseBreakdown(subtotal, shipping, tax, disc, tot); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shippingAddr, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billingAddr, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT product_id, variant, name, quantity, unit_price::text
		FROM order_items
		WHERE order_id=$1
		ORDER BY product_id, variant
	`, id)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Variant, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func parseBreakdown(values ...string) (pricing.Breakdown, error) {
	parsed := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return pricing.Breakdown{}, fmt.Errorf("parse amount %q: %w", v, err)
		}
		parsed[i] = d
	}
	return pricing.Breakdown{
		Subtotal:       parsed[0],
		ShippingCost:   parsed[1],
		Tax:            parsed[2],
		DiscountAmount: parsed[3],
		Total:          parsed[4],
	}, nil
}
