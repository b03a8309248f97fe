package cart

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresRepository stores the server copy of a user's cart.
type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Load(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, variant, quantity
		FROM server_cart_items
		WHERE user_id=$1
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key.ProductID, &e.Key.Variant, &e.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Save replaces the user's server cart with entries in a single transaction.
func (r *PostgresRepository) Save(ctx context.Context, userID string, entries []Entry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM server_cart_items WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}

	for i, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO server_cart_items (user_id, product_id, variant, quantity, position)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, e.Key.ProductID, e.Key.Variant, e.Quantity, i); err != nil {
			return fmt.Errorf("insert cart item %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cart: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM server_cart_items WHERE user_id=$1`, userID)
	return err
}
