package cart

import (
	"context"
	"database/sql"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/store"
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// Add increments the line in one statement, so concurrent adds of the same
// product never lose an update.
func (r *CartRepository) Add(ctx context.Context, owner string, productID int64, quantity int) error {
	_, err := store.Runner(ctx, r.db).ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
	`, owner, productID, quantity)
	return err
}

func (r *CartRepository) Set(ctx context.Context, owner string, productID int64, quantity int) error {
	_, err := store.Runner(ctx, r.db).ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity
	`, owner, productID, quantity)
	return err
}

func (r *CartRepository) Delete(ctx context.Context, owner string, productID int64) error {
	_, err := store.Runner(ctx, r.db).ExecContext(ctx, `
		DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2
	`, owner, productID)
	return err
}

func (r *CartRepository) Lines(ctx context.Context, owner string) ([]domain.CartLine, error) {
	rows, err := store.Runner(ctx, r.db).QueryContext(ctx, `
		SELECT user_id, product_id, quantity, created_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY created_at, product_id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lines := []domain.CartLine{}
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.UserID, &l.ProductID, &l.Quantity, &l.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// Clear deletes every line of owner. It only runs inside a transaction.
func (r *CartRepository) Clear(ctx context.Context, owner string) error {
	tx, err := store.RequireTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, owner)
	return err
}

func (r *CartRepository) ItemCount(ctx context.Context, owner string) (int, error) {
	var count int
	err := store.Runner(ctx, r.db).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM cart_items WHERE user_id = $1
	`, owner).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
