package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/store"
)

// ProductRepository reads the product catalog. It joins the ambient
// transaction when there is one, so checkout prices inside its own tx.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) ListAvailable(ctx context.Context) ([]domain.Product, error) {
	rows, err := store.Runner(ctx, r.db).QueryContext(ctx, `
		SELECT id, name, description, price, image_url, is_available
		FROM products
		WHERE is_available
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.IsAvailable); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

// Get returns nil, nil when the product does not exist.
func (r *ProductRepository) Get(ctx context.Context, id int64) (*domain.Product, error) {
	p := &domain.Product{}

	err := store.Runner(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, name, description, price, image_url, is_available
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.IsAvailable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

// GetMany returns the products that exist among ids, keyed by id.
func (r *ProductRepository) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	products := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	rows, err := store.Runner(ctx, r.db).QueryContext(ctx, `
		SELECT id, name, description, price, image_url, is_available
		FROM products
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.IsAvailable); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}
