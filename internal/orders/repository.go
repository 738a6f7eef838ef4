package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/store"
)

type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

// Create inserts the order header and its lines in the ambient transaction
// and assigns order.ID. The caller commits.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := store.RequireTx(ctx)
	if err != nil {
		return err
	}

	order.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, customer_name, phone_number, delivery_address, notes,
			total_amount, status, order_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, order.ID, order.UserID, order.CustomerName, order.PhoneNumber, order.DeliveryAddress,
		order.Notes, order.TotalAmount, order.Status, order.OrderDate)
	if err != nil {
		return err
	}

	for _, line := range order.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, order.ID, line.ProductID, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}

	return nil
}

// Get returns the order only if owner placed it, else domain.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, owner, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	db := store.Runner(ctx, r.db)
	order, err := scanOrder(db.QueryRowContext(ctx, `
		SELECT id, user_id, customer_name, phone_number, delivery_address, notes,
			total_amount, status, order_date, delivery_date
		FROM orders
		WHERE id = $1 AND user_id = $2
	`, id, owner))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// ListByOwner returns owner's orders, most recent first, loading all lines
// in one batched query.
func (r *OrderRepository) ListByOwner(ctx context.Context, owner string) ([]domain.Order, error) {
	db := store.Runner(ctx, r.db)
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, customer_name, phone_number, delivery_address, notes,
			total_amount, status, order_date, delivery_date
		FROM orders
		WHERE user_id = $1
		ORDER BY order_date DESC, id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Lines = []domain.OrderLine{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := itemRows.Scan(&orderID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Lines = append(order.Lines, line)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// UpdateStatus moves the order to status if the transition is allowed and
// stamps the delivery date when it reaches delivered.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidTransition
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	var owner string
	err := store.NewTxRunner(r.db).WithTx(ctx, func(ctx context.Context) error {
		tx, err := store.RequireTx(ctx)
		if err != nil {
			return err
		}

		var current domain.OrderStatus
		err = tx.QueryRowContext(ctx, `
			SELECT user_id, status FROM orders WHERE id = $1 FOR UPDATE
		`, id).Scan(&owner, &current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}

		if !current.CanTransitionTo(status) {
			return domain.ErrInvalidTransition
		}

		var deliveredAt *time.Time
		if status == domain.OrderStatusDelivered {
			now := r.now().UTC()
			deliveredAt = &now
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, delivery_date = COALESCE($2, delivery_date), updated_at = NOW()
			WHERE id = $3
		`, status, deliveredAt, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, owner, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order        domain.Order
		notes        sql.NullString
		deliveryDate sql.NullTime
	)
	err := row.Scan(&order.ID, &order.UserID, &order.CustomerName, &order.PhoneNumber,
		&order.DeliveryAddress, &notes, &order.TotalAmount, &order.Status, &order.OrderDate, &deliveryDate)
	if err != nil {
		return nil, err
	}
	if notes.Valid {
		order.Notes = &notes.String
	}
	if deliveryDate.Valid {
		order.DeliveryDate = &deliveryDate.Time
	}
	return &order, nil
}
