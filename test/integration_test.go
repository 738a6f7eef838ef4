//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/notifier"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/pricing"
	"github.com/joao-fontenele/storefront/internal/store"
)

type stack struct {
	db       *sql.DB
	tx       *store.TxRunner
	products *catalog.ProductRepository
	cart     *cart.Service
	orders   *orders.OrderRepository
	workflow *checkout.Workflow
}

func newStack(db *sql.DB, opts ...checkout.Option) *stack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	products := catalog.NewProductRepository(db)
	txRunner := store.NewTxRunner(db)
	cartService := cart.NewService(cart.NewCartRepository(db), txRunner, products, logger)
	orderRepo := orders.NewOrderRepository(db)

	return &stack{
		db:       db,
		tx:       txRunner,
		products: products,
		cart:     cartService,
		orders:   orderRepo,
		workflow: checkout.NewWorkflow(txRunner, cartService, pricing.NewSnapshotter(products), orderRepo, logger, opts...),
	}
}

func validInput() checkout.Input {
	return checkout.Input{
		CustomerName:    "Nguyen Van A",
		PhoneNumber:     "0901234567",
		DeliveryAddress: "12 Le Loi, District 1, Ho Chi Minh City",
	}
}

func TestConcurrentAddsAccumulate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.cart.Add(ctx, "u-concurrent", 1, 1)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	lines, err := s.cart.Lines(ctx, "u-concurrent")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)

	count, err := s.cart.ItemCount(ctx, "u-concurrent")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCartAddValidation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))

	t.Run("line cap holds in the database", func(t *testing.T) {
		owner := "u-cap"
		require.NoError(t, s.cart.Add(ctx, owner, 1, 600))

		err := s.cart.Add(ctx, owner, 1, 600)
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
		assert.NotErrorIs(t, err, domain.ErrStorageFailure)

		count, err := s.cart.ItemCount(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 600, count)
	})

	t.Run("unknown and unavailable products are rejected", func(t *testing.T) {
		owner := "u-unknown"
		_, err := s.db.ExecContext(ctx, `UPDATE products SET is_available = FALSE WHERE id = 4`)
		require.NoError(t, err)

		assert.ErrorIs(t, s.cart.Add(ctx, owner, 404, 1), domain.ErrProductUnavailable)
		assert.ErrorIs(t, s.cart.Add(ctx, owner, 4, 1), domain.ErrProductUnavailable)

		lines, err := s.cart.Lines(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, lines)
	})
}

func TestCheckoutPlacesOrderAndClearsCart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))
	owner := "u-checkout"

	require.NoError(t, s.cart.Add(ctx, owner, 1, 2))
	require.NoError(t, s.cart.Add(ctx, owner, 3, 1))

	receipt, err := s.workflow.Checkout(ctx, owner, validInput())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(85000).Equal(receipt.Total), "total %s", receipt.Total)
	assert.Equal(t, checkout.PhaseCommitted, receipt.Phase)

	lines, err := s.cart.Lines(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, lines)

	order, err := s.orders.Get(ctx, owner, receipt.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Len(t, order.Lines, 2)
	assert.True(t, decimal.NewFromInt(85000).Equal(order.TotalAmount))
	assert.Equal(t, 0, order.TotalAmount.Cmp(domain.SumLines(order.Lines)))

	t.Run("price change does not touch placed order", func(t *testing.T) {
		_, err := s.db.ExecContext(ctx, `UPDATE products SET price = 99000 WHERE id = 1`)
		require.NoError(t, err)

		again, err := s.orders.Get(ctx, owner, receipt.OrderID)
		require.NoError(t, err)
		for _, l := range again.Lines {
			if l.ProductID == 1 {
				assert.True(t, decimal.NewFromInt(25000).Equal(l.UnitPrice), "unit price %s", l.UnitPrice)
			}
		}
		assert.True(t, decimal.NewFromInt(85000).Equal(again.TotalAmount))
	})

	t.Run("other owners cannot read the order", func(t *testing.T) {
		_, err := s.orders.Get(ctx, "u-stranger", receipt.OrderID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCheckoutEmptyCart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))

	_, err := s.workflow.Checkout(ctx, "u-empty", validInput())
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	list, err := s.orders.ListByOwner(ctx, "u-empty")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func quantities(lines []domain.CartLine) map[int64]int {
	out := make(map[int64]int, len(lines))
	for _, l := range lines {
		out[l.ProductID] = l.Quantity
	}
	return out
}

func TestCheckoutUnavailableProductKeepsCart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))

	tests := []struct {
		name    string
		owner   string
		product int64
		retire  string
	}{
		{"marked unavailable", "u-unavailable", 6, `UPDATE products SET is_available = FALSE WHERE id = $1`},
		{"deleted from catalog", "u-deleted", 5, `DELETE FROM products WHERE id = $1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.cart.Add(ctx, tt.owner, 2, 1))
			require.NoError(t, s.cart.Add(ctx, tt.owner, tt.product, 3))

			before, err := s.cart.Lines(ctx, tt.owner)
			require.NoError(t, err)

			_, err = s.db.ExecContext(ctx, tt.retire, tt.product)
			require.NoError(t, err)

			_, err = s.workflow.Checkout(ctx, tt.owner, validInput())
			require.ErrorIs(t, err, domain.ErrProductUnavailable)

			var unavailable *domain.ProductUnavailableError
			require.True(t, errors.As(err, &unavailable))
			assert.Equal(t, tt.product, unavailable.ProductID)

			var abort *checkout.AbortError
			require.True(t, errors.As(err, &abort))
			assert.Equal(t, checkout.PhasePricing, abort.Phase)

			after, err := s.cart.Lines(ctx, tt.owner)
			require.NoError(t, err)
			assert.Equal(t, quantities(before), quantities(after))

			list, err := s.orders.ListByOwner(ctx, tt.owner)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestCheckoutRollsBackWhenLineInsertFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))
	owner := "u-rollback"

	_, err := s.db.ExecContext(ctx, `
		CREATE FUNCTION reject_mocha() RETURNS trigger AS $$
		BEGIN
			IF NEW.product_id = 9 THEN
				RAISE EXCEPTION 'mocha rejected';
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;
		CREATE TRIGGER reject_mocha BEFORE INSERT ON order_items
			FOR EACH ROW EXECUTE FUNCTION reject_mocha();
	`)
	require.NoError(t, err)

	require.NoError(t, s.cart.Add(ctx, owner, 1, 1))
	require.NoError(t, s.cart.Add(ctx, owner, 9, 1))

	_, err = s.workflow.Checkout(ctx, owner, validInput())
	require.ErrorIs(t, err, domain.ErrStorageFailure)

	var abort *checkout.AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, checkout.PhasePersisting, abort.Phase)

	var orderCount int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, owner).Scan(&orderCount))
	assert.Zero(t, orderCount)

	count, err := s.cart.ItemCount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestConcurrentCheckoutPlacesOneOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))
	owner := "u-double"

	require.NoError(t, s.cart.Add(ctx, owner, 4, 2))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.workflow.Checkout(ctx, owner, validInput())
		}()
	}
	wg.Wait()

	var placed, empty int
	for _, err := range errs {
		switch {
		case err == nil:
			placed++
		case errors.Is(err, domain.ErrEmptyCart):
			empty++
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}
	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, empty)

	list, err := s.orders.ListByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClearRequiresTransaction(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))
	owner := "u-clear"

	require.NoError(t, s.cart.Add(ctx, owner, 5, 1))

	err := s.cart.Clear(ctx, owner)
	assert.ErrorIs(t, err, store.ErrNoTransaction)

	count, err := s.cart.ItemCount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.cart.Clear(ctx, owner)
	}))

	count, err = s.cart.ItemCount(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOrderStatusLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := newStack(SetupPostgres(ctx, t))
	owner := "u-status"

	require.NoError(t, s.cart.Add(ctx, owner, 7, 1))
	receipt, err := s.workflow.Checkout(ctx, owner, validInput())
	require.NoError(t, err)

	_, err = s.orders.UpdateStatus(ctx, receipt.OrderID, domain.OrderStatusDelivered)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	for _, next := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusDelivering,
	} {
		order, err := s.orders.UpdateStatus(ctx, receipt.OrderID, next)
		require.NoError(t, err)
		assert.Equal(t, next, order.Status)
		assert.Nil(t, order.DeliveryDate)
	}

	order, err := s.orders.UpdateStatus(ctx, receipt.OrderID, domain.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	assert.NotNil(t, order.DeliveryDate)

	_, err = s.orders.UpdateStatus(ctx, receipt.OrderID, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.orders.UpdateStatus(ctx, "00000000-0000-0000-0000-000000000000", domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type emailCapture struct {
	mu     sync.Mutex
	emails []map[string]string
	got    chan struct{}
}

func (e *emailCapture) handler(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.emails = append(e.emails, req)
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":"sent"}`)

	select {
	case e.got <- struct{}{}:
	default:
	}
}

func (e *emailCapture) getEmails() []map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]map[string]string, len(e.emails))
	copy(result, e.emails)
	return result
}

func TestPlacedOrderIsAnnouncedAndConfirmed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	brokers := SetupKafka(ctx, t)

	producer := messaging.NewProducer(brokers, messaging.TopicOrderPlaced)
	defer func() { _ = producer.Close() }()

	s := newStack(db, checkout.WithPublisher(producer))
	owner := "u-announce"

	require.NoError(t, s.cart.Add(ctx, owner, 8, 1))
	receipt, err := s.workflow.Checkout(ctx, owner, validInput())
	require.NoError(t, err)

	capture := &emailCapture{got: make(chan struct{}, 1)}
	emailMux := http.NewServeMux()
	emailMux.HandleFunc("POST /send", capture.handler)
	emailServer := httptest.NewServer(emailMux)
	defer emailServer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	confirmations := notifier.NewConfirmationHandler(emailServer.URL, &http.Client{Timeout: 10 * time.Second}, nil, logger)

	consumer := messaging.NewConsumer(brokers, messaging.TopicOrderPlaced, "storefront-test",
		messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Consume(consumeCtx, confirmations.Handle) }()

	select {
	case <-capture.got:
	case <-ctx.Done():
		t.Fatal("timed out waiting for confirmation email")
	}

	emails := capture.getEmails()
	require.Len(t, emails, 1)
	assert.Equal(t, owner+"@example.com", emails[0]["to"])
	assert.Contains(t, emails[0]["subject"], receipt.OrderID)
	assert.True(t, strings.Contains(emails[0]["body"], "42000 VND"), "body %q", emails[0]["body"])
}
