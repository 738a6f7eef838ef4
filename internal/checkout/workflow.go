// Package checkout turns a user's cart into an order. Pricing, order
// creation and cart clearing happen in one transaction holding the owner's
// cart lock, so either all of it is visible or none of it is.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/pricing"
	"github.com/joao-fontenele/storefront/internal/store"
)

var tracer = otel.Tracer("storefront/checkout")

type Phase string

const (
	PhaseValidating Phase = "validating"
	PhasePricing    Phase = "pricing"
	PhasePersisting Phase = "persisting"
	PhaseCommitted  Phase = "committed"
	PhaseAborted    Phase = "aborted"
)

// AbortError reports the phase a checkout failed in. Nothing it did is
// visible afterwards.
type AbortError struct {
	Phase Phase
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("checkout aborted while %s: %v", e.Phase, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

type Receipt struct {
	OrderID   string          `json:"order_id"`
	Total     decimal.Decimal `json:"total"`
	OrderDate time.Time       `json:"order_date"`
	Phase     Phase           `json:"phase"`
}

type Cart interface {
	Lines(ctx context.Context, owner string) ([]domain.CartLine, error)
	Clear(ctx context.Context, owner string) error
}

type Pricer interface {
	SnapshotLines(ctx context.Context, lines []domain.CartLine) ([]pricing.PricedLine, error)
}

type OrderWriter interface {
	Create(ctx context.Context, order *domain.Order) error
}

type Locker interface {
	WithOwnerLock(ctx context.Context, owner string, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Workflow struct {
	locker    Locker
	cart      Cart
	pricer    Pricer
	orders    OrderWriter
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time
	metrics   *instruments
	logger    *slog.Logger
}

type Option func(*Workflow)

// WithPublisher announces committed orders. Without one nothing is published.
func WithPublisher(p Publisher) Option {
	return func(w *Workflow) {
		w.publisher = p
	}
}

// WithTimeout bounds the whole checkout transaction.
func WithTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		w.timeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		w.now = now
	}
}

func NewWorkflow(locker Locker, cart Cart, pricer Pricer, orders OrderWriter, logger *slog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		locker:  locker,
		cart:    cart,
		pricer:  pricer,
		orders:  orders,
		now:     time.Now,
		metrics: defaultInstruments(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Checkout places an order for everything in owner's cart. It is not
// retried here; a caller may retry an aborted checkout since nothing was
// written.
func (w *Workflow) Checkout(ctx context.Context, owner string, in Input) (*Receipt, error) {
	started := time.Now()

	ctx, span := tracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("user.id", owner)),
	)
	defer span.End()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	in = in.normalize()
	phase := PhaseValidating
	var order *domain.Order

	err := w.locker.WithOwnerLock(ctx, owner, func(ctx context.Context) error {
		lines, err := w.cart.Lines(ctx, owner)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}
		if err := in.Validate(); err != nil {
			return err
		}

		phase = PhasePricing
		span.AddEvent(string(phase))
		priced, err := w.pricer.SnapshotLines(ctx, lines)
		if err != nil {
			return err
		}

		phase = PhasePersisting
		span.AddEvent(string(phase))
		orderLines := make([]domain.OrderLine, len(priced))
		for i, p := range priced {
			orderLines[i] = p.OrderLine()
		}

		order = &domain.Order{
			UserID:          owner,
			CustomerName:    in.CustomerName,
			PhoneNumber:     in.PhoneNumber,
			DeliveryAddress: in.DeliveryAddress,
			Notes:           in.Notes,
			Lines:           orderLines,
			TotalAmount:     domain.SumLines(orderLines),
			Status:          domain.OrderStatusPending,
			OrderDate:       w.now().UTC(),
		}
		if err := w.orders.Create(ctx, order); err != nil {
			return store.Failure("create order", err)
		}

		return w.cart.Clear(ctx, owner)
	})
	if err != nil {
		err = classify(err)
		w.metrics.record(ctx, phase, resultOf(err), started)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if domain.IsUserError(err) {
			w.logger.Info("checkout rejected", "user_id", owner, "phase", phase, "reason", err)
		} else {
			w.logger.Error("checkout failed", "user_id", owner, "phase", phase, "error", err, "sqlstate", store.Code(err))
		}
		return nil, &AbortError{Phase: phase, Err: err}
	}

	w.metrics.record(ctx, PhaseCommitted, "committed", started)
	span.SetAttributes(attribute.String("order.id", order.ID))
	w.logger.Info("order placed", "order_id", order.ID, "user_id", owner, "total", order.TotalAmount.String())

	w.announce(ctx, order)

	return &Receipt{
		OrderID:   order.ID,
		Total:     order.TotalAmount,
		OrderDate: order.OrderDate,
		Phase:     PhaseCommitted,
	}, nil
}

// announce publishes the committed order. A failure here is logged only;
// the order already exists.
func (w *Workflow) announce(ctx context.Context, order *domain.Order) {
	if w.publisher == nil {
		return
	}

	event := domain.OrderPlacedEvent{
		OrderID:      order.ID,
		UserID:       order.UserID,
		CustomerName: order.CustomerName,
		PhoneNumber:  order.PhoneNumber,
		Lines:        order.Lines,
		TotalAmount:  order.TotalAmount,
		Timestamp:    order.OrderDate,
	}
	if err := w.publisher.Publish(ctx, order.ID, event); err != nil {
		w.logger.Error("failed to publish order placed event", "error", err, "order_id", order.ID)
	}
}

func classify(err error) error {
	if domain.IsUserError(err) || errors.Is(err, domain.ErrStorageFailure) {
		return err
	}
	return store.Failure("checkout", err)
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInvalidCheckoutInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrProductUnavailable):
		return "product_unavailable"
	default:
		return "storage_failure"
	}
}
