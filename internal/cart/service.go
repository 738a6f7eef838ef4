// Package cart keeps each user's mutable cart until checkout turns it into an
// order.
package cart

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/store"
)

// Store is the persistence the cart needs. Clear must run in a transaction.
type Store interface {
	Add(ctx context.Context, owner string, productID int64, quantity int) error
	Set(ctx context.Context, owner string, productID int64, quantity int) error
	Delete(ctx context.Context, owner string, productID int64) error
	Lines(ctx context.Context, owner string) ([]domain.CartLine, error)
	Clear(ctx context.Context, owner string) error
	ItemCount(ctx context.Context, owner string) (int, error)
}

type Locker interface {
	WithOwnerLock(ctx context.Context, owner string, fn func(ctx context.Context) error) error
}

type Service struct {
	repo    Store
	locker  Locker
	catalog catalog.Lookup
	logger  *slog.Logger
}

func NewService(repo Store, locker Locker, lookup catalog.Lookup, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		catalog: lookup,
		logger:  logger,
	}
}

func (s *Service) Add(ctx context.Context, owner string, productID int64, quantity int) error {
	if quantity < 1 || quantity > domain.MaxLineQuantity {
		return domain.ErrInvalidQuantity
	}

	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return store.Failure("look up product", err)
	}
	if product == nil || !product.IsAvailable {
		return &domain.ProductUnavailableError{ProductID: productID}
	}

	err = s.locker.WithOwnerLock(ctx, owner, func(ctx context.Context) error {
		return s.repo.Add(ctx, owner, productID, quantity)
	})
	if err != nil {
		return writeFailure("add cart item", err)
	}
	return nil
}

// SetQuantity sets the line to exactly quantity. Zero or less removes it.
func (s *Service) SetQuantity(ctx context.Context, owner string, productID int64, quantity int) error {
	if quantity <= 0 {
		return s.Remove(ctx, owner, productID)
	}
	if quantity > domain.MaxLineQuantity {
		return domain.ErrInvalidQuantity
	}

	err := s.locker.WithOwnerLock(ctx, owner, func(ctx context.Context) error {
		return s.repo.Set(ctx, owner, productID, quantity)
	})
	if err != nil {
		return writeFailure("set cart item quantity", err)
	}
	return nil
}

// writeFailure reports a line pushed past the quantity check constraint as
// invalid input and anything else as a storage failure.
func writeFailure(op string, err error) error {
	switch store.Code(err) {
	case "22003", "23514":
		return domain.ErrInvalidQuantity
	}
	return store.Failure(op, err)
}

func (s *Service) Remove(ctx context.Context, owner string, productID int64) error {
	err := s.locker.WithOwnerLock(ctx, owner, func(ctx context.Context) error {
		return s.repo.Delete(ctx, owner, productID)
	})
	if err != nil {
		return store.Failure("remove cart item", err)
	}
	return nil
}

// Lines returns the raw lines with no catalog resolution. Inside a
// transaction it reads through that transaction.
func (s *Service) Lines(ctx context.Context, owner string) ([]domain.CartLine, error) {
	lines, err := s.repo.Lines(ctx, owner)
	if err != nil {
		return nil, store.Failure("read cart lines", err)
	}
	return lines, nil
}

// Clear empties the cart of owner as part of the caller's transaction.
func (s *Service) Clear(ctx context.Context, owner string) error {
	if store.TxFrom(ctx) == nil {
		return store.ErrNoTransaction
	}
	if err := s.repo.Clear(ctx, owner); err != nil {
		return store.Failure("clear cart", err)
	}
	return nil
}

func (s *Service) ItemCount(ctx context.Context, owner string) (int, error) {
	count, err := s.repo.ItemCount(ctx, owner)
	if err != nil {
		return 0, store.Failure("count cart items", err)
	}
	return count, nil
}

// List resolves the cart against the current catalog for display. Prices
// shown here are not the prices checkout will charge.
func (s *Service) List(ctx context.Context, owner string) (*domain.CartView, error) {
	lines, err := s.Lines(ctx, owner)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	products, err := s.catalog.GetMany(ctx, ids)
	if err != nil {
		return nil, store.Failure("resolve cart products", err)
	}

	view := &domain.CartView{Items: make([]domain.CartItemView, 0, len(lines)), Total: decimal.Zero}
	for _, l := range lines {
		item := domain.CartItemView{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			AddedAt:   l.CreatedAt,
			Price:     decimal.Zero,
			Subtotal:  decimal.Zero,
		}
		if p, ok := products[l.ProductID]; ok {
			item.Name = p.Name
			item.Price = p.Price
			item.Available = p.IsAvailable
			if p.IsAvailable {
				item.Subtotal = p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
			}
		} else {
			s.logger.Warn("cart references unknown product", "user_id", owner, "product_id", l.ProductID)
		}

		view.Items = append(view.Items, item)
		view.ItemCount += l.Quantity
		view.Total = view.Total.Add(item.Subtotal)
	}

	return view, nil
}

// Total is the display estimate: current price times quantity over the
// available products.
func (s *Service) Total(ctx context.Context, owner string) (decimal.Decimal, error) {
	view, err := s.List(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return view.Total, nil
}
