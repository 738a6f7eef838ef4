// Package pricing captures the unit price of cart lines at checkout time.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/store"
)

// Source is the authoritative, uncached catalog.
type Source interface {
	Get(ctx context.Context, id int64) (*domain.Product, error)
}

// Snapshot is the price of one product as observed at checkout. It is
// frozen into the order line and never recomputed.
type Snapshot struct {
	ProductID  int64
	UnitPrice  decimal.Decimal
	CapturedAt time.Time
}

// PricedLine pairs a cart line with its snapshot.
type PricedLine struct {
	Line     domain.CartLine
	Snapshot Snapshot
}

func (p PricedLine) OrderLine() domain.OrderLine {
	return domain.OrderLine{
		ProductID: p.Line.ProductID,
		Quantity:  p.Line.Quantity,
		UnitPrice: p.Snapshot.UnitPrice,
	}
}

type Snapshotter struct {
	source Source
	now    func() time.Time
}

func NewSnapshotter(source Source) *Snapshotter {
	return &Snapshotter{source: source, now: time.Now}
}

func (s *Snapshotter) Snapshot(ctx context.Context, productID int64) (Snapshot, error) {
	p, err := s.source.Get(ctx, productID)
	if err != nil {
		return Snapshot{}, store.Failure(fmt.Sprintf("read price of product %d", productID), err)
	}
	if p == nil || !p.IsAvailable {
		return Snapshot{}, &domain.ProductUnavailableError{ProductID: productID}
	}

	return Snapshot{
		ProductID:  productID,
		UnitPrice:  p.Price,
		CapturedAt: s.now().UTC(),
	}, nil
}

// SnapshotLines prices every line in order. The first unavailable product
// aborts the whole batch; no line is ever dropped.
func (s *Snapshotter) SnapshotLines(ctx context.Context, lines []domain.CartLine) ([]PricedLine, error) {
	priced := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		snap, err := s.Snapshot(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		priced = append(priced, PricedLine{Line: line, Snapshot: snap})
	}
	return priced, nil
}
