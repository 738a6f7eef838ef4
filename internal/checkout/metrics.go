package checkout

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	outcomes, err := meter.Int64Counter("storefront.checkout.outcomes",
		metric.WithDescription("Checkout attempts by final phase and result"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("storefront.checkout.duration",
		metric.WithDescription("Checkout duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{outcomes: outcomes, duration: duration}, nil
}

func defaultInstruments() *instruments {
	inst, err := newInstruments(otel.Meter("storefront/checkout"))
	if err != nil {
		otel.Handle(err)
		return nil
	}
	return inst
}

func (i *instruments) record(ctx context.Context, phase Phase, result string, started time.Time) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.String("result", result),
	)
	i.outcomes.Add(ctx, 1, attrs)
	i.duration.Record(ctx, time.Since(started).Seconds(), attrs)
}
