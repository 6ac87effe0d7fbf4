package correlation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/louisbranch/vrfrelay/internal/correlation"

type instruments struct {
	delivered     metric.Int64Counter
	orphaned      metric.Int64Counter
	reclaimed     metric.Int64Counter
	outcomes      metric.Int64Counter
	subscriptions metric.Int64UpDownCounter
}

// newInstruments registers counters on the global meter provider. An
// instrument that fails to register is replaced by a no-op.
func newInstruments() instruments {
	meter := otel.Meter(instrumentationName)
	inst := instruments{
		delivered:     noop.Int64Counter{},
		orphaned:      noop.Int64Counter{},
		reclaimed:     noop.Int64Counter{},
		outcomes:      noop.Int64Counter{},
		subscriptions: noop.Int64UpDownCounter{},
	}
	if c, err := meter.Int64Counter("vrfrelay.correlation.delivered_records",
		metric.WithDescription("Completion records matched to a waiter.")); err == nil {
		inst.delivered = c
	}
	if c, err := meter.Int64Counter("vrfrelay.correlation.orphaned_records",
		metric.WithDescription("Completion records with no registered waiter.")); err == nil {
		inst.orphaned = c
	}
	if c, err := meter.Int64Counter("vrfrelay.correlation.reclaimed_records",
		metric.WithDescription("Orphaned records later claimed by a submission that was still awaiting its ID.")); err == nil {
		inst.reclaimed = c
	}
	if c, err := meter.Int64Counter("vrfrelay.correlation.request_outcomes",
		metric.WithDescription("Finished requests by terminal status.")); err == nil {
		inst.outcomes = c
	}
	if c, err := meter.Int64UpDownCounter("vrfrelay.correlation.open_subscriptions",
		metric.WithDescription("Event stream subscriptions currently open.")); err == nil {
		inst.subscriptions = c
	}
	return inst
}

func (i instruments) recordOutcome(ctx context.Context, status Status) {
	i.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}
