package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	apimetric "go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the instruments emitted by the order engine. A nil
// receiver is valid and records nothing, so callers never need to guard.
type EngineMetrics struct {
	ordersPlaced    apimetric.Int64Counter
	ordersFilled    apimetric.Int64Counter
	ordersSkipped   apimetric.Int64Counter
	ordersCancelled apimetric.Int64Counter
	reconciles      apimetric.Int64Counter
	snapshotSaves   apimetric.Int64Counter
}

// NewEngineMetrics registers the engine instruments on the provider's meter.
func NewEngineMetrics(provider apimetric.MeterProvider) (*EngineMetrics, error) {
	meter := provider.Meter("riptide/engine")

	ordersPlaced, err := meter.Int64Counter("riptide.orders.placed",
		apimetric.WithDescription("Orders submitted to the venue"))
	if err != nil {
		return nil, err
	}
	ordersFilled, err := meter.Int64Counter("riptide.orders.filled",
		apimetric.WithDescription("Orders observed fully filled"))
	if err != nil {
		return nil, err
	}
	ordersSkipped, err := meter.Int64Counter("riptide.orders.skipped",
		apimetric.WithDescription("Placements refused by local validation"))
	if err != nil {
		return nil, err
	}
	ordersCancelled, err := meter.Int64Counter("riptide.orders.cancelled",
		apimetric.WithDescription("Orders observed cancelled, rejected or expired"))
	if err != nil {
		return nil, err
	}
	reconciles, err := meter.Int64Counter("riptide.balance.reconciles",
		apimetric.WithDescription("Balance reconciliation passes"))
	if err != nil {
		return nil, err
	}
	snapshotSaves, err := meter.Int64Counter("riptide.snapshot.saves",
		apimetric.WithDescription("State snapshots written to disk"))
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		ordersPlaced:    ordersPlaced,
		ordersFilled:    ordersFilled,
		ordersSkipped:   ordersSkipped,
		ordersCancelled: ordersCancelled,
		reconciles:      reconciles,
		snapshotSaves:   snapshotSaves,
	}, nil
}

// OrderPlaced records one submitted order.
func (m *EngineMetrics) OrderPlaced(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1, apimetric.WithAttributes(attribute.String("side", side)))
}

// OrderFilled records one fully filled order.
func (m *EngineMetrics) OrderFilled(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.ordersFilled.Add(ctx, 1, apimetric.WithAttributes(attribute.String("side", side)))
}

// OrderSkipped records one placement refused before reaching the venue.
func (m *EngineMetrics) OrderSkipped(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.ordersSkipped.Add(ctx, 1, apimetric.WithAttributes(attribute.String("side", side)))
}

// OrderCancelled records one order leaving the book without filling.
func (m *EngineMetrics) OrderCancelled(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.ordersCancelled.Add(ctx, 1, apimetric.WithAttributes(attribute.String("side", side)))
}

// ReconcileRun records one balance reconciliation pass.
func (m *EngineMetrics) ReconcileRun(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconciles.Add(ctx, 1)
}

// SnapshotSaved records one state snapshot write.
func (m *EngineMetrics) SnapshotSaved(ctx context.Context) {
	if m == nil {
		return
	}
	m.snapshotSaves.Add(ctx, 1)
}
