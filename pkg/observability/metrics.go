// Package observability carries the engine's health signal as OpenTelemetry
// metrics: skipped records on read, conflicts detected and resolved, sync
// batch volumes, command retries.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/kamiazya/scopes"

// Metrics holds the engine's instruments. A zero-value Meter from the
// global provider is a no-op, so construction never fails in tests.
type Metrics struct {
	skippedRecords    metric.Int64Counter
	conflictsDetected metric.Int64Counter
	conflictsResolved metric.Int64Counter
	syncBatches       metric.Int64Counter
	syncEvents        metric.Int64Counter
	commandRetries    metric.Int64Counter
}

// New creates metrics on the given meter; nil uses the global provider.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	m := &Metrics{}
	var err error

	if m.skippedRecords, err = meter.Int64Counter("scopes.store.skipped_records",
		metric.WithDescription("Undecodable event rows skipped on query surfaces"),
	); err != nil {
		return nil, err
	}
	if m.conflictsDetected, err = meter.Int64Counter("scopes.sync.conflicts_detected",
		metric.WithDescription("Sync conflicts detected, by kind"),
	); err != nil {
		return nil, err
	}
	if m.conflictsResolved, err = meter.Int64Counter("scopes.sync.conflicts_resolved",
		metric.WithDescription("Sync conflicts resolved, by strategy"),
	); err != nil {
		return nil, err
	}
	if m.syncBatches, err = meter.Int64Counter("scopes.sync.batches",
		metric.WithDescription("Sync batches exchanged, by direction"),
	); err != nil {
		return nil, err
	}
	if m.syncEvents, err = meter.Int64Counter("scopes.sync.events",
		metric.WithDescription("Events exchanged during sync, by direction"),
	); err != nil {
		return nil, err
	}
	if m.commandRetries, err = meter.Int64Counter("scopes.command.retries",
		metric.WithDescription("Command retries after version conflicts"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// MustNew is New panicking on instrument errors; wiring-time only.
func MustNew(meter metric.Meter) *Metrics {
	m, err := New(meter)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) RecordSkipped(ctx context.Context, n uint64) {
	if m == nil {
		return
	}
	m.skippedRecords.Add(ctx, int64(n))
}

func (m *Metrics) ConflictDetected(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.conflictsDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) ConflictResolved(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.conflictsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

func (m *Metrics) SyncBatch(ctx context.Context, direction string, events int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.syncBatches.Add(ctx, 1, attrs)
	m.syncEvents.Add(ctx, int64(events), attrs)
}

func (m *Metrics) CommandRetry(ctx context.Context, commandType string) {
	if m == nil {
		return
	}
	m.commandRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("command", commandType)))
}
