package reporting

import (
	"context"
	"fmt"
	"time"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/observability"
	"strategy-ledger/internal/storage"
)

// Batch is what one collection run publishes.
type Batch struct {
	CorrelationID string
	CollectedAt   time.Time
	Snapshots     []domain.PerformanceSnapshot
	Summaries     map[string]*domain.PerformanceSummary // by strategy name
}

// Publisher pushes a batch to one metrics sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, b *Batch) error
}

func publishPhase(p Publisher) string {
	return "publish_" + p.Name()
}

// PrometheusPublisher sets per-strategy gauges.
type PrometheusPublisher struct {
	metrics *observability.Metrics
}

// NewPrometheusPublisher creates a publisher over m.
func NewPrometheusPublisher(m *observability.Metrics) *PrometheusPublisher {
	return &PrometheusPublisher{metrics: m}
}

func (p *PrometheusPublisher) Name() string { return "prometheus" }

func (p *PrometheusPublisher) Publish(_ context.Context, b *Batch) error {
	for _, snap := range b.Snapshots {
		p.metrics.PublishSnapshot(snap, b.Summaries[snap.StrategyName])
	}
	return nil
}

// SnapshotStorePublisher appends rows to a performance snapshot table.
type SnapshotStorePublisher struct {
	name  string
	store storage.PerformanceSnapshotStore
}

// NewSnapshotStorePublisher creates a publisher over store, reported under name.
func NewSnapshotStorePublisher(name string, store storage.PerformanceSnapshotStore) *SnapshotStorePublisher {
	return &SnapshotStorePublisher{name: name, store: store}
}

func (p *SnapshotStorePublisher) Name() string { return p.name }

func (p *SnapshotStorePublisher) Publish(ctx context.Context, b *Batch) error {
	if len(b.Snapshots) == 0 {
		return nil
	}
	if err := p.store.InsertBulk(ctx, b.Snapshots); err != nil {
		return fmt.Errorf("insert %d snapshots: %w", len(b.Snapshots), err)
	}
	return nil
}
