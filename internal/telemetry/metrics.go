package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter.
const SyncMetricsMeterName = "github.com/Dozodouzo/gitnotify/sync"

// SyncMetrics holds the OpenTelemetry instruments for sync pass metrics.
type SyncMetrics struct {
	syncDuration    metric.Float64Histogram
	commitsNotified metric.Int64Counter
	repositories    metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"gitnotify_sync_duration_seconds",
		metric.WithDescription("Duration of sync passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	commitsNotified, err := meter.Int64Counter(
		"gitnotify_commits_notified_total",
		metric.WithDescription("Commits handed to the notification dispatcher"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, err
	}

	repositories, err := meter.Int64Gauge(
		"gitnotify_repositories",
		metric.WithDescription("Number of tracked repositories"),
		metric.WithUnit("{repository}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:    syncDuration,
		commitsNotified: commitsNotified,
		repositories:    repositories,
	}, nil
}

// RecordSyncDuration records the duration and outcome of one sync pass.
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, repository string, duration time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("repository", repository),
		attribute.Bool("success", success),
	}
	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCommitsNotified counts commits handed to the dispatcher.
func (m *SyncMetrics) RecordCommitsNotified(ctx context.Context, repository string, count int64) {
	if m == nil || m.commitsNotified == nil || count == 0 {
		return
	}

	m.commitsNotified.Add(ctx, count, metric.WithAttributes(
		attribute.String("repository", repository)))
}

// RecordRepositories records the current number of tracked repositories.
func (m *SyncMetrics) RecordRepositories(ctx context.Context, count int64) {
	if m == nil || m.repositories == nil {
		return
	}

	m.repositories.Record(ctx, count)
}
