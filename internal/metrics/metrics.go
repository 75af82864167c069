package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "library-circulation"

// Metric names
const (
	OperationsTotal         = "circulation_operations_total"
	OperationDuration       = "circulation_operation_duration_seconds"
	RetriesTotal            = "circulation_retries_total"
	RetryDelay              = "circulation_retry_delay_seconds"
	MaxRetriesReachedTotal  = "circulation_max_retries_reached_total"
	DefaulterUpdatesTotal   = "circulation_defaulter_updates_total"
	SnapshotsPublishedTotal = "circulation_snapshots_published_total"
	JobRunsTotal            = "circulation_job_runs_total"
)

// Label keys
const (
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelAttempt   = "attempt_number"
	LabelTopic     = "collection"
	LabelJob       = "job"
)

type Collector interface {
	IncrementCounter(ctx context.Context, name string, labels map[string]string)
	RecordDuration(ctx context.Context, name string, d time.Duration, labels map[string]string)
}

// OTelCollector creates OpenTelemetry instruments on first use: counters for
// IncrementCounter, histograms in seconds for RecordDuration.
type OTelCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

func NewOTelCollector(meter metric.Meter) *OTelCollector {
	return &OTelCollector{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// NewGlobalCollector uses the meter of the globally registered provider,
// which records nothing until an SDK provider is installed.
func NewGlobalCollector() *OTelCollector {
	return NewOTelCollector(otel.Meter(MeterName))
}

func (c *OTelCollector) IncrementCounter(ctx context.Context, name string, labels map[string]string) {
	counter := c.counter(name)
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attributes(labels)...))
}

func (c *OTelCollector) RecordDuration(ctx context.Context, name string, d time.Duration, labels map[string]string) {
	histogram := c.histogram(name)
	if histogram == nil {
		return
	}
	histogram.Record(ctx, d.Seconds(), metric.WithAttributes(attributes(labels)...))
}

func (c *OTelCollector) counter(name string) metric.Int64Counter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, ok := c.counters[name]; ok {
		return counter
	}
	counter, err := c.meter.Int64Counter(name)
	if err != nil {
		return nil
	}
	c.counters[name] = counter
	return counter
}

func (c *OTelCollector) histogram(name string) metric.Float64Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()

	if histogram, ok := c.histograms[name]; ok {
		return histogram
	}
	histogram, err := c.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		return nil
	}
	c.histograms[name] = histogram
	return histogram
}

func attributes(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncrementCounter(context.Context, string, map[string]string)              {}
func (Nop) RecordDuration(context.Context, string, time.Duration, map[string]string) {}
