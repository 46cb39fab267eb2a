package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the delivery engine
const MeterName = "plugin-event-delivery"

// Registry holds the delivery engine's OpenTelemetry instruments. A nil
// *Registry is valid and records nothing.
type Registry struct {
	meter metric.Meter

	EventsQueued     metric.Int64Counter
	EventsDropped    metric.Int64Counter
	EventsRejected   metric.Int64Counter
	BatchesFlushed   metric.Int64Counter
	DeliveryAttempts metric.Int64Counter
	DeliveryDuration metric.Float64Histogram
	RetriesScheduled metric.Int64Counter
	DeadLettered     metric.Int64Counter
	InFlight         metric.Int64ObservableGauge

	mu       sync.RWMutex
	inFlight int64
}

// NewRegistry creates the instruments on the global meter provider
func NewRegistry() (*Registry, error) {
	return NewRegistryWithMeter(otel.Meter(MeterName))
}

// NewRegistryWithMeter creates the instruments on meter
func NewRegistryWithMeter(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	if err := r.initQueueMetrics(); err != nil {
		return nil, err
	}
	if err := r.initDeliveryMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initQueueMetrics() error {
	var err error

	r.EventsQueued, err = r.meter.Int64Counter(
		"ped.queue.events_queued_total",
		metric.WithDescription("Events admitted to subscription queues"),
	)
	if err != nil {
		return err
	}

	r.EventsDropped, err = r.meter.Int64Counter(
		"ped.queue.events_dropped_total",
		metric.WithDescription("Events evicted or discarded by backpressure"),
	)
	if err != nil {
		return err
	}

	r.EventsRejected, err = r.meter.Int64Counter(
		"ped.queue.events_rejected_total",
		metric.WithDescription("Events refused at admission"),
	)
	if err != nil {
		return err
	}

	r.BatchesFlushed, err = r.meter.Int64Counter(
		"ped.queue.batches_flushed_total",
		metric.WithDescription("Synthetic batch events pushed onto queues"),
	)
	return err
}

func (r *Registry) initDeliveryMetrics() error {
	var err error

	r.DeliveryAttempts, err = r.meter.Int64Counter(
		"ped.delivery.attempts_total",
		metric.WithDescription("Delivery attempts by outcome"),
	)
	if err != nil {
		return err
	}

	r.DeliveryDuration, err = r.meter.Float64Histogram(
		"ped.delivery.duration",
		metric.WithDescription("Duration of delivery attempts in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.RetriesScheduled, err = r.meter.Int64Counter(
		"ped.delivery.retries_total",
		metric.WithDescription("Failed deliveries scheduled for retry"),
	)
	if err != nil {
		return err
	}

	r.DeadLettered, err = r.meter.Int64Counter(
		"ped.delivery.dead_lettered_total",
		metric.WithDescription("Deliveries that failed permanently"),
	)
	if err != nil {
		return err
	}

	r.InFlight, err = r.meter.Int64ObservableGauge(
		"ped.delivery.in_flight",
		metric.WithDescription("Deliveries currently handed to the transport"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.inFlight)
			return nil
		}),
	)
	return err
}

// UpdateInFlight adjusts the in-flight gauge by delta
func (r *Registry) UpdateInFlight(delta int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight += delta
}

// RecordQueued records an admitted event
func (r *Registry) RecordQueued(ctx context.Context, subscriptionID string) {
	if r == nil {
		return
	}
	r.EventsQueued.Add(ctx, 1, metric.WithAttributes(attribute.String("subscription_id", subscriptionID)))
}

// RecordDropped records events lost to backpressure
func (r *Registry) RecordDropped(ctx context.Context, subscriptionID, strategy string) {
	if r == nil {
		return
	}
	r.EventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subscription_id", subscriptionID),
		attribute.String("strategy", strategy),
	))
}

// RecordRejected records an admission refusal
func (r *Registry) RecordRejected(ctx context.Context, subscriptionID, code string) {
	if r == nil {
		return
	}
	r.EventsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subscription_id", subscriptionID),
		attribute.String("code", code),
	))
}

// RecordBatchFlush records a flushed batch of size events
func (r *Registry) RecordBatchFlush(ctx context.Context, subscriptionID string, size int) {
	if r == nil {
		return
	}
	r.BatchesFlushed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subscription_id", subscriptionID),
		attribute.Int("batch_size", size),
	))
}

// RecordDelivery records one delivery attempt
func (r *Registry) RecordDelivery(ctx context.Context, durationMs float64, subscriptionID, status string) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("subscription_id", subscriptionID),
		attribute.String("status", status),
	)
	r.DeliveryDuration.Record(ctx, durationMs, attrs)
	r.DeliveryAttempts.Add(ctx, 1, attrs)
}

// RecordRetry records a scheduled retry
func (r *Registry) RecordRetry(ctx context.Context, subscriptionID string) {
	if r == nil {
		return
	}
	r.RetriesScheduled.Add(ctx, 1, metric.WithAttributes(attribute.String("subscription_id", subscriptionID)))
}

// RecordDeadLetter records a permanent failure
func (r *Registry) RecordDeadLetter(ctx context.Context, subscriptionID, status string) {
	if r == nil {
		return
	}
	r.DeadLettered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subscription_id", subscriptionID),
		attribute.String("status", status),
	))
}
