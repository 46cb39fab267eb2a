// Package engine delivers daemon events to plugin subscriptions. It owns the
// per-subscription queues, enforces backpressure and batching on admission,
// drains queues with a worker pool and schedules retries on failure.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/codec"
	"github.com/davidleathers/plugin-event-delivery/internal/metrics"
)

// inFlightDelivery is kept while a worker executes a delivery
type inFlightDelivery struct {
	eventID        uuid.UUID
	subscriptionID string
	workerID       int
	startedAt      time.Time
	attempt        uint32
}

// state is everything guarded by Engine.mu
type state struct {
	subscriptions map[string]*subscription
	order         []string
	cursor        int
	metrics       delivery.DeliveryMetrics
	inFlight      map[uint64]inFlightDelivery
	nextInFlight  uint64
	running       bool
}

// Engine is the plugin event delivery engine
type Engine struct {
	config      Config
	conns       ConnectionManager
	pipeline    *codec.Pipeline
	deadLetters DeadLetterSink
	logger      *zap.Logger
	tracer      trace.Tracer
	instruments *metrics.Registry
	clock       delivery.Clock
	handlers    map[string]BackpressureHandler

	mu    sync.RWMutex
	state state

	// lifecycle is guarded by lifecycleMu so Start and Stop never race
	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          *sync.WaitGroup
	sem         chan struct{}

	closeOnce sync.Once
	released  chan struct{}
}

// NewEngine creates a stopped engine
func NewEngine(cfg Config, conns ConnectionManager, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if conns == nil {
		return nil, ErrInvalidConfig.WithDetails(map[string]interface{}{"field": "connection_manager"})
	}

	e := &Engine{
		config:      cfg,
		conns:       conns,
		deadLetters: discardSink{},
		logger:      zap.NewNop(),
		tracer:      noop.NewTracerProvider().Tracer("engine"),
		clock:       delivery.RealClock{},
		handlers:    make(map[string]BackpressureHandler),
		sem:         make(chan struct{}, cfg.MaxConcurrentDeliveries),
		released:    make(chan struct{}),
		state: state{
			subscriptions: make(map[string]*subscription),
			inFlight:      make(map[uint64]inFlightDelivery),
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.pipeline == nil {
		p, err := codec.NewPipeline(cfg.Pipeline)
		if err != nil {
			return nil, ErrInvalidConfig.WithCause(err)
		}
		e.pipeline = p
	}
	return e, nil
}

// Start launches the worker pool and the metrics aggregator. Calling Start on
// a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	if e.state.running {
		e.mu.Unlock()
		return nil
	}
	e.state.running = true
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	wg := &sync.WaitGroup{}
	e.cancel, e.wg = cancel, wg

	for i := 0; i < e.config.WorkerCount; i++ {
		wg.Add(1)
		go e.runWorker(runCtx, wg, i)
	}
	wg.Add(2)
	go e.runMetricsAggregator(runCtx, wg)
	go e.runBatchFlusher(runCtx, wg)

	e.logger.Info("Delivery engine started",
		zap.Int("workers", e.config.WorkerCount),
		zap.Int("max_concurrent_deliveries", e.config.MaxConcurrentDeliveries),
	)
	return nil
}

// Stop signals workers to exit after their current delivery and waits for
// them, bounded by ctx. Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	if !e.state.running {
		e.mu.Unlock()
		return nil
	}
	e.state.running = false
	e.mu.Unlock()

	e.cancel()

	wg := e.wg
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Delivery engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("Delivery engine stop timed out waiting for workers", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// IsRunning reports whether the worker pool is running
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.running
}

// GetSubscriptionStats returns a copy of the statistics of one subscription
func (e *Engine) GetSubscriptionStats(id string) (delivery.DeliveryStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sub, ok := e.state.subscriptions[id]
	if !ok {
		return delivery.DeliveryStats{}, false
	}
	stats := sub.stats
	if stats.LastActivity != nil {
		t := *stats.LastActivity
		stats.LastActivity = &t
	}
	return stats, true
}

// GetMetrics returns the system-wide metrics as of the last aggregation,
// with live in-flight and subscription counters.
func (e *Engine) GetMetrics() delivery.DeliveryMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m := e.state.metrics
	m.InFlightDeliveries = len(e.state.inFlight)
	return m
}

// GetQueueInfo returns a view of every subscription queue
func (e *Engine) GetQueueInfo() map[string]delivery.QueueInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]delivery.QueueInfo, len(e.state.subscriptions))
	for id, sub := range e.state.subscriptions {
		out[id] = sub.info()
	}
	return out
}

// PluginHealth returns the connection manager's view of a plugin
func (e *Engine) PluginHealth(ctx context.Context, pluginID string) (*delivery.PluginHealth, bool) {
	return e.conns.GetPluginHealth(ctx, pluginID)
}

// Close stops the engine and releases pipeline resources. If ctx expires
// while workers are still delivering, the resources are released once the
// last worker exits.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Stop(ctx)

	e.lifecycleMu.Lock()
	wg := e.wg
	e.lifecycleMu.Unlock()

	if err == nil || wg == nil {
		e.releasePipeline()
		return err
	}
	go func() {
		wg.Wait()
		e.releasePipeline()
	}()
	return err
}

func (e *Engine) releasePipeline() {
	e.closeOnce.Do(func() {
		e.pipeline.Close()
		close(e.released)
		e.logger.Debug("Released pipeline resources")
	})
}
