package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// throughputWindow is the divisor used for events-per-second
const throughputWindow = 60.0

func (e *Engine) runMetricsAggregator(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(e.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.CollectMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// runBatchFlusher flushes batches whose wait time elapsed without a new event
// arriving, independently of the metrics cadence.
func (e *Engine) runBatchFlusher(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(e.config.BatchFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := e.FlushExpiredBatches(ctx); n > 0 {
				e.logger.Debug("Flushed expired batches", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// CollectMetrics recomputes the system-wide metrics from the per-subscription
// statistics. Per-subscription statistics are only read.
func (e *Engine) CollectMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := &e.state.metrics
	var (
		depth     int
		completed uint64
		failed    uint64
		retries   uint64
		avgSum    float64
	)
	for _, sub := range e.state.subscriptions {
		depth += sub.queue.Len()
		completed += sub.stats.TotalDelivered
		failed += sub.stats.TotalFailed
		retries += sub.stats.TotalRetries
		avgSum += sub.stats.AvgDeliveryTimeMs
	}

	n := len(e.state.subscriptions)
	m.TotalQueueDepth = depth
	m.ActiveQueues = uint64(n)
	m.TotalDeliveriesCompleted = completed
	m.TotalDeliveriesFailed = failed
	m.TotalRetries = retries
	m.InFlightDeliveries = len(e.state.inFlight)

	m.AvgDeliveryTimeMs = 0
	if n > 0 {
		m.AvgDeliveryTimeMs = avgSum / float64(n)
	}
	m.ErrorRate = 0
	if total := completed + failed; total > 0 {
		m.ErrorRate = float64(failed) / float64(total)
	}
	m.ThroughputEventsPerSec = float64(m.TotalEventsProcessed) / throughputWindow
	m.LastUpdated = e.clock.Now()
}
