package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/codec"
)

// job is a dequeued event owned by one worker
type job struct {
	token          uint64
	subscriptionID string
	queued         *queuedEvent
}

// runWorker drains ready events until ctx is cancelled. The shutdown signal is
// checked once per iteration, so a delivery in progress always completes.
func (e *Engine) runWorker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Delivery worker started")
	defer logger.Debug("Delivery worker stopped")

	idle := time.NewTimer(0)
	defer idle.Stop()
	<-idle.C

	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		j, ok := e.nextReady(workerID)
		if !ok {
			<-e.sem
			idle.Reset(e.config.IdleInterval)
			select {
			case <-idle.C:
			case <-ctx.Done():
				return
			}
			continue
		}

		// Detached so that stopping the engine never aborts a hand-off.
		e.deliver(context.WithoutCancel(ctx), j)
		<-e.sem
	}
}

// nextReady atomically dequeues the next ready event, scanning subscriptions
// from a rotating offset so that one busy queue cannot starve the others.
func (e *Engine) nextReady(workerID int) (job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.state.order)
	if n == 0 {
		return job{}, false
	}
	now := e.clock.Now()
	start := e.state.cursor % n

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		id := e.state.order[idx]
		sub := e.state.subscriptions[id]

		qe := sub.queue.popReady(now)
		if qe == nil {
			continue
		}
		sub.stats.SetQueueSize(sub.queue.Len())
		e.state.cursor = idx + 1

		e.state.nextInFlight++
		token := e.state.nextInFlight
		e.state.inFlight[token] = inFlightDelivery{
			eventID:        qe.event.ID,
			subscriptionID: id,
			workerID:       workerID,
			startedAt:      now,
			attempt:        qe.attempts,
		}
		e.instruments.UpdateInFlight(1)
		return job{token: token, subscriptionID: id, queued: qe}, true
	}
	return job{}, false
}

// deliver runs one attempt and hands the outcome to the retry scheduler
func (e *Engine) deliver(ctx context.Context, j job) {
	ev := j.queued.event
	ctx, span := e.tracer.Start(ctx, "Engine.deliver",
		trace.WithAttributes(
			attribute.String("subscription.id", j.subscriptionID),
			attribute.String("event.id", ev.ID.String()),
			attribute.String("event.type", ev.EventType),
			attribute.Int("delivery.attempt", int(j.queued.attempts)),
		),
	)
	defer span.End()

	start := e.clock.Now()
	result := e.attempt(ctx, j)
	elapsed := e.clock.Now().Sub(start)

	span.SetAttributes(attribute.String("delivery.status", result.Status.String()))
	if result.Status != delivery.StatusSuccess {
		span.SetStatus(codes.Error, result.String())
	}
	e.instruments.RecordDelivery(ctx, float64(elapsed)/float64(time.Millisecond), j.subscriptionID, result.Status.String())

	e.handleOutcome(ctx, j, result, elapsed)
}

// attempt executes the outbound pipeline for one job. Stage failures become
// Failed results without transmission.
func (e *Engine) attempt(ctx context.Context, j job) delivery.DeliveryResult {
	e.mu.RLock()
	sub, ok := e.state.subscriptions[j.subscriptionID]
	var cfg delivery.SubscriptionConfig
	if ok {
		cfg = sub.config
	}
	e.mu.RUnlock()

	if !ok {
		return delivery.Failed("subscription not found")
	}
	if !e.conns.IsPluginConnected(ctx, cfg.PluginID) {
		return delivery.Unavailable()
	}

	serialized, err := e.pipeline.Process(j.queued.event, codec.Options{
		Compress: cfg.DeliveryOptions.CompressionEnabled,
		Encrypt:  cfg.DeliveryOptions.EncryptionEnabled,
	})
	if err != nil {
		return delivery.Failed(err.Error())
	}
	serialized.Metadata[delivery.MetadataSubscriptionID] = cfg.ID
	serialized.Metadata[delivery.MetadataAckEnabled] = strconv.FormatBool(cfg.DeliveryOptions.AckEnabled)

	result, err := e.conns.DeliverEventToPlugin(ctx, cfg.PluginID, serialized)
	if err != nil {
		return delivery.Failed(err.Error())
	}
	return result
}
