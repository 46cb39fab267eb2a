package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// subscription is the registry entry of one subscription
type subscription struct {
	config   delivery.SubscriptionConfig
	capacity int
	queue    eventQueue
	batch    *batchState
	stats    delivery.DeliveryStats
	sequence uint64

	// warnLimiter throttles backpressure warnings for this queue
	warnLimiter *rate.Limiter
}

func (s *subscription) enqueue(ev delivery.Event, now time.Time) {
	s.sequence++
	s.queue.push(&queuedEvent{
		event:    ev,
		queuedAt: now,
		priority: ev.Priority,
		sequence: s.sequence,
	})
	s.stats.SetQueueSize(s.queue.Len())
}

func (s *subscription) info() delivery.QueueInfo {
	info := delivery.QueueInfo{
		SubscriptionID: s.config.ID,
		QueueSize:      s.queue.Len(),
		Capacity:       s.capacity,
		Ordering:       s.config.DeliveryOptions.Ordering,
		Backpressure:   s.config.DeliveryOptions.Backpressure,
		HasBatch:       s.batch != nil,
	}
	if s.batch != nil {
		info.PendingBatchSize = len(s.batch.current)
	}
	if s.stats.LastActivity != nil {
		t := *s.stats.LastActivity
		info.LastActivity = &t
	}
	return info
}

// RegisterSubscription creates the queue of a validated subscription
func (e *Engine) RegisterSubscription(cfg delivery.SubscriptionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	capacity := cfg.DeliveryOptions.MaxEventSize
	if e.config.MaxQueueSize > 0 && capacity > e.config.MaxQueueSize {
		capacity = e.config.MaxQueueSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.state.subscriptions[cfg.ID]; exists {
		return ErrAlreadyRegistered.WithDetails(map[string]interface{}{"subscription_id": cfg.ID})
	}

	sub := &subscription{
		config:      cfg,
		capacity:    capacity,
		queue:       newEventQueue(cfg.DeliveryOptions.Ordering),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	if cfg.Type.IsBatched() {
		sub.batch = newBatchState(cfg.Type, e.clock.Now())
	}

	e.state.subscriptions[cfg.ID] = sub
	e.state.order = append(e.state.order, cfg.ID)
	e.state.metrics.TotalSubscriptions++
	e.state.metrics.ActiveQueues++

	e.logger.Info("Registered subscription",
		zap.String("subscription_id", cfg.ID),
		zap.String("plugin_id", cfg.PluginID),
		zap.String("type", cfg.Type.Kind.String()),
		zap.String("ordering", cfg.DeliveryOptions.Ordering.String()),
		zap.Int("capacity", capacity),
	)
	return nil
}

// UnregisterSubscription removes a subscription. Pending events and any open
// batch are discarded. Deliveries already in flight finish but their outcome
// is not recorded.
func (e *Engine) UnregisterSubscription(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub, ok := e.state.subscriptions[id]
	if !ok {
		return subscriptionNotFound(id)
	}

	delete(e.state.subscriptions, id)
	for i, sid := range e.state.order {
		if sid == id {
			e.state.order = append(e.state.order[:i], e.state.order[i+1:]...)
			break
		}
	}
	if e.state.metrics.ActiveQueues > 0 {
		e.state.metrics.ActiveQueues--
	}

	pending := sub.queue.Len()
	if sub.batch != nil {
		pending += len(sub.batch.current)
	}
	e.logger.Info("Unregistered subscription",
		zap.String("subscription_id", id),
		zap.Int("discarded_events", pending),
	)
	return nil
}

// QueueEvent admits an event to a subscription. Admission errors are
// ErrSubscriptionNotFound and *BackpressureError.
func (e *Engine) QueueEvent(ctx context.Context, subscriptionID string, event delivery.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub, ok := e.state.subscriptions[subscriptionID]
	if !ok {
		return subscriptionNotFound(subscriptionID)
	}
	now := e.clock.Now()

	if sub.batch != nil {
		if err := e.accumulate(ctx, sub, event, now); err != nil {
			return err
		}
	} else if err := e.admit(ctx, sub, event, now); err != nil {
		return err
	}

	sub.stats.TotalQueued++
	e.state.metrics.TotalEventsProcessed++
	e.instruments.RecordQueued(ctx, subscriptionID)
	return nil
}

// accumulate appends event to the open batch and flushes it when due. If the
// flush is refused by backpressure the event is taken back out and the batch
// stays pending.
func (e *Engine) accumulate(ctx context.Context, sub *subscription, event delivery.Event, now time.Time) error {
	b := sub.batch
	b.current = append(b.current, event)
	if !b.due(now) {
		return nil
	}
	if err := e.flushBatch(ctx, sub, now); err != nil {
		b.current = b.current[:len(b.current)-1]
		return err
	}
	return nil
}

// flushBatch pushes the batch envelope through admission. The caller holds e.mu.
func (e *Engine) flushBatch(ctx context.Context, sub *subscription, now time.Time) error {
	b := sub.batch
	envelope, err := b.envelope(now)
	if err != nil {
		e.logger.Error("Failed to build batch envelope",
			zap.String("subscription_id", sub.config.ID),
			zap.Error(err),
		)
		return err
	}
	if err := e.admit(ctx, sub, envelope, now); err != nil {
		return err
	}

	size := len(b.current)
	b.reset(now)
	e.instruments.RecordBatchFlush(ctx, sub.config.ID, size)
	e.logger.Debug("Flushed batch",
		zap.String("subscription_id", sub.config.ID),
		zap.String("batch_event_id", envelope.ID.String()),
		zap.Int("batch_size", size),
	)
	return nil
}

// FlushExpiredBatches flushes every non-empty batch whose wait time has
// elapsed. It returns the number of batches flushed.
func (e *Engine) FlushExpiredBatches(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	flushed := 0
	for _, id := range e.state.order {
		sub := e.state.subscriptions[id]
		if sub.batch == nil || !sub.batch.due(now) {
			continue
		}
		if err := e.flushBatch(ctx, sub, now); err != nil {
			e.logger.Warn("Batch flush deferred",
				zap.String("subscription_id", id),
				zap.Int("pending", len(sub.batch.current)),
				zap.Error(err),
			)
			continue
		}
		flushed++
	}
	return flushed
}
