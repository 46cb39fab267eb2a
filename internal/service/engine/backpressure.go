package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// admit inserts event into the subscription queue, consulting the
// backpressure strategy when the queue is at capacity. The caller holds e.mu.
func (e *Engine) admit(ctx context.Context, sub *subscription, event delivery.Event, now time.Time) error {
	if sub.queue.Len() >= sub.capacity {
		if err := e.applyBackpressure(ctx, sub, event); err != nil {
			e.instruments.RecordRejected(ctx, sub.config.ID, err.(*BackpressureError).Code)
			return err
		}
	}
	sub.enqueue(event, now)
	return nil
}

// applyBackpressure returns nil when event may be admitted. It may evict an
// existing element first.
func (e *Engine) applyBackpressure(ctx context.Context, sub *subscription, event delivery.Event) error {
	bp := sub.config.DeliveryOptions.Backpressure
	size := sub.queue.Len()

	switch bp.Strategy {
	case delivery.StrategyBuffer:
		if size >= bp.MaxSize {
			return ErrBufferOverflow
		}

	case delivery.StrategyDropOldest:
		if size < bp.MaxSize {
			return nil
		}
		evicted := sub.queue.evictOldest()
		if evicted == nil {
			return nil
		}
		sub.stats.TotalDropped++
		sub.stats.SetQueueSize(sub.queue.Len())
		e.instruments.RecordDropped(ctx, sub.config.ID, bp.Strategy.String())
		e.logger.Warn("Dropped oldest queued event",
			zap.String("subscription_id", sub.config.ID),
			zap.String("event_id", evicted.event.ID.String()),
			zap.Uint32("attempts", evicted.attempts),
		)

	case delivery.StrategyDropNewest:
		sub.stats.TotalDropped++
		e.instruments.RecordDropped(ctx, sub.config.ID, bp.Strategy.String())
		return ErrDroppedNewest

	case delivery.StrategyApplyBackpressure:
		sub.stats.TotalThrottled++
		if sub.warnLimiter.Allow() {
			e.logger.Warn("Subscription queue at capacity, upstream should slow down",
				zap.String("subscription_id", sub.config.ID),
				zap.Int("queue_size", size),
				zap.Int("capacity", sub.capacity),
				zap.Uint64("throttled_total", sub.stats.TotalThrottled),
			)
		}

	case delivery.StrategyCustom:
		handler, ok := e.handlers[bp.HandlerName]
		if !ok {
			if sub.warnLimiter.Allow() {
				e.logger.Warn("Custom backpressure handler not registered, admitting event",
					zap.String("subscription_id", sub.config.ID),
					zap.String("handler", bp.HandlerName),
				)
			}
			return nil
		}
		if !handler(ctx, sub.info(), event) {
			return ErrCustomRejected
		}
	}
	return nil
}
