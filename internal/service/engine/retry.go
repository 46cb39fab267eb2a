package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// handleOutcome updates statistics and decides between requeue and drop.
//
//	Success             -> delivered
//	Failed, Timeout     -> retry with backoff while attempts < MaxRetries, then dead letter
//	Unavailable         -> retry after UnavailableRetryDelay, attempts unchanged
//	Rejected            -> dead letter
func (e *Engine) handleOutcome(ctx context.Context, j job, result delivery.DeliveryResult, elapsed time.Duration) {
	qe := j.queued
	logger := e.logger.With(
		zap.String("subscription_id", j.subscriptionID),
		zap.String("event_id", qe.event.ID.String()),
		zap.Uint32("attempts", qe.attempts),
	)

	var letter *delivery.DeadLetter

	e.mu.Lock()
	delete(e.state.inFlight, j.token)
	e.instruments.UpdateInFlight(-1)

	sub, ok := e.state.subscriptions[j.subscriptionID]
	if !ok {
		e.mu.Unlock()
		logger.Debug("Discarding outcome of unregistered subscription",
			zap.String("result", result.String()))
		return
	}
	now := e.clock.Now()
	opts := sub.config.DeliveryOptions

	switch result.Status {
	case delivery.StatusSuccess:
		sub.stats.RecordAttempt(true, elapsed)
		sub.stats.Touch(now)

	case delivery.StatusFailed, delivery.StatusTimeout:
		sub.stats.RecordAttempt(false, elapsed)
		sub.stats.Touch(now)

		if qe.attempts < opts.MaxRetries {
			delay := opts.RetryBackoff.Compute(qe.attempts)
			e.requeue(sub, qe, now.Add(delay))
			qe.attempts++
			sub.stats.TotalRetries++
			e.instruments.RecordRetry(ctx, j.subscriptionID)
			logger.Debug("Scheduled retry",
				zap.String("result", result.String()),
				zap.Duration("delay", delay),
			)
		} else {
			letter = e.deadLetter(sub, qe, result, now)
			logger.Error("Delivery failed permanently, retries exhausted",
				zap.String("result", result.String()),
				zap.Uint32("max_retries", opts.MaxRetries),
			)
		}

	case delivery.StatusUnavailable:
		sub.stats.Touch(now)
		e.requeue(sub, qe, now.Add(e.config.UnavailableRetryDelay))
		logger.Warn("Plugin unavailable, delivery deferred",
			zap.String("plugin_id", sub.config.PluginID),
			zap.Duration("delay", e.config.UnavailableRetryDelay),
		)

	case delivery.StatusRejected:
		sub.stats.Touch(now)
		letter = e.deadLetter(sub, qe, result, now)
		logger.Warn("Plugin rejected event",
			zap.String("plugin_id", sub.config.PluginID),
			zap.String("reason", result.Reason),
		)
	}
	e.mu.Unlock()

	if letter != nil {
		e.instruments.RecordDeadLetter(ctx, j.subscriptionID, result.Status.String())
		if err := e.deadLetters.Add(ctx, *letter); err != nil {
			logger.Error("Failed to record dead letter", zap.Error(err))
		}
	}
}

// requeue puts a retried event back ahead of never-attempted ones with a
// readiness gate at retryAt. Retries bypass admission control.
func (e *Engine) requeue(sub *subscription, qe *queuedEvent, retryAt time.Time) {
	qe.nextRetryAt = &retryAt
	sub.queue.pushFront(qe)
	sub.stats.SetQueueSize(sub.queue.Len())
}

func (e *Engine) deadLetter(sub *subscription, qe *queuedEvent, result delivery.DeliveryResult, now time.Time) *delivery.DeadLetter {
	return &delivery.DeadLetter{
		SubscriptionID: sub.config.ID,
		PluginID:       sub.config.PluginID,
		Event:          qe.event,
		Attempts:       qe.attempts + 1,
		Result:         result,
		FailedAt:       now,
	}
}
