package delivery

import "time"

// DeliveryStats holds the live statistics of one subscription
type DeliveryStats struct {
	TotalQueued       uint64     `json:"total_queued"`
	TotalDelivered    uint64     `json:"total_delivered"`
	TotalFailed       uint64     `json:"total_failed"`
	TotalRetries      uint64     `json:"total_retries"`
	TotalDropped      uint64     `json:"total_dropped"`
	TotalThrottled    uint64     `json:"total_throttled"`
	AvgDeliveryTimeMs float64    `json:"avg_delivery_time_ms"`
	SuccessRate       float64    `json:"success_rate"`
	QueueSize         int        `json:"queue_size"`
	PeakQueueSize     int        `json:"peak_queue_size"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
}

// RecordAttempt folds a finished attempt into the rolling average and
// success rate. succeeded is false for Failed and Timeout outcomes.
func (s *DeliveryStats) RecordAttempt(succeeded bool, duration time.Duration) {
	if succeeded {
		s.TotalDelivered++
	} else {
		s.TotalFailed++
	}
	total := s.TotalDelivered + s.TotalFailed
	ms := float64(duration) / float64(time.Millisecond)
	s.AvgDeliveryTimeMs = (s.AvgDeliveryTimeMs*float64(total-1) + ms) / float64(total)
	s.SuccessRate = float64(s.TotalDelivered) / float64(total)
}

// Touch records activity at now
func (s *DeliveryStats) Touch(now time.Time) {
	s.LastActivity = &now
}

// SetQueueSize updates the current and peak queue size
func (s *DeliveryStats) SetQueueSize(size int) {
	s.QueueSize = size
	if size > s.PeakQueueSize {
		s.PeakQueueSize = size
	}
}

// DeliveryMetrics are the system-wide figures rolled up by the metrics aggregator
type DeliveryMetrics struct {
	TotalSubscriptions       uint64    `json:"total_subscriptions"`
	ActiveQueues             uint64    `json:"active_queues"`
	TotalEventsProcessed     uint64    `json:"total_events_processed"`
	TotalDeliveriesCompleted uint64    `json:"total_deliveries_completed"`
	TotalDeliveriesFailed    uint64    `json:"total_deliveries_failed"`
	TotalRetries             uint64    `json:"total_retries"`
	InFlightDeliveries       int       `json:"in_flight_deliveries"`
	AvgDeliveryTimeMs        float64   `json:"avg_delivery_time_ms"`
	ThroughputEventsPerSec   float64   `json:"throughput_events_per_sec"`
	ErrorRate                float64   `json:"error_rate"`
	TotalQueueDepth          int       `json:"total_queue_depth"`
	LastUpdated              time.Time `json:"last_updated"`
}

// QueueInfo is the read-only view of one subscription queue
type QueueInfo struct {
	SubscriptionID   string               `json:"subscription_id"`
	QueueSize        int                  `json:"queue_size"`
	Capacity         int                  `json:"capacity"`
	Ordering         Ordering             `json:"ordering"`
	Backpressure     BackpressureHandling `json:"backpressure"`
	HasBatch         bool                 `json:"has_batch"`
	PendingBatchSize int                  `json:"pending_batch_size"`
	LastActivity     *time.Time           `json:"last_activity,omitempty"`
}
