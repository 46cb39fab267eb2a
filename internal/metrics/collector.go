package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// SnapshotSource exposes the engine's read-only introspection
type SnapshotSource interface {
	GetMetrics() delivery.DeliveryMetrics
	GetQueueInfo() map[string]delivery.QueueInfo
	GetSubscriptionStats(id string) (delivery.DeliveryStats, bool)
}

const namespace = "ped"

// Collector exports engine snapshots to Prometheus at scrape time
type Collector struct {
	source SnapshotSource

	subscriptions *prometheus.Desc
	activeQueues  *prometheus.Desc
	processed     *prometheus.Desc
	completed     *prometheus.Desc
	failed        *prometheus.Desc
	retries       *prometheus.Desc
	inFlight      *prometheus.Desc
	avgDelivery   *prometheus.Desc
	throughput    *prometheus.Desc
	errorRate     *prometheus.Desc
	queueDepth    *prometheus.Desc

	queueSize     *prometheus.Desc
	queueCapacity *prometheus.Desc
	pendingBatch  *prometheus.Desc
	subDelivered  *prometheus.Desc
	subFailed     *prometheus.Desc
	subDropped    *prometheus.Desc
	subPeak       *prometheus.Desc
}

// NewCollector builds a collector reading from source
func NewCollector(source SnapshotSource) *Collector {
	engine := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, nil, nil)
	}
	labels := []string{"subscription_id"}
	sub := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "subscription", name), help, labels, nil)
	}

	return &Collector{
		source:        source,
		subscriptions: engine("subscriptions_total", "Subscriptions ever registered"),
		activeQueues:  engine("active_queues", "Currently registered subscription queues"),
		processed:     engine("events_processed_total", "Events admitted by queue_event"),
		completed:     engine("deliveries_completed_total", "Successful deliveries"),
		failed:        engine("deliveries_failed_total", "Failed or timed out delivery attempts"),
		retries:       engine("retries_total", "Retries scheduled"),
		inFlight:      engine("in_flight_deliveries", "Deliveries currently executing"),
		avgDelivery:   engine("avg_delivery_time_ms", "Mean of per-subscription average delivery times"),
		throughput:    engine("throughput_events_per_second", "Events processed per second"),
		errorRate:     engine("error_rate", "Failed share of finished deliveries"),
		queueDepth:    engine("queue_depth", "Sum of all queue sizes"),
		queueSize:     sub("queue_size", "Events waiting in the subscription queue"),
		queueCapacity: sub("queue_capacity", "Configured queue capacity"),
		pendingBatch:  sub("pending_batch_size", "Events accumulated in the open batch"),
		subDelivered:  sub("delivered_total", "Successful deliveries"),
		subFailed:     sub("failed_total", "Failed delivery attempts"),
		subDropped:    sub("dropped_total", "Events lost to backpressure"),
		subPeak:       sub("peak_queue_size", "Largest observed queue size"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.subscriptions, c.activeQueues, c.processed, c.completed, c.failed,
		c.retries, c.inFlight, c.avgDelivery, c.throughput, c.errorRate, c.queueDepth,
		c.queueSize, c.queueCapacity, c.pendingBatch, c.subDelivered, c.subFailed,
		c.subDropped, c.subPeak,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.GetMetrics()

	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.CounterValue, float64(m.TotalSubscriptions))
	ch <- prometheus.MustNewConstMetric(c.activeQueues, prometheus.GaugeValue, float64(m.ActiveQueues))
	ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(m.TotalEventsProcessed))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(m.TotalDeliveriesCompleted))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(m.TotalDeliveriesFailed))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(m.TotalRetries))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(m.InFlightDeliveries))
	ch <- prometheus.MustNewConstMetric(c.avgDelivery, prometheus.GaugeValue, m.AvgDeliveryTimeMs)
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, m.ThroughputEventsPerSec)
	ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, m.ErrorRate)
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(m.TotalQueueDepth))

	for id, info := range c.source.GetQueueInfo() {
		ch <- prometheus.MustNewConstMetric(c.queueSize, prometheus.GaugeValue, float64(info.QueueSize), id)
		ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(info.Capacity), id)
		ch <- prometheus.MustNewConstMetric(c.pendingBatch, prometheus.GaugeValue, float64(info.PendingBatchSize), id)

		stats, ok := c.source.GetSubscriptionStats(id)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.subDelivered, prometheus.CounterValue, float64(stats.TotalDelivered), id)
		ch <- prometheus.MustNewConstMetric(c.subFailed, prometheus.CounterValue, float64(stats.TotalFailed), id)
		ch <- prometheus.MustNewConstMetric(c.subDropped, prometheus.CounterValue, float64(stats.TotalDropped), id)
		ch <- prometheus.MustNewConstMetric(c.subPeak, prometheus.GaugeValue, float64(stats.PeakQueueSize), id)
	}
}
