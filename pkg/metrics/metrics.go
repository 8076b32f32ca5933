package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	entriesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsink_entries_received_total",
		Help: "Entries accepted into the backlog.",
	})
	entriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsink_entries_dropped_total",
		Help: "Entries dropped because the backlog was full.",
	})
	entriesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsink_entries_published_total",
		Help: "Entries delivered to the hub.",
	})
	batchesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsink_batches_published_total",
		Help: "Batches delivered to the hub.",
	})
	deliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsink_delivery_retries_total",
		Help: "Delivery attempts beyond the first per batch.",
	})
	deliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsink_delivery_failures_total",
		Help: "Batches lost after the retry budget was exhausted.",
	})
	faultsReported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsink_faults_reported_total",
		Help: "Faults forwarded to the fault channel.",
	})
	faultsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsink_faults_suppressed_total",
		Help: "Faults dropped by the fault channel rate limit.",
	})
	backlogLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hubsink_backlog_length",
		Help: "Entries currently buffered and awaiting a flush.",
	})
	flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hubsink_flush_duration_seconds",
		Help:    "Wall time of one flush including delivery retries.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

// AddReceived records entries accepted into the backlog.
func AddReceived(n int) {
	entriesReceived.Add(float64(n))
}

// AddDropped records entries rejected because the backlog was full.
func AddDropped(n int) {
	entriesDropped.Add(float64(n))
}

// AddPublished records entries delivered to the hub.
func AddPublished(n int) {
	entriesPublished.Add(float64(n))
}

// IncBatchPublished records one delivered batch.
func IncBatchPublished() {
	batchesPublished.Inc()
}

// IncDeliveryRetry records one delivery attempt beyond the first.
func IncDeliveryRetry() {
	deliveryRetries.Inc()
}

// IncDeliveryFailure records one batch lost after exhausted retries.
func IncDeliveryFailure() {
	deliveryFailures.Inc()
}

// IncFaultReported records one fault forwarded to the fault channel.
func IncFaultReported() {
	faultsReported.Inc()
}

// IncFaultSuppressed records one fault dropped by the rate limit.
func IncFaultSuppressed() {
	faultsSuppressed.Inc()
}

// SetBacklogLength publishes the current backlog length.
func SetBacklogLength(n int) {
	backlogLength.Set(float64(n))
}

// ObserveFlushDuration records the wall time of one flush.
func ObserveFlushDuration(seconds float64) {
	flushDuration.Observe(seconds)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
