package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegishook_events_published_total",
			Help: "Total number of events accepted and fanned out.",
		},
		[]string{"tenant_id"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegishook_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"status", "tenant_id", "endpoint_id"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegishook_delivery_latency_seconds",
			Help:    "End-to-end delivery attempt latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant_id"},
	)

	HTTPDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegishook_http_delivery_duration_seconds",
			Help:    "Outbound webhook HTTP request duration by response code.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant_id", "endpoint_id", "status_code"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegishook_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegishook_dlq_total",
			Help: "Total number of deliveries dead-lettered by reason.",
		},
		[]string{"reason"},
	)

	WorkerBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegishook_worker_backlog",
			Help: "Messages queued ahead of the delivery workers.",
		},
	)

	NSQTopicDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegishook_nsq_topic_depth",
			Help: "NSQ topic depth by topic and channel.",
		},
		[]string{"topic", "channel"},
	)

	EncodeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegishook_encode_failures_total",
			Help: "Total number of payload encoding failures by format.",
		},
		[]string{"format"},
	)

	LeaseBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegishook_lease_busy_total",
			Help: "Total number of attempts deferred because the endpoint lease was held.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsPublishedTotal,
		DeliveriesTotal,
		DeliveryLatencySeconds,
		HTTPDeliveryDuration,
		RetriesTotal,
		DLQTotal,
		WorkerBacklog,
		NSQTopicDepth,
		EncodeFailuresTotal,
		LeaseBusyTotal,
	)
}

// RecordEventPublished counts one accepted event for a tenant.
func RecordEventPublished(tenantID string) {
	EventsPublishedTotal.WithLabelValues(tenantID).Inc()
}

// RecordDelivery counts one attempt outcome and observes its latency.
func RecordDelivery(status, tenantID, endpointID string, duration time.Duration) {
	DeliveriesTotal.WithLabelValues(status, tenantID, endpointID).Inc()
	DeliveryLatencySeconds.WithLabelValues(tenantID).Observe(duration.Seconds())
}

// RecordHTTPDelivery observes one outbound HTTP request. statusCode is
// the numeric code as text, or "timeout"/"error" when no response came
// back.
func RecordHTTPDelivery(tenantID, endpointID, statusCode string, duration time.Duration) {
	HTTPDeliveryDuration.WithLabelValues(tenantID, endpointID, statusCode).Observe(duration.Seconds())
}

// RecordRetry counts one scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ counts one dead-lettered delivery by reason.
func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

// UpdateWorkerBacklog sets the current worker backlog gauge.
func UpdateWorkerBacklog(count float64) {
	WorkerBacklog.Set(count)
}

// UpdateNSQTopicDepth sets the depth gauge for one topic/channel pair.
func UpdateNSQTopicDepth(topic, channel string, depth float64) {
	NSQTopicDepth.WithLabelValues(topic, channel).Set(depth)
}

// RecordEncodeFailure counts one encoding failure by target format.
func RecordEncodeFailure(format string) {
	EncodeFailuresTotal.WithLabelValues(format).Inc()
}

// RecordLeaseBusy counts one attempt deferred by a held endpoint lease.
func RecordLeaseBusy() {
	LeaseBusyTotal.Inc()
}
