package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sluice"

var (
	RecordsRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "records_read_total",
		Help: "Records yielded by the source.",
	})
	RecordsEncoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "records_encoded_total",
		Help: "Records that passed schema validation and were queued.",
	})
	EncodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "encode_failures_total",
		Help: "Records rejected by the encoder, by field.",
	}, []string{"field"})
	DeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "dead_lettered_total",
		Help: "Rejected records published to the dead-letter topic.",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_depth",
		Help: "Payloads waiting in the delivery queue.",
	})
	Batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "batches_total",
		Help: "Batch state transitions.",
	}, []string{"state"})
	RecordsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "records_delivered_total",
		Help: "Records acknowledged by the broker.",
	})
	SendSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "batch_send_seconds",
		Help:    "Latency of a single batch send attempt.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "inflight_batches",
		Help: "Batches sent and awaiting acknowledgment.",
	})
	Checkpoint = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "checkpoint_offset",
		Help: "Highest contiguously acknowledged source offset.",
	})
	TrackerPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "tracker_pending",
		Help: "Dispatched offsets awaiting acknowledgment.",
	})
)

func init() {
	prometheus.MustRegister(RecordsRead, RecordsEncoded, EncodeFailures, DeadLettered, QueueDepth)
	prometheus.MustRegister(Batches, RecordsDelivered, SendSeconds, InFlight, Checkpoint, TrackerPending)
}
