package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotmon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iotmon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingestion metrics
	ReadingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotmon_readings_ingested_total",
			Help: "Total number of sensor readings ingested",
		},
		[]string{"path", "status"}, // path: single, batch; status: accepted, rejected
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iotmon_ingest_batch_size",
			Help:    "Size of reading batches received",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	DecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotmon_decode_failures_total",
			Help: "Total number of ingestion messages dropped at decode",
		},
		[]string{"reason"},
	)

	// Rule engine metrics
	RuleEvaluationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "iotmon_rule_evaluations_total",
			Help: "Total number of rule evaluations",
		},
	)

	RuleFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotmon_rule_fires_total",
			Help: "Total number of rule fires",
		},
		[]string{"rule_type"},
	)

	// Alert metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotmon_alerts_total",
			Help: "Total number of alert transitions",
		},
		[]string{"action"}, // opened, refired, acknowledged, resolved
	)

	// Notification metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotmon_events_published_total",
			Help: "Total number of events published to fan-out groups",
		},
		[]string{"event", "status"}, // status: delivered, dropped
	)

	EventQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "iotmon_event_queue_size",
			Help: "Current size of the event dispatch queue",
		},
	)

	EventQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "iotmon_event_queue_capacity",
			Help: "Capacity of the event dispatch queue",
		},
	)

	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotmon_kafka_publish_total",
			Help: "Total number of events mirrored to Kafka",
		},
		[]string{"status"}, // success, failed
	)

	// WebSocket hub metrics
	WSClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "iotmon_ws_clients_connected",
			Help: "Number of connected WebSocket subscribers",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotmon_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
