package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message settlement metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specimen_worker_messages_total",
			Help: "Total number of messages settled, by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "specimen_worker_processing_duration_seconds",
			Help:    "Duration of message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specimen_worker_dead_letters_total",
			Help: "Total number of messages rejected to the dead letter stream",
		},
		[]string{"stage", "reason"},
	)

	SettleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specimen_worker_settle_errors_total",
			Help: "Total number of deliveries that could not be settled",
		},
		[]string{"stage"},
	)

	// Connection metrics
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specimen_worker_reconnects_total",
			Help: "Total number of message channel reconnect attempts",
		},
		[]string{"stage"},
	)

	ConnectedInstances = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "specimen_worker_connected_instances",
			Help: "Number of consumer instances holding a live connection",
		},
		[]string{"stage"},
	)

	// Classification model metrics
	ModelReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "specimen_worker_model_ready",
			Help: "1 when the classification model is loaded",
		},
	)
)
