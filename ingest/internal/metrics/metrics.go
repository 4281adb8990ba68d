package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submission metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specimen_ingest_submissions_total",
			Help: "Total number of specimen submissions by result",
		},
		[]string{"status"},
	)

	SubmissionBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "specimen_ingest_submission_bytes_total",
			Help: "Total bytes of accepted submission payloads",
		},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "specimen_ingest_publish_duration_seconds",
			Help:    "Duration of publishing a submission to the morphometrics queue",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "specimen_ingest_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)
)
