// Package metrics defines the Prometheus collectors of the livescore service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livescore_snapshots_appended_total",
			Help: "Snapshots appended to the store by outcome",
		},
		[]string{"outcome"},
	)

	SubmissionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livescore_submissions_rejected_total",
			Help: "Submissions rejected before reaching the store",
		},
	)

	IngestQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livescore_ingest_queue_depth",
			Help: "Snapshots waiting in a contest ingestion queue",
		},
		[]string{"contest"},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livescore_ingest_batch_size",
			Help:    "Snapshots coalesced into one materialization",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	MaterializeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livescore_materialize_duration_seconds",
			Help:    "Time spent materializing one contest leaderboard",
			Buckets: prometheus.DefBuckets,
		},
	)

	LeaderboardStations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livescore_leaderboard_stations",
			Help: "Stations on the current leaderboard of a contest",
		},
		[]string{"contest"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livescore_active_subscriptions",
			Help: "Subscriptions that have not closed",
		},
	)

	Pushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livescore_pushes_total",
			Help: "Stream messages delivered by type",
		},
		[]string{"type"},
	)

	PushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livescore_push_failures_total",
			Help: "Stream messages that failed to send",
		},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livescore_sink_errors_total",
			Help: "Failed or rejected writes to downstream sinks",
		},
		[]string{"sink"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livescore_circuit_breaker_state",
			Help: "Sink circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"sink"},
	)
)
