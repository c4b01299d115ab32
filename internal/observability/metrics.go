// Package observability provides metrics and tracing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// UploadsTotal counts accepted uploads by media kind and initial status.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_uploads_total",
		Help: "Total number of accepted uploads",
	}, []string{"media_kind", "status"})

	// QuotaRejections counts uploads refused for quota, split by phase (check or race).
	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_quota_rejections_total",
		Help: "Total number of uploads rejected by the quota ledger",
	}, []string{"media_kind", "phase"})

	// ModerationActions counts reviewer decisions by pipeline and action.
	ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_moderation_actions_total",
		Help: "Total number of moderation decisions",
	}, []string{"pipeline", "action"})

	// FlagResolutionSeconds observes time from flag creation to resolution.
	FlagResolutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chapterhub_flag_resolution_seconds",
		Help:    "Time from a flag being raised to its resolution",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 43200, 86400},
	})

	// FlagSLOBreaches counts flags resolved after the resolution SLO.
	FlagSLOBreaches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chapterhub_flag_slo_breaches_total",
		Help: "Total number of flags resolved outside the SLO window",
	})

	// SoftDependencyFailures counts non-essential side effects that failed and were skipped.
	SoftDependencyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_soft_dependency_failures_total",
		Help: "Total number of soft-dependency failures that did not fail the request",
	}, []string{"dependency"})

	// OutboxDeliveries counts relay outcomes.
	OutboxDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_outbox_deliveries_total",
		Help: "Total number of outbox delivery attempts by outcome",
	}, []string{"outcome"})

	// OutboxLag observes the delay between enqueue and delivery.
	OutboxLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chapterhub_outbox_lag_seconds",
		Help:    "Delay between event enqueue and delivery",
		Buckets: prometheus.DefBuckets,
	})

	// SnapshotRegenerations counts snapshot regenerations by kind and trigger.
	SnapshotRegenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_snapshot_regenerations_total",
		Help: "Total number of analytics snapshot regenerations",
	}, []string{"kind", "trigger"})

	// SnapshotRegenerationSeconds observes regeneration latency.
	SnapshotRegenerationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chapterhub_snapshot_regeneration_seconds",
		Help:    "Analytics snapshot regeneration latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// SnapshotAccuracy is the last accuracy ratio reported by VerifyAccuracy.
	SnapshotAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chapterhub_snapshot_accuracy_ratio",
		Help: "Fraction of sampled metrics matching their source tables",
	})

	// MediaVerifications counts media verification outcomes.
	MediaVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_media_verifications_total",
		Help: "Total number of upload verification outcomes",
	}, []string{"outcome"})

	// WebSocketConnectionsTotal is the gauge of connected admin live-feed sockets.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chapterhub_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterhub_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// ObserveFlagResolution records a resolution duration and counts an SLO breach when it exceeds slo.
func ObserveFlagResolution(elapsed, slo time.Duration) {
	FlagResolutionSeconds.Observe(elapsed.Seconds())
	if slo > 0 && elapsed > slo {
		FlagSLOBreaches.Inc()
	}
}
