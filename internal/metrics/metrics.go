package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radiance_stage_duration_seconds",
		Help:    "Per-stage completion latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 180},
	}, []string{"stage"})

	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiance_stage_errors_total",
		Help: "Stage failures by stage and error type",
	}, []string{"stage", "error_type"})

	ExtractionStrategy = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiance_extraction_strategy_total",
		Help: "Which tolerant JSON strategy produced each stage response",
	}, []string{"stage", "strategy"})

	StreamFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiance_stream_fallbacks_total",
		Help: "Streaming calls that fell back to a single non-streaming call",
	})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiance_sessions_created_total",
		Help: "Diagnosis sessions created",
	})

	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiance_sessions_completed_total",
		Help: "Diagnosis sessions that reached the final stage",
	})

	ChatDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "radiance_chat_duration_seconds",
		Help:    "Ask Radiance answer latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
	})

	ChatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiance_chat_timeouts_total",
		Help: "Chat answers replaced by the timeout message",
	})

	BackgroundJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiance_background_jobs_total",
		Help: "Background run-all jobs by outcome",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radiance_job_queue_depth",
		Help: "Background jobs waiting for a worker",
	})
)
