package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_jobs_total",
		Help: "Job requests by accept/reject decision",
	}, []string{"decision"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sessions_active",
		Help: "Number of active voice sessions",
	})

	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_dispatches_total",
		Help: "Agent dispatches by source and outcome",
	}, []string{"source", "status"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_llm_requests_total",
		Help: "LLM node requests by path and outcome",
	}, []string{"path", "status"})

	LLMFirstTokenSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_llm_first_token_seconds",
		Help:    "Time to first streamed token",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"path"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_llm_request_duration_seconds",
		Help:    "LLM node request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"path"})

	DedupHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_dedup_hits_total",
		Help: "Duplicate utterances short-circuited before the LLM",
	}, []string{"kind"})

	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_fallbacks_total",
		Help: "Guaranteed fallback responses by reason",
	}, []string{"reason"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parley_circuit_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"service"})

	MemorySyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_memory_sync_total",
		Help: "Background history mirrors to the agent service",
	}, []string{"status"})

	RoomsCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_rooms_cleaned_total",
		Help: "Stale rooms deleted by the cleanup pass",
	})

	STTRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_stt_request_duration_seconds",
		Help:    "Speech recognition duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	TTSRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_tts_request_duration_seconds",
		Help:    "Speech synthesis duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5},
	})
)
