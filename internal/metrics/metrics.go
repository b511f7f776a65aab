package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task lifecycle metrics
	TasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_tasks_started_total",
			Help: "Total number of research tasks started",
		},
		[]string{"kind"}, // "root" or "follow_up"
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_tasks_completed_total",
			Help: "Total number of research tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "researchd_task_duration_seconds",
			Help:    "End-to-end research task duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	PlannedQueries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "researchd_planned_queries",
			Help:    "Number of search queries produced per plan",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15},
		},
	)

	// Search gateway metrics
	SearchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_search_attempts_total",
			Help: "Search attempts by provider and outcome",
		},
		[]string{"provider", "outcome"}, // outcome: ok, retry, error
	)

	SearchFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_search_fallbacks_total",
			Help: "Searches that fell through to the simulated provider",
		},
	)

	SearchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_search_cache_hits_total",
			Help: "Search cache hits",
		},
	)

	SearchCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_search_cache_misses_total",
			Help: "Search cache misses",
		},
	)

	// LLM client metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_llm_calls_total",
			Help: "LLM invocations by role and status",
		},
		[]string{"role", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researchd_llm_call_duration_seconds",
			Help:    "LLM invocation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role"},
	)

	// Persistence metrics
	ReportsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_reports_saved_total",
			Help: "Reports persisted to storage",
		},
	)

	ReportSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researchd_report_save_errors_total",
			Help: "Report persistence failures (task still completes)",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "researchd_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
