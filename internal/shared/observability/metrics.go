package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ResolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provenance_resolution_seconds",
		Help:    "Time spent on detection operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	CandidatesChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provenance_candidates_checked_total",
		Help: "Total number of snapshot versions evaluated during baseline resolution.",
	})

	SessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provenance_sessions_opened_total",
		Help: "Total number of migration sessions opened, by changelog role.",
	}, []string{"role"})

	UnrunChangeSets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "provenance_unrun_changesets",
		Help: "Unrun changesets found in the most recently checked changelog, by role.",
	}, []string{"role"})

	PendingUpdateFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "provenance_pending_update_files",
		Help: "Number of update changelogs still owed by the live database.",
	})

	ResolutionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provenance_resolution_failures_total",
		Help: "Total number of failed detection operations, by error code.",
	}, []string{"code"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provenance_watcher_events_total",
		Help: "Total number of file system events received by the catalog watcher.",
	})

	WatchEvaluationsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provenance_watch_evaluations_throttled_total",
		Help: "Total number of catalog change re-evaluations dropped by the rate limiter.",
	})
)
