package rules

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the rules engine.
type Metrics struct {
	// Scans counts scan runs by result (success, skipped, error).
	Scans *prometheus.CounterVec

	// ScanCandidates counts candidates produced by scans.
	ScanCandidates prometheus.Counter

	// Actions counts executed actions by type and status.
	Actions *prometheus.CounterVec

	// SchedulerTicks counts scheduler sweeps.
	SchedulerTicks prometheus.Counter

	// SchedulerProcessed counts candidates retired by the scheduler.
	SchedulerProcessed prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered against reg.
// Pass a fresh registry in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Scans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curatarr_scans_total",
				Help: "Total number of rule scans by result",
			},
			[]string{"result"},
		),

		ScanCandidates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "curatarr_scan_candidates_total",
				Help: "Total number of candidates produced by scans",
			},
		),

		Actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curatarr_actions_total",
				Help: "Total number of executed actions by type and status",
			},
			[]string{"type", "status"},
		),

		SchedulerTicks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "curatarr_scheduler_ticks_total",
				Help: "Total number of delayed-action scheduler sweeps",
			},
		),

		SchedulerProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "curatarr_scheduler_candidates_processed_total",
				Help: "Total number of candidates processed and retired by the scheduler",
			},
		),
	}
}
