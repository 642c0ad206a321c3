package core

// Metrics: prometheus counters for the job lifecycle, mana ledger and
// reputation store, following overlay.go's package-level
// CounterVec-plus-init()-MustRegister pattern.

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "icn_jobs_submitted_total",
		Help: "Jobs submitted to the job manager.",
	})
	jobsTerminalTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icn_jobs_terminal_total",
		Help: "Jobs reaching a terminal state, by state and reason.",
	}, []string{"state", "reason"})

	manaOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icn_mana_ops_total",
		Help: "Mana ledger operations, by kind.",
	}, []string{"op"})
	manaOverflowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "icn_mana_overflows_total",
		Help: "Mana credits clamped at account capacity.",
	})

	reputationUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icn_reputation_updates_total",
		Help: "Reputation score adjustments, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		jobsSubmittedTotal,
		jobsTerminalTotal,
		manaOpsTotal,
		manaOverflowsTotal,
		reputationUpdatesTotal,
	)
}
