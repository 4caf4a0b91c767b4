package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_ledger_mutations_total",
			Help: "Balance mutations by account kind, direction and outcome",
		},
		[]string{"account_kind", "direction", "outcome"},
	)

	mutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saldo_ledger_mutation_duration_seconds",
			Help:    "Duration of a balance mutation inside its unit",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		},
		[]string{"account_kind"},
	)

	lazyOpeningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saldo_ledger_lazy_openings_total",
			Help: "Opening snapshots created by the first mutation of a day",
		},
	)

	rolloverPhaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_rollover_phase_total",
			Help: "Rollover phase outcomes",
		},
		[]string{"phase", "outcome"},
	)

	rolloverDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saldo_rollover_degraded_total",
			Help: "Opening snapshots seeded with zero balances because the previous closing was missing",
		},
	)
)
