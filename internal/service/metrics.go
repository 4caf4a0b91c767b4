package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_settlements_total",
			Help: "Document settlements by kind, operation and outcome",
		},
		[]string{"kind", "operation", "outcome"},
	)

	compensationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saldo_settlement_compensations_total",
			Help: "Document rows removed after their settlement unit failed",
		},
	)
)
