package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_transient_retries_total",
			Help: "Units rerun after a transient store error",
		},
		[]string{"operation"},
	)

	retriesExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_transient_retries_exhausted_total",
			Help: "Units that still failed transiently after the last attempt",
		},
		[]string{"operation"},
	)
)
