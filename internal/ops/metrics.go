package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_op_dispatch_total",
		Help: "Total number of operator invocations",
	}, []string{"op", "device"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tensorcore_op_duration_seconds",
		Help:    "Operator latency including validation",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"op", "device"})

	dispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_op_failures_total",
		Help: "Total number of operator invocations rejected or failed, by error kind",
	}, []string{"op", "kind"})
)
