package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_service_ops_total",
		Help: "Operator calls executed by the service, by outcome",
	}, []string{"op", "outcome"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tensorcore_service_op_duration_seconds",
		Help:    "Time from admission to response for service operator calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tensorcore_service_queue_depth",
		Help: "Requests waiting for the executor",
	})

	rejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorcore_service_rejected_total",
		Help: "Requests rejected because the wait queue was full",
	})
)

var breakerTrips = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tensorcore_service_breaker_trips_total",
	Help: "Times the device breaker opened after runtime failures",
})
