package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scratchHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorcore_cpu_scratch_hits_total",
		Help: "Total number of kernel scratch buffers reused from the pool",
	})

	scratchMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorcore_cpu_scratch_misses_total",
		Help: "Total number of kernel scratch buffers allocated",
	})
)
