package devrt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_runtime_allocations_total",
		Help: "Total number of storage allocations",
	}, []string{"device", "memory"})

	allocatedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_runtime_allocated_bytes_total",
		Help: "Total bytes allocated for storage",
	}, []string{"device", "memory"})

	liveBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tensorcore_runtime_live_bytes",
		Help: "Bytes currently held by unreleased storage",
	}, []string{"device", "memory"})

	memcpyOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_runtime_memcpy_total",
		Help: "Total number of synchronous copies by direction",
	}, []string{"kind"})

	memcpyBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_runtime_memcpy_bytes_total",
		Help: "Total bytes moved by synchronous copies by direction",
	}, []string{"kind"})
)

func memoryLabel(host bool) string {
	if host {
		return "host"
	}
	return "device"
}
