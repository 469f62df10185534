// Package devrt is the device runtime consumed by the tensor core: buffer
// allocation, synchronous memcpy and the current-device context.
package devrt

import (
	"fmt"
	"strings"
)

// DeviceType tags where a buffer lives. The integer values are stable and
// shared with the C ABI.
type DeviceType int

const (
	CPU    DeviceType = 0
	NVIDIA DeviceType = 1
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "cpu"
	case NVIDIA:
		return "nvidia"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// ParseDeviceType accepts "cpu", "nvidia" or "cuda".
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return CPU, nil
	case "nvidia", "cuda":
		return NVIDIA, nil
	}
	return 0, fmt.Errorf("unknown device type %q", s)
}

// Device names one device of a given type.
type Device struct {
	Type DeviceType
	ID   int
}

// Host is the CPU device every process has.
var Host = Device{Type: CPU}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Type, d.ID)
}

// MemcpyKind is the direction of a synchronous copy.
type MemcpyKind int

const (
	H2H MemcpyKind = iota
	H2D
	D2H
	D2D
)

func (k MemcpyKind) String() string {
	switch k {
	case H2H:
		return "h2h"
	case H2D:
		return "h2d"
	case D2H:
		return "d2h"
	case D2D:
		return "d2d"
	default:
		return fmt.Sprintf("memcpy(%d)", int(k))
	}
}

// KindBetween returns the memcpy kind for a copy from src to dst.
func KindBetween(dst, src DeviceType) MemcpyKind {
	switch {
	case src == CPU && dst == CPU:
		return H2H
	case src == CPU:
		return H2D
	case dst == CPU:
		return D2H
	default:
		return D2D
	}
}
