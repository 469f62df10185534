// Package device holds the kernel catalogue. A Backend implements every
// operator over raw byte buffers plus a dtype tag and explicit shape
// parameters; the dispatch layer picks the Backend from the operands' device.
//
// Backends treat violated preconditions as fatal and raise them through
// package fault. Callers convert the raise into an error with fault.Catch.
package device

import (
	"sync"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// AttentionParams is the shape of one self-attention call: q is
// [SeqLen, Heads, HeadDim], k and v are [KVLen, KVHeads, HeadDim].
type AttentionParams struct {
	SeqLen  int
	KVLen   int
	Heads   int
	KVHeads int
	HeadDim int
	Scale   float32
}

// Backend runs kernels on one device type. All buffers start at the
// operand's first element and, except for Rearrange's input, are contiguous.
type Backend interface {
	Name() string

	// Argmax writes the index (I64) and value of the first maximum of vals.
	Argmax(maxIdx, maxVal, vals []byte, dt dtype.DType, numel int)

	// Embedding copies weight rows selected by the I64 index into out.
	Embedding(out, index, weight []byte, dt dtype.DType, batch, vocab, dim int)

	// Linear computes out = in · weightᵀ + bias. A nil bias is absent.
	Linear(out, in, weight, bias []byte, dt dtype.DType, batch, inFeatures, outFeatures int)

	// RMSNorm rescales each row of in by 1/√(mean square + eps) and weight.
	RMSNorm(out, in, weight []byte, dt dtype.DType, batch, hidden int, eps float32)

	// RoPE rotates the two halves of every head by a position-dependent angle.
	RoPE(out, in, posIDs []byte, dt dtype.DType, seqLen, heads, headDim int, theta float32)

	// SelfAttention is grouped-query causal attention, with the leading
	// KVLen-SeqLen cache positions visible to every query.
	SelfAttention(out, q, k, v []byte, dt dtype.DType, p AttentionParams)

	// SwiGLU computes out = up · silu(gate) elementwise.
	SwiGLU(out, gate, up []byte, dt dtype.DType, numel int)

	// Rearrange copies the strided in into the contiguous out. Strides are
	// in elements.
	Rearrange(out, in []byte, dt dtype.DType, shape, outStrides, inStrides []int)
}

var (
	mu       sync.RWMutex
	cpu      = NewCPUBackend()
	backends = map[devrt.DeviceType]Backend{
		devrt.CPU:    cpu,
		devrt.NVIDIA: nvidiaBackend{},
	}
)

// CPU returns the CPU backend, which is always registered.
func CPU() Backend {
	return cpu
}

// Register installs b for device type dt. The CPU backend cannot be replaced.
func Register(dt devrt.DeviceType, b Backend) error {
	if dt == devrt.CPU {
		return fault.New(fault.UnsupportedDevice, "the cpu backend cannot be replaced")
	}
	mu.Lock()
	defer mu.Unlock()
	backends[dt] = b
	return nil
}

// Lookup returns the backend registered for dt.
func Lookup(dt devrt.DeviceType) (Backend, bool) {
	if dt == devrt.CPU {
		return cpu, true
	}
	mu.RLock()
	defer mu.RUnlock()
	b, ok := backends[dt]
	return b, ok
}

// MustLookup is Lookup that raises UnsupportedDevice for unknown types.
func MustLookup(dt devrt.DeviceType) Backend {
	b, ok := Lookup(dt)
	if !ok {
		fault.Raise(fault.UnsupportedDevice, "no backend for device %s", dt)
	}
	return b
}
