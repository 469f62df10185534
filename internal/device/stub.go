package device

import (
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// nvidiaBackend stands in for the CUDA kernels, which this build does not
// carry.
type nvidiaBackend struct{}

func notImplemented(op string) {
	fault.Raise(fault.NotImplemented, "%s is not implemented for nvidia devices", op)
}

func (nvidiaBackend) Name() string { return "nvidia" }

func (nvidiaBackend) Argmax(_, _, _ []byte, _ dtype.DType, _ int) {
	notImplemented("argmax")
}

func (nvidiaBackend) Embedding(_, _, _ []byte, _ dtype.DType, _, _, _ int) {
	notImplemented("embedding")
}

func (nvidiaBackend) Linear(_, _, _, _ []byte, _ dtype.DType, _, _, _ int) {
	notImplemented("linear")
}

func (nvidiaBackend) RMSNorm(_, _, _ []byte, _ dtype.DType, _, _ int, _ float32) {
	notImplemented("rms_norm")
}

func (nvidiaBackend) RoPE(_, _, _ []byte, _ dtype.DType, _, _, _ int, _ float32) {
	notImplemented("rope")
}

func (nvidiaBackend) SelfAttention(_, _, _, _ []byte, _ dtype.DType, _ AttentionParams) {
	notImplemented("self_attention")
}

func (nvidiaBackend) SwiGLU(_, _, _ []byte, _ dtype.DType, _ int) {
	notImplemented("swiglu")
}

func (nvidiaBackend) Rearrange(_, _ []byte, _ dtype.DType, _, _, _ []int) {
	notImplemented("rearrange")
}
