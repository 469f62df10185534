package device

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// CPUBackend runs every kernel on the calling goroutine. Float kernels accept
// F32, F16 and BF16 and accumulate in single precision.
type CPUBackend struct{}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string {
	return "cpu"
}

func unsupported(op string, dt dtype.DType) {
	fault.Raise(fault.UnsupportedDType, "%s: unsupported dtype %s", op, dt)
}

func (b *CPUBackend) Argmax(maxIdx, maxVal, vals []byte, dt dtype.DType, numel int) {
	idx := dtype.View[int64](maxIdx, 1)
	switch dt {
	case dtype.F32:
		argmax(idx, dtype.View[float32](maxVal, 1), dtype.View[float32](vals, numel))
	case dtype.F16:
		argmax(idx, dtype.View[float16.Float16](maxVal, 1), dtype.View[float16.Float16](vals, numel))
	case dtype.BF16:
		argmax(idx, dtype.View[bfloat16.BFloat16](maxVal, 1), dtype.View[bfloat16.BFloat16](vals, numel))
	default:
		unsupported("argmax", dt)
	}
}

// Embedding is a row copy and therefore valid for every dtype.
func (b *CPUBackend) Embedding(out, index, weight []byte, dt dtype.DType, batch, vocab, dim int) {
	esize := dt.Size()
	if esize == 0 {
		unsupported("embedding", dt)
	}
	rowBytes := dim * esize
	for i, id := range dtype.View[int64](index, batch) {
		fault.Check(id >= 0 && int(id) < vocab, fault.OutOfRange,
			"embedding: index[%d] = %d outside [0, %d)", i, id, vocab)
		src := int(id) * rowBytes
		copy(out[i*rowBytes:(i+1)*rowBytes], weight[src:src+rowBytes])
	}
}

func (b *CPUBackend) Linear(out, in, weight, bias []byte, dt dtype.DType, batch, inFeatures, outFeatures int) {
	switch dt {
	case dtype.F32:
		linear[float32](out, in, weight, bias, batch, inFeatures, outFeatures)
	case dtype.F16:
		linear[float16.Float16](out, in, weight, bias, batch, inFeatures, outFeatures)
	case dtype.BF16:
		linear[bfloat16.BFloat16](out, in, weight, bias, batch, inFeatures, outFeatures)
	default:
		unsupported("linear", dt)
	}
}

func (b *CPUBackend) RMSNorm(out, in, weight []byte, dt dtype.DType, batch, hidden int, eps float32) {
	switch dt {
	case dtype.F32:
		rmsNorm[float32](out, in, weight, batch, hidden, eps)
	case dtype.F16:
		rmsNorm[float16.Float16](out, in, weight, batch, hidden, eps)
	case dtype.BF16:
		rmsNorm[bfloat16.BFloat16](out, in, weight, batch, hidden, eps)
	default:
		unsupported("rms_norm", dt)
	}
}

func (b *CPUBackend) RoPE(out, in, posIDs []byte, dt dtype.DType, seqLen, heads, headDim int, theta float32) {
	fault.Check(headDim%2 == 0, fault.ShapeMismatch, "rope: head dim %d is odd", headDim)
	switch dt {
	case dtype.F32:
		rope[float32](out, in, posIDs, seqLen, heads, headDim, theta)
	case dtype.F16:
		rope[float16.Float16](out, in, posIDs, seqLen, heads, headDim, theta)
	case dtype.BF16:
		rope[bfloat16.BFloat16](out, in, posIDs, seqLen, heads, headDim, theta)
	default:
		unsupported("rope", dt)
	}
}

func (b *CPUBackend) SelfAttention(out, q, k, v []byte, dt dtype.DType, p AttentionParams) {
	fault.Check(p.KVHeads > 0 && p.Heads%p.KVHeads == 0, fault.ShapeMismatch,
		"self_attention: %d query heads not divisible by %d kv heads", p.Heads, p.KVHeads)
	switch dt {
	case dtype.F32:
		selfAttention[float32](out, q, k, v, p)
	case dtype.F16:
		selfAttention[float16.Float16](out, q, k, v, p)
	case dtype.BF16:
		selfAttention[bfloat16.BFloat16](out, q, k, v, p)
	default:
		unsupported("self_attention", dt)
	}
}

func (b *CPUBackend) SwiGLU(out, gate, up []byte, dt dtype.DType, numel int) {
	switch dt {
	case dtype.F32:
		swiglu(dtype.View[float32](out, numel), dtype.View[float32](gate, numel), dtype.View[float32](up, numel))
	case dtype.F16:
		swiglu(dtype.View[float16.Float16](out, numel), dtype.View[float16.Float16](gate, numel), dtype.View[float16.Float16](up, numel))
	case dtype.BF16:
		swiglu(dtype.View[bfloat16.BFloat16](out, numel), dtype.View[bfloat16.BFloat16](gate, numel), dtype.View[bfloat16.BFloat16](up, numel))
	default:
		unsupported("swiglu", dt)
	}
}

// Rearrange is a byte copy and therefore valid for every dtype.
func (b *CPUBackend) Rearrange(out, in []byte, dt dtype.DType, shape, outStrides, inStrides []int) {
	esize := dt.Size()
	if esize == 0 {
		unsupported("rearrange", dt)
	}
	rearrange(out, in, esize, shape, outStrides, inStrides)
}
