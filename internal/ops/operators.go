package ops

import (
	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// Argmax writes the index (I64, one element) and value of the first maximum
// of vals into maxIdx and maxVal.
func Argmax(maxIdx, maxVal, vals *tensor.Tensor) error {
	const op = "argmax"
	return dispatch(op, []*tensor.Tensor{maxIdx, maxVal, vals}, func() {
		contiguous(op, maxIdx, maxVal, vals)
		fault.Check(maxIdx.DType() == dtype.I64, fault.DTypeMismatch, "%s: max_idx must be i64, got %s", op, maxIdx.DType())
		sameDType(op, vals, maxVal)
		dimEq(op, "max_idx numel", maxIdx.Numel(), 1)
		dimEq(op, "max_val numel", maxVal.Numel(), 1)
	}, func(b device.Backend) {
		b.Argmax(maxIdx.Data(), maxVal.Data(), vals.Data(), vals.DType(), vals.Numel())
	})
}

// Embedding gathers rows of weight [V, E] selected by index [B] (I64) into
// out [B, E].
func Embedding(out, index, weight *tensor.Tensor) error {
	const op = "embedding"
	return dispatch(op, []*tensor.Tensor{out, index, weight}, func() {
		contiguous(op, out, index, weight)
		ndim(op, "weight", weight, 2)
		ndim(op, "index", index, 1)
		ndim(op, "out", out, 2)
		fault.Check(index.DType() == dtype.I64, fault.DTypeMismatch, "%s: index must be i64, got %s", op, index.DType())
		sameDType(op, weight, out)
		dimEq(op, "out rows", out.Shape()[0], index.Shape()[0])
		dimEq(op, "out columns", out.Shape()[1], weight.Shape()[1])
	}, func(b device.Backend) {
		ws := weight.Shape()
		b.Embedding(out.Data(), index.Data(), weight.Data(), weight.DType(), index.Numel(), ws[0], ws[1])
	})
}

// Linear computes out [B, O] = in [B, I] · weight [O, I]ᵀ + bias [O].
func Linear(out, in, weight *tensor.Tensor, bias Optional) error {
	const op = "linear"
	operands := []*tensor.Tensor{out, in, weight}
	bt, hasBias := bias.Get()
	if hasBias {
		operands = append(operands, bt)
	}
	return dispatch(op, operands, func() {
		contiguous(op, operands...)
		sameDType(op, operands...)
		ndim(op, "in", in, 2)
		ndim(op, "weight", weight, 2)
		ndim(op, "out", out, 2)
		dimEq(op, "weight in_features", weight.Shape()[1], in.Shape()[1])
		dimEq(op, "out rows", out.Shape()[0], in.Shape()[0])
		dimEq(op, "out columns", out.Shape()[1], weight.Shape()[0])
		if hasBias {
			ndim(op, "bias", bt, 1)
			dimEq(op, "bias length", bt.Shape()[0], weight.Shape()[0])
		}
	}, func(b device.Backend) {
		var biasData []byte
		if hasBias {
			biasData = bt.Data()
		}
		is, ws := in.Shape(), weight.Shape()
		b.Linear(out.Data(), in.Data(), weight.Data(), biasData, in.DType(), is[0], is[1], ws[0])
	})
}

// RMSNorm normalises each row of in [B, H] by its root mean square and
// multiplies by weight [H].
func RMSNorm(out, in, weight *tensor.Tensor, eps float32) error {
	const op = "rms_norm"
	return dispatch(op, []*tensor.Tensor{out, in, weight}, func() {
		contiguous(op, out, in, weight)
		sameDType(op, in, weight, out)
		ndim(op, "in", in, 2)
		ndim(op, "weight", weight, 1)
		shapeEq(op, in, out)
		dimEq(op, "weight length", weight.Shape()[0], in.Shape()[1])
	}, func(b device.Backend) {
		s := in.Shape()
		b.RMSNorm(out.Data(), in.Data(), weight.Data(), in.DType(), s[0], s[1], eps)
	})
}

// RoPE applies rotary position embedding to in [S, H, D] with positions
// posIDs [S] (I64).
func RoPE(out, in, posIDs *tensor.Tensor, theta float32) error {
	const op = "rope"
	return dispatch(op, []*tensor.Tensor{out, in, posIDs}, func() {
		contiguous(op, out, in, posIDs)
		sameDType(op, in, out)
		fault.Check(posIDs.DType() == dtype.I64, fault.DTypeMismatch, "%s: pos_ids must be i64, got %s", op, posIDs.DType())
		ndim(op, "in", in, 3)
		ndim(op, "pos_ids", posIDs, 1)
		shapeEq(op, in, out)
		dimEq(op, "pos_ids length", posIDs.Shape()[0], in.Shape()[0])
		fault.Check(in.Shape()[2]%2 == 0, fault.ShapeMismatch, "%s: head dim %d must be even", op, in.Shape()[2])
	}, func(b device.Backend) {
		s := in.Shape()
		b.RoPE(out.Data(), in.Data(), posIDs.Data(), in.DType(), s[0], s[1], s[2], theta)
	})
}

// SelfAttention computes grouped-query causal attention of q [S, Hq, D]
// over k, v [T, Hkv, D] into out [S, Hq, D]. With T > S the first T-S
// positions are cached history visible to every query.
func SelfAttention(out, q, k, v *tensor.Tensor, scale float32) error {
	const op = "self_attention"
	return dispatch(op, []*tensor.Tensor{out, q, k, v}, func() {
		contiguous(op, out, q, k, v)
		sameDType(op, q, k, v, out)
		ndim(op, "q", q, 3)
		ndim(op, "k", k, 3)
		ndim(op, "v", v, 3)
		shapeEq(op, q, out)
		shapeEq(op, k, v)
		qs, ks := q.Shape(), k.Shape()
		dimEq(op, "k head dim", ks[2], qs[2])
		fault.Check(ks[1] > 0 && qs[1]%ks[1] == 0, fault.ShapeMismatch,
			"%s: %d query heads not divisible by %d kv heads", op, qs[1], ks[1])
	}, func(b device.Backend) {
		qs, ks := q.Shape(), k.Shape()
		b.SelfAttention(out.Data(), q.Data(), k.Data(), v.Data(), q.DType(), device.AttentionParams{
			SeqLen:  qs[0],
			KVLen:   ks[0],
			Heads:   qs[1],
			KVHeads: ks[1],
			HeadDim: qs[2],
			Scale:   scale,
		})
	})
}

// SwiGLU computes out = up · gate · σ(gate) elementwise.
func SwiGLU(out, gate, up *tensor.Tensor) error {
	const op = "swiglu"
	return dispatch(op, []*tensor.Tensor{out, gate, up}, func() {
		contiguous(op, out, gate, up)
		sameDType(op, gate, up, out)
		shapeEq(op, gate, up)
		shapeEq(op, gate, out)
	}, func(b device.Backend) {
		b.SwiGLU(out.Data(), gate.Data(), up.Data(), gate.DType(), gate.Numel())
	})
}

// Rearrange copies in, of any strides, into the contiguous out of the same
// shape.
func Rearrange(out, in *tensor.Tensor) error {
	const op = "rearrange"
	return dispatch(op, []*tensor.Tensor{out, in}, func() {
		contiguous(op, out)
		sameDType(op, in, out)
		shapeEq(op, in, out)
	}, func(b device.Backend) {
		b.Rearrange(out.Data(), in.Data(), in.DType(), in.Shape(), out.Strides(), in.Strides())
	})
}
