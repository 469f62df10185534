package device

import (
	"github.com/chewxy/math32"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/vecmath"
)

// argmax keeps the first maximum: only a strictly greater value replaces it.
func argmax[T dtype.Float](maxIdx []int64, maxVal []T, vals []T) {
	best := math32.Inf(-1)
	var idx int64
	for i, x := range vals {
		if v := dtype.ToFloat32(x); v > best {
			best = v
			idx = int64(i)
		}
	}
	maxIdx[0] = idx
	maxVal[0] = dtype.FromFloat32[T](best)
}

func linear[T dtype.Float](out, in, weight, bias []byte, batch, inF, outF int) {
	wb := getScratch(outF * inF)
	defer putScratch(wb)
	w := *wb
	dtype.Widen(w, dtype.View[T](weight, outF*inF))

	var bv []float32
	if bias != nil {
		bv = make([]float32, outF)
		dtype.Widen(bv, dtype.View[T](bias, outF))
	}

	x := make([]float32, inF)
	y := make([]float32, outF)
	src := dtype.View[T](in, batch*inF)
	dst := dtype.View[T](out, batch*outF)
	for b := 0; b < batch; b++ {
		dtype.Widen(x, src[b*inF:(b+1)*inF])
		for o := 0; o < outF; o++ {
			acc := vecmath.Dot(x, w[o*inF:(o+1)*inF])
			if bv != nil {
				acc += bv[o]
			}
			y[o] = acc
		}
		dtype.Narrow(dst[b*outF:(b+1)*outF], y)
	}
}

func rmsNorm[T dtype.Float](out, in, weight []byte, batch, hidden int, eps float32) {
	w := make([]float32, hidden)
	dtype.Widen(w, dtype.View[T](weight, hidden))

	x := make([]float32, hidden)
	src := dtype.View[T](in, batch*hidden)
	dst := dtype.View[T](out, batch*hidden)
	for b := 0; b < batch; b++ {
		dtype.Widen(x, src[b*hidden:(b+1)*hidden])
		ms := vecmath.SumSquares(x) / float32(hidden)
		scale := 1 / math32.Sqrt(ms+eps)
		for i := range x {
			x[i] = x[i] * scale * w[i]
		}
		dtype.Narrow(dst[b*hidden:(b+1)*hidden], x)
	}
}

// rope uses the halves layout: element d is paired with element d+D/2.
func rope[T dtype.Float](out, in, posIDs []byte, seqLen, heads, headDim int, theta float32) {
	half := headDim / 2
	denom := make([]float32, half)
	for d := range denom {
		denom[d] = math32.Pow(theta, float32(2*d)/float32(headDim))
	}

	pos := dtype.View[int64](posIDs, seqLen)
	n := seqLen * heads * headDim
	src := dtype.View[T](in, n)
	dst := dtype.View[T](out, n)
	x := make([]float32, headDim)
	y := make([]float32, headDim)
	for s := 0; s < seqLen; s++ {
		p := float32(pos[s])
		for h := 0; h < heads; h++ {
			off := (s*heads + h) * headDim
			dtype.Widen(x, src[off:off+headDim])
			for d := 0; d < half; d++ {
				sin, cos := math32.Sincos(p / denom[d])
				a, b := x[d], x[d+half]
				y[d] = a*cos - b*sin
				y[d+half] = b*cos + a*sin
			}
			dtype.Narrow(dst[off:off+headDim], y)
		}
	}
}

func selfAttention[E dtype.Float](out, q, k, v []byte, p AttentionParams) {
	seq, kvLen, heads, kvHeads, dim := p.SeqLen, p.KVLen, p.Heads, p.KVHeads, p.HeadDim
	group := heads / kvHeads

	kb, vb := getScratch(kvLen*kvHeads*dim), getScratch(kvLen*kvHeads*dim)
	defer putScratch(kb)
	defer putScratch(vb)
	kf, vf := *kb, *vb
	dtype.Widen(kf, dtype.View[E](k, kvLen*kvHeads*dim))
	dtype.Widen(vf, dtype.View[E](v, kvLen*kvHeads*dim))

	src := dtype.View[E](q, seq*heads*dim)
	dst := dtype.View[E](out, seq*heads*dim)
	qRow := make([]float32, dim)
	oRow := make([]float32, dim)
	scores := make([]float32, kvLen)

	for qPos := 0; qPos < seq; qPos++ {
		// Positions past maxAttend are masked; the leading kvLen-seq cache
		// entries are history every query may see.
		maxAttend := min(qPos+(kvLen-seq), kvLen-1)
		visible := max(maxAttend+1, 0)

		for h := 0; h < heads; h++ {
			kvHead := h / group
			off := (qPos*heads + h) * dim
			dtype.Widen(qRow, src[off:off+dim])

			for t := 0; t < visible; t++ {
				kOff := (t*kvHeads + kvHead) * dim
				scores[t] = p.Scale * vecmath.Dot(qRow, kf[kOff:kOff+dim])
			}
			vecmath.SoftmaxMasked(scores, visible)

			vecmath.Zero(oRow)
			for t := 0; t < visible; t++ {
				vOff := (t*kvHeads + kvHead) * dim
				vecmath.AddScaled(oRow, vf[vOff:vOff+dim], scores[t])
			}
			dtype.Narrow(dst[off:off+dim], oRow)
		}
	}
}

func swiglu[T dtype.Float](out, gate, up []T) {
	for i := range out {
		g := dtype.ToFloat32(gate[i])
		u := dtype.ToFloat32(up[i])
		out[i] = dtype.FromFloat32[T](u * g * vecmath.Sigmoid(g))
	}
}

// rearrange walks the logical index space in row-major order with an
// odometer over shape. When both innermost strides are 1 the innermost run
// is copied at once.
func rearrange(out, in []byte, esize int, shape, outStrides, inStrides []int) {
	ndim := len(shape)
	if ndim == 0 {
		copy(out[:esize], in[:esize])
		return
	}
	for _, n := range shape {
		if n == 0 {
			return
		}
	}

	inner := ndim - 1
	run := 1
	if outStrides[inner] == 1 && inStrides[inner] == 1 {
		run = shape[inner]
	}
	runBytes := run * esize

	idx := make([]int, ndim)
	outOff, inOff := 0, 0
	for {
		copy(out[outOff*esize:outOff*esize+runBytes], in[inOff*esize:inOff*esize+runBytes])

		// Advance the odometer; a full run consumes the innermost dimension.
		d := inner
		if run > 1 {
			d = inner - 1
		}
		for ; d >= 0; d-- {
			idx[d]++
			outOff += outStrides[d]
			inOff += inStrides[d]
			if idx[d] < shape[d] {
				break
			}
			outOff -= idx[d] * outStrides[d]
			inOff -= idx[d] * inStrides[d]
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}
