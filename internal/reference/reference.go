// Package reference holds straightforward float64 implementations of the
// kernel catalogue. They are the oracle for randomized kernel checks.
package reference

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Argmax returns the first index holding the maximum.
func Argmax(vals []float64) (int, float64) {
	if len(vals) == 0 {
		return 0, math.Inf(-1)
	}
	idx := floats.MaxIdx(vals)
	return idx, vals[idx]
}

// Embedding gathers rows of the [vocab, dim] weight.
func Embedding(weight []float64, dim int, index []int64) []float64 {
	out := make([]float64, 0, len(index)*dim)
	for _, id := range index {
		out = append(out, weight[int(id)*dim:(int(id)+1)*dim]...)
	}
	return out
}

// Linear returns in [batch, inF] · weight [outF, inF]ᵀ + bias.
func Linear(in []float64, batch, inF int, weight []float64, outF int, bias []float64) []float64 {
	x := mat.NewDense(batch, inF, in)
	w := mat.NewDense(outF, inF, weight)
	var y mat.Dense
	y.Mul(x, w.T())
	if bias != nil {
		for b := 0; b < batch; b++ {
			floats.Add(y.RawRowView(b), bias)
		}
	}
	return y.RawMatrix().Data
}

// RMSNorm normalises each row of in [batch, hidden].
func RMSNorm(in []float64, batch, hidden int, weight []float64, eps float64) []float64 {
	out := make([]float64, len(in))
	for b := 0; b < batch; b++ {
		row := in[b*hidden : (b+1)*hidden]
		dst := out[b*hidden : (b+1)*hidden]
		ms := floats.Dot(row, row) / float64(hidden)
		floats.MulTo(dst, row, weight)
		floats.Scale(1/math.Sqrt(ms+eps), dst)
	}
	return out
}

// RoPE rotates the halves of each head of in [seq, heads, dim].
func RoPE(in []float64, pos []int64, seq, heads, dim int, theta float64) []float64 {
	out := make([]float64, len(in))
	half := dim / 2
	for s := 0; s < seq; s++ {
		for h := 0; h < heads; h++ {
			off := (s*heads + h) * dim
			for d := 0; d < half; d++ {
				freq := float64(pos[s]) / math.Pow(theta, float64(2*d)/float64(dim))
				sin, cos := math.Sincos(freq)
				a, b := in[off+d], in[off+d+half]
				out[off+d] = a*cos - b*sin
				out[off+d+half] = b*cos + a*sin
			}
		}
	}
	return out
}

// SelfAttention is grouped-query causal attention of q [seq, heads, dim]
// over k, v [kvLen, kvHeads, dim] where the first kvLen-seq positions are
// visible to every query.
func SelfAttention(q, k, v []float64, seq, kvLen, heads, kvHeads, dim int, scale float64) []float64 {
	out := make([]float64, seq*heads*dim)
	group := heads / kvHeads
	for qPos := 0; qPos < seq; qPos++ {
		visible := min(qPos+kvLen-seq, kvLen-1) + 1
		for h := 0; h < heads; h++ {
			kvh := h / group
			qRow := q[(qPos*heads+h)*dim : (qPos*heads+h+1)*dim]
			if visible <= 0 {
				continue
			}
			scores := make([]float64, visible)
			for t := range scores {
				scores[t] = scale * floats.Dot(qRow, k[(t*kvHeads+kvh)*dim:(t*kvHeads+kvh+1)*dim])
			}
			maxScore := floats.Max(scores)
			for t := range scores {
				scores[t] = math.Exp(scores[t] - maxScore)
			}
			floats.Scale(1/floats.Sum(scores), scores)

			dst := out[(qPos*heads+h)*dim : (qPos*heads+h+1)*dim]
			for t, p := range scores {
				floats.AddScaled(dst, p, v[(t*kvHeads+kvh)*dim:(t*kvHeads+kvh+1)*dim])
			}
		}
	}
	return out
}

// SwiGLU returns up · gate · σ(gate).
func SwiGLU(gate, up []float64) []float64 {
	out := make([]float64, len(gate))
	for i, g := range gate {
		out[i] = up[i] * g / (1 + math.Exp(-g))
	}
	return out
}

// MaxAbsDiff returns max |want[i] - got[i]|.
func MaxAbsDiff(want []float64, got []float32) float64 {
	wide := make([]float64, len(got))
	for i, g := range got {
		wide[i] = float64(g)
	}
	return floats.Distance(want, wide, math.Inf(1))
}

// Widen converts float32 values to float64.
func Widen(vals []float32) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	return out
}
