package ops

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/devrt/devrttest"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

func f32(t *testing.T, ctx *devrt.Context, shape []int, values ...float32) *tensor.Tensor {
	t.Helper()
	return must.M1(tensor.FromFloat32(ctx, devrt.Host, dtype.F32, shape, values))
}

func i64(t *testing.T, ctx *devrt.Context, values ...int64) *tensor.Tensor {
	t.Helper()
	return must.M1(tensor.FromInt64(ctx, devrt.Host, []int{len(values)}, values))
}

func empty(t *testing.T, ctx *devrt.Context, dt dtype.DType, shape ...int) *tensor.Tensor {
	t.Helper()
	return must.M1(tensor.Create(ctx, shape, dt, devrt.Host))
}

func values(t *testing.T, x *tensor.Tensor) []float32 {
	t.Helper()
	return must.M1(x.Float32s())
}

func randn(r *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(r.NormFloat64())
	}
	return out
}

func TestScenarios(t *testing.T) {
	ctx := devrt.NewContext()

	t.Run("argmax", func(t *testing.T) {
		idx, val := empty(t, ctx, dtype.I64, 1), empty(t, ctx, dtype.F32, 1)
		require.NoError(t, Argmax(idx, val, f32(t, ctx, []int{4}, 1, 3, 3, 2)))
		assert.Equal(t, []int64{1}, must.M1(idx.Int64s()))
		assert.Equal(t, []float32{3}, values(t, val))
	})

	t.Run("embedding", func(t *testing.T) {
		out := empty(t, ctx, dtype.F32, 2, 2)
		weight := f32(t, ctx, []int{3, 2}, 1, 2, 3, 4, 5, 6)
		require.NoError(t, Embedding(out, i64(t, ctx, 2, 0), weight))
		assert.Equal(t, []float32{5, 6, 1, 2}, values(t, out))
	})

	t.Run("linear", func(t *testing.T) {
		out := empty(t, ctx, dtype.F32, 1, 3)
		in := f32(t, ctx, []int{1, 2}, 1, 2)
		weight := f32(t, ctx, []int{3, 2}, 1, 0, 0, 1, 1, 1)
		bias := f32(t, ctx, []int{3}, 0, 0, 10)
		require.NoError(t, Linear(out, in, weight, Some(bias)))
		assert.Equal(t, []float32{1, 2, 13}, values(t, out))

		require.NoError(t, Linear(out, in, weight, None()))
		assert.Equal(t, []float32{1, 2, 3}, values(t, out))
	})

	t.Run("rms_norm", func(t *testing.T) {
		out := empty(t, ctx, dtype.F32, 1, 2)
		require.NoError(t, RMSNorm(out, f32(t, ctx, []int{1, 2}, 3, 4), f32(t, ctx, []int{2}, 1, 1), 0))
		got := values(t, out)
		assert.InDelta(t, 3/math.Sqrt(12.5), got[0], 1e-5)
		assert.InDelta(t, 4/math.Sqrt(12.5), got[1], 1e-5)
	})

	t.Run("rope", func(t *testing.T) {
		out := empty(t, ctx, dtype.F32, 1, 1, 4)
		require.NoError(t, RoPE(out, f32(t, ctx, []int{1, 1, 4}, 1, 0, 0, 1), i64(t, ctx, 1), 10000))
		want := []float64{math.Cos(1), -math.Sin(0.01), math.Sin(1), math.Cos(0.01)}
		for i, got := range values(t, out) {
			assert.InDelta(t, want[i], got, 1e-6, "element %d", i)
		}
	})

	t.Run("self_attention", func(t *testing.T) {
		out := empty(t, ctx, dtype.F32, 2, 1, 1)
		q := f32(t, ctx, []int{2, 1, 1}, 1, 1)
		k := f32(t, ctx, []int{2, 1, 1}, 0, 2)
		v := f32(t, ctx, []int{2, 1, 1}, 5, 7)
		require.NoError(t, SelfAttention(out, q, k, v, 1))
		got := values(t, out)
		assert.Equal(t, float32(5), got[0])
		assert.InDelta(t, 6.7616, got[1], 1e-4)
	})

	t.Run("swiglu", func(t *testing.T) {
		out := empty(t, ctx, dtype.F32, 2)
		require.NoError(t, SwiGLU(out, f32(t, ctx, []int{2}, 0, 2), f32(t, ctx, []int{2}, 1, 1)))
		got := values(t, out)
		assert.Equal(t, float32(0), got[0])
		assert.InDelta(t, 1.7616, got[1], 1e-4)
	})
}

func TestRMSNormEnergy(t *testing.T) {
	ctx := devrt.NewContext()
	r := rand.New(rand.NewSource(3))
	const batch, hidden = 4, 16

	ones := make([]float32, hidden)
	for i := range ones {
		ones[i] = 1
	}
	x := randn(r, batch*hidden)
	for _, eps := range []float32{1e-2, 1e-6} {
		out := empty(t, ctx, dtype.F32, batch, hidden)
		require.NoError(t, RMSNorm(out, f32(t, ctx, []int{batch, hidden}, x...), f32(t, ctx, []int{hidden}, ones...), eps))
		got := values(t, out)
		for b := 0; b < batch; b++ {
			var in2, out2 float64
			for i := 0; i < hidden; i++ {
				in2 += float64(x[b*hidden+i]) * float64(x[b*hidden+i])
				out2 += float64(got[b*hidden+i]) * float64(got[b*hidden+i])
			}
			want := hidden * in2 / (in2 + hidden*float64(eps))
			assert.InDelta(t, want, out2, 1e-3*want, "row %d eps %g", b, eps)
		}
	}
}

func TestRoPEInverse(t *testing.T) {
	ctx := devrt.NewContext()
	r := rand.New(rand.NewSource(5))
	const seq, heads, dim = 3, 2, 8
	x := randn(r, seq*heads*dim)
	in := f32(t, ctx, []int{seq, heads, dim}, x...)

	t.Run("zero positions are the identity", func(t *testing.T) {
		out := empty(t, ctx, dtype.F32, seq, heads, dim)
		require.NoError(t, RoPE(out, in, i64(t, ctx, 0, 0, 0), 10000))
		assert.Equal(t, x, values(t, out))
	})

	t.Run("p then -p round trips", func(t *testing.T) {
		fwd := empty(t, ctx, dtype.F32, seq, heads, dim)
		back := empty(t, ctx, dtype.F32, seq, heads, dim)
		require.NoError(t, RoPE(fwd, in, i64(t, ctx, 1, 7, 42), 10000))
		require.NoError(t, RoPE(back, fwd, i64(t, ctx, -1, -7, -42), 10000))
		for i, got := range values(t, back) {
			assert.InDelta(t, x[i], got, 1e-4, "element %d", i)
		}
	})
}

func TestSelfAttentionVisiblePositions(t *testing.T) {
	ctx := devrt.NewContext()
	const seq, kvLen = 3, 7

	// Zero keys give uniform weights over the visible prefix; with v[t] = t
	// the output is the mean (n-1)/2 of the n visible positions.
	v := make([]float32, kvLen)
	for i := range v {
		v[i] = float32(i)
	}
	out := empty(t, ctx, dtype.F32, seq, 1, 1)
	q := f32(t, ctx, []int{seq, 1, 1}, 1, 1, 1)
	k := f32(t, ctx, []int{kvLen, 1, 1}, make([]float32, kvLen)...)
	require.NoError(t, SelfAttention(out, q, k, f32(t, ctx, []int{kvLen, 1, 1}, v...), 1))

	for qPos, got := range values(t, out) {
		visible := qPos + 1 + (kvLen - seq)
		assert.InDelta(t, float64(visible-1)/2, got, 1e-5, "query %d", qPos)
	}
}

func TestSelfAttentionMaskedPositions(t *testing.T) {
	ctx := devrt.NewContext()
	r := rand.New(rand.NewSource(11))
	const seq, heads, kvHeads, dim = 4, 4, 2, 4
	q := f32(t, ctx, []int{seq, heads, dim}, randn(r, seq*heads*dim)...)
	kv := randn(r, seq*kvHeads*dim)
	vv := randn(r, seq*kvHeads*dim)

	base := empty(t, ctx, dtype.F32, seq, heads, dim)
	require.NoError(t, SelfAttention(base, q, f32(t, ctx, []int{seq, kvHeads, dim}, kv...), f32(t, ctx, []int{seq, kvHeads, dim}, vv...), 0.5))

	// Positions t > q_pos are masked for query 0, so replacing everything
	// after t=0 leaves its output untouched.
	row := kvHeads * dim
	for i := row; i < len(kv); i++ {
		kv[i], vv[i] = -kv[i], vv[i]*10
	}
	flipped := empty(t, ctx, dtype.F32, seq, heads, dim)
	require.NoError(t, SelfAttention(flipped, q, f32(t, ctx, []int{seq, kvHeads, dim}, kv...), f32(t, ctx, []int{seq, kvHeads, dim}, vv...), 0.5))

	n := heads * dim
	assert.Equal(t, values(t, base)[:n], values(t, flipped)[:n])
}

func TestArgmaxTies(t *testing.T) {
	ctx := devrt.NewContext()
	idx, val := empty(t, ctx, dtype.I64, 1), empty(t, ctx, dtype.F16, 1)
	vals := must.M1(tensor.FromFloat32(ctx, devrt.Host, dtype.F16, []int{2, 3}, []float32{-1, 4, 0, 4, 4, -2}))
	require.NoError(t, Argmax(idx, val, vals))
	assert.Equal(t, []int64{1}, must.M1(idx.Int64s()))
	assert.Equal(t, []float32{4}, values(t, val))
}

func TestEmbeddingBytewise(t *testing.T) {
	ctx := devrt.NewContext()
	r := rand.New(rand.NewSource(2))
	weight := must.M1(tensor.FromFloat32(ctx, devrt.Host, dtype.BF16, []int{5, 3}, randn(r, 15)))
	out := empty(t, ctx, dtype.BF16, 3, 3)
	require.NoError(t, Embedding(out, i64(t, ctx, 4, 4, 1), weight))

	wb, ob := weight.Bytes(), out.Bytes()
	assert.Equal(t, wb[4*6:5*6], ob[0:6])
	assert.Equal(t, wb[4*6:5*6], ob[6:12])
	assert.Equal(t, wb[1*6:2*6], ob[12:18])
}

func TestLinearIdentity(t *testing.T) {
	ctx := devrt.NewContext()
	r := rand.New(rand.NewSource(9))
	const n = 5
	eye := make([]float32, n*n)
	for i := 0; i < n; i++ {
		eye[i*n+i] = 1
	}
	x := randn(r, 3*n)
	out := empty(t, ctx, dtype.F32, 3, n)
	require.NoError(t, Linear(out, f32(t, ctx, []int{3, n}, x...), f32(t, ctx, []int{n, n}, eye...), Some(f32(t, ctx, []int{n}, make([]float32, n)...))))
	assert.Equal(t, x, values(t, out))
}

func TestSwiGLUProperties(t *testing.T) {
	ctx := devrt.NewContext()
	r := rand.New(rand.NewSource(4))
	g := randn(r, 6)

	out := empty(t, ctx, dtype.F32, 2, 3)
	require.NoError(t, SwiGLU(out, f32(t, ctx, []int{2, 3}, make([]float32, 6)...), f32(t, ctx, []int{2, 3}, g...)))
	assert.Equal(t, make([]float32, 6), values(t, out))

	ones := []float32{1, 1, 1, 1, 1, 1}
	require.NoError(t, SwiGLU(out, f32(t, ctx, []int{2, 3}, g...), f32(t, ctx, []int{2, 3}, ones...)))
	for i, got := range values(t, out) {
		x := float64(g[i])
		assert.InDelta(t, x/(1+math.Exp(-x)), got, 1e-5)
	}
}

func TestRearrangePermuted(t *testing.T) {
	ctx := devrt.NewContext()
	src := make([]float32, 24)
	for i := range src {
		src[i] = float32(i)
	}
	x := f32(t, ctx, []int{2, 3, 4}, src...)
	p := must.M1(x.Permute(2, 0, 1))

	out := empty(t, ctx, dtype.F32, 4, 2, 3)
	require.NoError(t, Rearrange(out, p))
	got := values(t, out)
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 3; k++ {
				assert.Equal(t, src[j*12+k*4+i], got[i*6+j*3+k])
			}
		}
	}
	assert.Equal(t, must.M1(must.M1(p.Contiguous()).Float32s()), got)
}

func TestValidation(t *testing.T) {
	ctx := devrt.NewContext()
	m := func(shape ...int) *tensor.Tensor { return empty(t, ctx, dtype.F32, shape...) }
	cases := []struct {
		name string
		call func() error
		want error
	}{
		{"argmax idx dtype", func() error { return Argmax(m(1), m(1), m(4)) }, fault.ErrDTypeMismatch},
		{"argmax val dtype", func() error { return Argmax(empty(t, ctx, dtype.I64, 1), empty(t, ctx, dtype.F16, 1), m(4)) }, fault.ErrDTypeMismatch},
		{"argmax val numel", func() error { return Argmax(empty(t, ctx, dtype.I64, 1), m(2), m(4)) }, fault.ErrShapeMismatch},
		{"embedding index dtype", func() error { return Embedding(m(2, 2), m(2), m(3, 2)) }, fault.ErrDTypeMismatch},
		{"embedding out width", func() error { return Embedding(m(2, 3), i64(t, ctx, 0, 1), m(3, 2)) }, fault.ErrShapeMismatch},
		{"linear in features", func() error { return Linear(m(1, 3), m(1, 4), m(3, 2), None()) }, fault.ErrShapeMismatch},
		{"linear bias length", func() error { return Linear(m(1, 3), m(1, 2), m(3, 2), Some(m(2))) }, fault.ErrShapeMismatch},
		{"linear dtype", func() error { return Linear(m(1, 3), empty(t, ctx, dtype.F16, 1, 2), m(3, 2), None()) }, fault.ErrDTypeMismatch},
		{"rms_norm weight", func() error { return RMSNorm(m(2, 4), m(2, 4), m(3), 1e-5) }, fault.ErrShapeMismatch},
		{"rope odd dim", func() error { return RoPE(m(1, 1, 3), m(1, 1, 3), i64(t, ctx, 0), 1e4) }, fault.ErrShapeMismatch},
		{"rope pos dtype", func() error { return RoPE(m(1, 1, 2), m(1, 1, 2), m(1), 1e4) }, fault.ErrDTypeMismatch},
		{"attention heads", func() error { return SelfAttention(m(1, 3, 2), m(1, 3, 2), m(1, 2, 2), m(1, 2, 2), 1) }, fault.ErrShapeMismatch},
		{"attention head dim", func() error { return SelfAttention(m(1, 2, 2), m(1, 2, 2), m(1, 2, 4), m(1, 2, 4), 1) }, fault.ErrShapeMismatch},
		{"attention kv shapes", func() error { return SelfAttention(m(1, 2, 2), m(1, 2, 2), m(2, 2, 2), m(1, 2, 2), 1) }, fault.ErrShapeMismatch},
		{"swiglu shape", func() error { return SwiGLU(m(4), m(4), m(2, 2)) }, fault.ErrShapeMismatch},
		{"swiglu unsupported dtype", func() error {
			return SwiGLU(empty(t, ctx, dtype.F64, 2), empty(t, ctx, dtype.F64, 2), empty(t, ctx, dtype.F64, 2))
		}, fault.ErrUnsupportedDType},
		{"rearrange non-contiguous out", func() error {
			return Rearrange(must.M1(m(2, 3).Permute(1, 0)), m(3, 2))
		}, fault.ErrNotContiguous},
		{"swiglu non-contiguous input", func() error {
			return SwiGLU(m(3, 2), must.M1(m(2, 3).Permute(1, 0)), m(3, 2))
		}, fault.ErrNotContiguous},
		{"nil operand", func() error { return SwiGLU(m(2), nil, m(2)) }, fault.ErrRuntime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestDeviceRouting(t *testing.T) {
	ctx, acc := devrttest.NewContext(2)
	gpu := devrt.Device{Type: devrt.NVIDIA, ID: 1}
	onGPU := func(shape ...int) *tensor.Tensor {
		return must.M1(tensor.Create(ctx, shape, dtype.F32, gpu))
	}

	t.Run("device mismatch", func(t *testing.T) {
		err := SwiGLU(onGPU(2), f32(t, ctx, []int{2}, 1, 2), onGPU(2))
		assert.True(t, errors.Is(err, fault.ErrDeviceMismatch))
	})

	t.Run("accelerator kernels not implemented", func(t *testing.T) {
		out, gate, up := onGPU(2), onGPU(2), onGPU(2)
		require.NoError(t, ctx.SetDevice(devrt.CPU, 0))
		calls := len(acc.SetDeviceCalls())
		err := SwiGLU(out, gate, up)
		assert.True(t, errors.Is(err, fault.ErrNotImplemented))
		assert.Equal(t, gpu, ctx.Current())
		assert.Len(t, acc.SetDeviceCalls(), calls+1)
	})

	t.Run("unregistered backend", func(t *testing.T) {
		other := devrttest.New(1)
		other.Type = devrt.DeviceType(5)
		ctx.Register(other)
		dev := devrt.Device{Type: devrt.DeviceType(5)}
		x := must.M1(tensor.Create(ctx, []int{2}, dtype.F32, dev))
		err := SwiGLU(x, x, x)
		assert.True(t, errors.Is(err, fault.ErrUnsupportedDevice))
	})
}
