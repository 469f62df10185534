package dtype

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestSize(t *testing.T) {
	cases := map[DType]int{
		Byte: 1, Bool: 1, I8: 1, U8: 1,
		I16: 2, U16: 2, F16: 2, BF16: 2,
		I32: 4, U32: 4, F32: 4,
		I64: 8, U64: 8, F64: 8,
		Invalid: 0, DType(11): 0,
	}
	for dt, want := range cases {
		assert.Equal(t, want, dt.Size(), "size of %s", dt)
	}
	assert.False(t, Invalid.Valid())
	assert.True(t, BF16.IsHalf())
	assert.False(t, F32.IsHalf())
}

func TestStableValues(t *testing.T) {
	// These integers cross the C ABI and must never change.
	assert.Equal(t, 6, int(I64))
	assert.Equal(t, 12, int(F16))
	assert.Equal(t, 13, int(F32))
	assert.Equal(t, 19, int(BF16))
}

func TestParse(t *testing.T) {
	for name, want := range map[string]DType{
		"f32": F32, "F16": F16, " bf16 ": BF16, "float16": F16, "bfloat16": BF16, "int64": I64,
	} {
		got, err := Parse(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := Parse("q4_0")
	assert.Error(t, err)
}

func TestCasts(t *testing.T) {
	t.Run("F16", func(t *testing.T) {
		// 1.0 = 0x3c00, -2.0 = 0xc000
		assert.Equal(t, uint16(0x3c00), F32ToF16(1.0))
		assert.Equal(t, uint16(0xc000), F32ToF16(-2.0))
		assert.Equal(t, float32(1.0), F16ToF32(0x3c00))
		assert.Equal(t, float32(0.5), ToFloat32(FromFloat32[float16.Float16](0.5)))
	})

	t.Run("BF16", func(t *testing.T) {
		// bfloat16 keeps the upper 16 bits of a float32
		assert.Equal(t, uint16(0x3f80), F32ToBF16(1.0))
		assert.Equal(t, float32(3.0), BF16ToF32(F32ToBF16(3.0)))
		assert.Equal(t, float32(-0.25), ToFloat32(FromFloat32[bfloat16.BFloat16](-0.25)))
	})

	t.Run("F32 identity", func(t *testing.T) {
		v := float32(math.Pi)
		assert.Equal(t, v, ToFloat32(FromFloat32[float32](v)))
	})
}

func TestEncodeDecode(t *testing.T) {
	values := []float32{1, -2, 0.5, 3}
	for _, dt := range []DType{F32, F64, F16, BF16} {
		buf, err := EncodeFloat32(dt, values)
		require.NoError(t, err)
		assert.Len(t, buf, len(values)*dt.Size())

		got, err := DecodeFloat32(dt, buf, len(values))
		require.NoError(t, err)
		assert.Equal(t, values, got, dt.String())
	}

	_, err := EncodeFloat32(I64, values)
	assert.Error(t, err)

	ids := []int64{2, 0, -7}
	assert.Equal(t, ids, DecodeInt64(EncodeInt64(ids), len(ids)))
}

func TestViewPanicsOnShortBuffer(t *testing.T) {
	assert.Panics(t, func() { View[float32](make([]byte, 7), 2) })
	assert.Nil(t, View[float32](nil, 0))
}

func TestWidenNarrow(t *testing.T) {
	src := []float32{1, -0.5, 4}

	halves := make([]float16.Float16, len(src))
	Narrow(halves, src)
	wide := make([]float32, len(src))
	Widen(wide, halves)
	assert.Equal(t, src, wide)

	brains := make([]bfloat16.BFloat16, len(src))
	Narrow(brains, src)
	Widen(wide, brains)
	assert.Equal(t, src, wide)

	same := make([]float32, len(src))
	Narrow(same, src)
	assert.Equal(t, src, same)
}
