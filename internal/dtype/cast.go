package dtype

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Float is the set of element types the numerical kernels are generic over.
// Half formats are opaque 16-bit values converted through float32.
type Float interface {
	float32 | float16.Float16 | bfloat16.BFloat16
}

// ToFloat32 widens an element to single precision.
func ToFloat32[T Float](v T) float32 {
	switch x := any(v).(type) {
	case float32:
		return x
	case float16.Float16:
		return x.Float32()
	case bfloat16.BFloat16:
		return x.Float32()
	}
	panic("unreachable")
}

// FromFloat32 narrows a single precision value to T. The conversion is lossy
// for the half formats.
func FromFloat32[T Float](f float32) T {
	var out T
	switch p := any(&out).(type) {
	case *float32:
		*p = f
	case *float16.Float16:
		*p = float16.Fromfloat32(f)
	case *bfloat16.BFloat16:
		*p = bfloat16.FromFloat32(f)
	}
	return out
}

// F16ToF32 decodes IEEE 754 binary16 bits.
func F16ToF32(bits uint16) float32 {
	return float16.Frombits(bits).Float32()
}

// F32ToF16 encodes f as IEEE 754 binary16 bits.
func F32ToF16(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// BF16ToF32 decodes bfloat16 bits.
func BF16ToF32(bits uint16) float32 {
	return bfloat16.FromBits(bits).Float32()
}

// F32ToBF16 encodes f as bfloat16 bits.
func F32ToBF16(f float32) uint16 {
	return bfloat16.FromFloat32(f).Bits()
}

// View reinterprets the first n elements of b as []T in native byte order.
// It panics if b is too short.
func View[T any](b []byte, n int) []T {
	if n == 0 {
		return nil
	}
	var zero T
	need := n * int(unsafe.Sizeof(zero))
	if len(b) < need {
		panic(fmt.Sprintf("dtype: buffer of %d bytes cannot hold %d elements (%d bytes)", len(b), n, need))
	}
	//nolint:gosec // length checked above
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

// EncodeFloat32 packs values into a host buffer of the given float dtype.
func EncodeFloat32(dt DType, values []float32) ([]byte, error) {
	buf := make([]byte, len(values)*dt.Size())
	switch dt {
	case F32:
		copy(View[float32](buf, len(values)), values)
	case F64:
		dst := View[float64](buf, len(values))
		for i, v := range values {
			dst[i] = float64(v)
		}
	case F16:
		dst := View[float16.Float16](buf, len(values))
		for i, v := range values {
			dst[i] = float16.Fromfloat32(v)
		}
	case BF16:
		dst := View[bfloat16.BFloat16](buf, len(values))
		for i, v := range values {
			dst[i] = bfloat16.FromFloat32(v)
		}
	default:
		return nil, fmt.Errorf("cannot encode float32 values as %s", dt)
	}
	return buf, nil
}

// DecodeFloat32 unpacks n elements of a float dtype into float32.
func DecodeFloat32(dt DType, buf []byte, n int) ([]float32, error) {
	out := make([]float32, n)
	switch dt {
	case F32:
		copy(out, View[float32](buf, n))
	case F64:
		for i, v := range View[float64](buf, n) {
			out[i] = float32(v)
		}
	case F16:
		for i, v := range View[float16.Float16](buf, n) {
			out[i] = v.Float32()
		}
	case BF16:
		for i, v := range View[bfloat16.BFloat16](buf, n) {
			out[i] = v.Float32()
		}
	default:
		return nil, fmt.Errorf("cannot decode %s as float32 values", dt)
	}
	return out, nil
}

// EncodeInt64 packs values into a native-endian I64 buffer.
func EncodeInt64(values []int64) []byte {
	buf := make([]byte, len(values)*I64.Size())
	copy(View[int64](buf, len(values)), values)
	return buf
}

// DecodeInt64 unpacks n I64 elements.
func DecodeInt64(buf []byte, n int) []int64 {
	out := make([]int64, n)
	copy(out, View[int64](buf, n))
	return out
}

// Widen converts src into the float32 slice dst, which must be at least as
// long as src.
func Widen[T Float](dst []float32, src []T) {
	switch s := any(src).(type) {
	case []float32:
		copy(dst, s)
	case []float16.Float16:
		for i, v := range s {
			dst[i] = v.Float32()
		}
	case []bfloat16.BFloat16:
		for i, v := range s {
			dst[i] = v.Float32()
		}
	}
}

// Narrow converts the float32 values of src into dst.
func Narrow[T Float](dst []T, src []float32) {
	switch d := any(dst).(type) {
	case []float32:
		copy(d, src)
	case []float16.Float16:
		for i, v := range src[:len(d)] {
			d[i] = float16.Fromfloat32(v)
		}
	case []bfloat16.BFloat16:
		for i, v := range src[:len(d)] {
			d[i] = bfloat16.FromFloat32(v)
		}
	}
}
