// Package dtype enumerates tensor element types and the casts between the
// half-precision formats and float32.
package dtype

import (
	"fmt"
	"strings"
)

// DType is the element type of a tensor. The integer values are stable and
// shared with the C ABI.
type DType int

const (
	Invalid DType = 0
	Byte    DType = 1
	Bool    DType = 2
	I8      DType = 3
	I16     DType = 4
	I32     DType = 5
	I64     DType = 6
	U8      DType = 7
	U16     DType = 8
	U32     DType = 9
	U64     DType = 10
	F16     DType = 12
	F32     DType = 13
	F64     DType = 14
	BF16    DType = 19
)

// Size returns the element width in bytes, or 0 for an unknown dtype.
func (dt DType) Size() int {
	switch dt {
	case Byte, Bool, I8, U8:
		return 1
	case I16, U16, F16, BF16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, U64, F64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether dt is one of the enumerated element types.
func (dt DType) Valid() bool {
	return dt.Size() != 0
}

// IsFloat reports whether dt is a floating-point format.
func (dt DType) IsFloat() bool {
	switch dt {
	case F16, F32, F64, BF16:
		return true
	}
	return false
}

// IsHalf reports whether dt is one of the two 16-bit float formats.
func (dt DType) IsHalf() bool {
	return dt == F16 || dt == BF16
}

var names = map[DType]string{
	Byte: "byte",
	Bool: "bool",
	I8:   "i8",
	I16:  "i16",
	I32:  "i32",
	I64:  "i64",
	U8:   "u8",
	U16:  "u16",
	U32:  "u32",
	U64:  "u64",
	F16:  "f16",
	F32:  "f32",
	F64:  "f64",
	BF16: "bf16",
}

func (dt DType) String() string {
	if name, ok := names[dt]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", int(dt))
}

var aliases = map[string]DType{
	"float16":  F16,
	"half":     F16,
	"float32":  F32,
	"float":    F32,
	"float64":  F64,
	"double":   F64,
	"bfloat16": BF16,
	"int64":    I64,
	"int32":    I32,
	"int16":    I16,
	"int8":     I8,
	"uint8":    U8,
}

// Parse resolves a dtype by its short name ("f32", "bf16", "i64") or a common
// long alias ("float16", "int64").
func Parse(name string) (DType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for dt, n := range names {
		if n == name {
			return dt, nil
		}
	}
	if dt, ok := aliases[name]; ok {
		return dt, nil
	}
	return Invalid, fmt.Errorf("unknown dtype %q", name)
}
