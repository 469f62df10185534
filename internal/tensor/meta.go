package tensor

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

// Meta is the value part of a tensor. Strides are counted in elements.
type Meta struct {
	DType   dtype.DType
	Shape   []int
	Strides []int
}

// RowMajor returns the C-order strides of shape.
func RowMajor(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// Numel returns the product of shape; 1 for a scalar.
func Numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func (m Meta) clone() Meta {
	return Meta{
		DType:   m.DType,
		Shape:   append([]int(nil), m.Shape...),
		Strides: append([]int(nil), m.Strides...),
	}
}

// IsContiguous walks dimensions innermost first: every dimension of extent
// other than 1 must carry the running product of the trailing extents, and a
// zero extent makes the layout trivially contiguous.
func (m Meta) IsContiguous() bool {
	stride := 1
	for i := len(m.Shape) - 1; i >= 0; i-- {
		if m.Shape[i] == 0 {
			return true
		}
		if m.Shape[i] != 1 && m.Strides[i] != stride {
			return false
		}
		stride *= m.Shape[i]
	}
	return true
}

func (m Meta) String() string {
	var b strings.Builder
	b.WriteString("Tensor: shape[ ")
	for _, s := range m.Shape {
		fmt.Fprintf(&b, "%d ", s)
	}
	b.WriteString("] strides[ ")
	for _, s := range m.Strides {
		fmt.Fprintf(&b, "%d ", s)
	}
	fmt.Fprintf(&b, "] dtype=%s", m.DType)
	return b.String()
}
