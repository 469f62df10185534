package tensor

import (
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// Permute reorders the dimensions: dimension i of the result is dimension
// order[i] of t.
func (t *Tensor) Permute(order ...int) (out *Tensor, err error) {
	err = fault.Catch(func() { out = t.permute(order) })
	return
}

func (t *Tensor) permute(order []int) *Tensor {
	ndim := t.NDim()
	fault.Check(len(order) == ndim, fault.ShapeMismatch,
		"permute: order has %d entries for a %d-dim tensor", len(order), ndim)

	seen := make([]bool, ndim)
	meta := Meta{DType: t.meta.DType, Shape: make([]int, ndim), Strides: make([]int, ndim)}
	for i, d := range order {
		fault.Check(d >= 0 && d < ndim, fault.OutOfRange, "permute: dimension %d out of range [0, %d)", d, ndim)
		fault.Check(!seen[d], fault.OutOfRange, "permute: dimension %d repeated", d)
		seen[d] = true
		meta.Shape[i] = t.meta.Shape[d]
		meta.Strides[i] = t.meta.Strides[d]
	}
	return t.derive(meta, t.offset)
}

// View reinterprets a contiguous tensor with a new shape of equal numel.
func (t *Tensor) View(shape ...int) (out *Tensor, err error) {
	err = fault.Catch(func() { out = t.view("view", shape) })
	return
}

// Reshape has the same contract as View.
func (t *Tensor) Reshape(shape ...int) (out *Tensor, err error) {
	err = fault.Catch(func() { out = t.view("reshape", shape) })
	return
}

func (t *Tensor) view(op string, shape []int) *Tensor {
	fault.Check(t.IsContiguous(), fault.NotContiguous, "%s only on contiguous tensors", op)
	for i, s := range shape {
		fault.Check(s >= 0, fault.ShapeMismatch, "%s: shape[%d] = %d is negative", op, i, s)
	}
	fault.Check(Numel(shape) == t.Numel(), fault.ShapeMismatch,
		"%s: shape %v holds %d elements, tensor has %d", op, shape, Numel(shape), t.Numel())

	meta := Meta{
		DType:   t.meta.DType,
		Shape:   append([]int(nil), shape...),
		Strides: RowMajor(shape),
	}
	return t.derive(meta, t.offset)
}

// Slice keeps [start, end) of dimension dim.
func (t *Tensor) Slice(dim, start, end int) (out *Tensor, err error) {
	err = fault.Catch(func() { out = t.slice(dim, start, end) })
	return
}

func (t *Tensor) slice(dim, start, end int) *Tensor {
	fault.Check(dim >= 0 && dim < t.NDim(), fault.OutOfRange,
		"slice: dimension %d out of range [0, %d)", dim, t.NDim())
	fault.Check(start >= 0 && start < end && end <= t.meta.Shape[dim], fault.OutOfRange,
		"slice: [%d, %d) out of range for extent %d", start, end, t.meta.Shape[dim])

	meta := t.meta.clone()
	meta.Shape[dim] = end - start
	return t.derive(meta, t.offset+start*t.meta.Strides[dim]*t.ElementSize())
}
