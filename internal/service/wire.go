// Package service runs tensor operators on behalf of remote callers. Requests
// and responses travel as CBOR; operands are either inline tensors or names
// of tensors previously stored in the executor's registry.
package service

import (
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// Tensor is the wire form of a tensor: dtype name, shape and the elements in
// row-major order as native-endian bytes.
type Tensor struct {
	DType string `cbor:"dtype"`
	Shape []int  `cbor:"shape"`
	Data  []byte `cbor:"data"`
}

// Request carries the operands of one operator call. An operand role is
// looked up first in Tensors, then in Refs (role to registry name).
type Request struct {
	Tensors map[string]Tensor `cbor:"tensors,omitempty"`
	Refs    map[string]string `cbor:"refs,omitempty"`
	Eps     float32           `cbor:"eps,omitempty"`
	Theta   float32           `cbor:"theta,omitempty"`
	Scale   float32           `cbor:"scale,omitempty"`
	Perm    []int             `cbor:"perm,omitempty"`
}

// Response holds the operator outputs by role.
type Response struct {
	Outputs map[string]Tensor `cbor:"outputs"`
}

// Decode reads one CBOR value from r into v.
func Decode(r io.Reader, v any) error {
	return errors.Wrap(cbor.NewDecoder(r).Decode(v), "cbor decode")
}

// Encode writes v to w as CBOR.
func Encode(w io.Writer, v any) error {
	return errors.Wrap(cbor.NewEncoder(w).Encode(v), "cbor encode")
}

// FromTensor copies t to the host and returns its wire form.
func FromTensor(t *tensor.Tensor) (Tensor, error) {
	data, err := t.HostBytes()
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{DType: t.DType().String(), Shape: t.Shape(), Data: data}, nil
}

// Materialize creates the tensor on dev.
func (w Tensor) Materialize(ctx *devrt.Context, dev devrt.Device) (*tensor.Tensor, error) {
	dt, err := dtype.Parse(w.DType)
	if err != nil {
		return nil, fault.New(fault.UnsupportedDType, "%v", err)
	}
	for _, s := range w.Shape {
		if s < 0 {
			return nil, fault.New(fault.ShapeMismatch, "negative extent in shape %v", w.Shape)
		}
	}
	if want := tensor.Numel(w.Shape) * dt.Size(); len(w.Data) != want {
		return nil, fault.New(fault.ShapeMismatch, "shape %v of %s needs %d bytes, got %d", w.Shape, dt, want, len(w.Data))
	}
	return tensor.FromBytes(ctx, dev, dt, w.Shape, w.Data)
}

// Float32s decodes a float wire tensor.
func (w Tensor) Float32s() ([]float32, error) {
	dt, err := dtype.Parse(w.DType)
	if err != nil {
		return nil, err
	}
	return dtype.DecodeFloat32(dt, w.Data, tensor.Numel(w.Shape))
}

// NewFloat32 encodes values as a wire tensor of dtype dt.
func NewFloat32(dt dtype.DType, shape []int, values []float32) (Tensor, error) {
	data, err := dtype.EncodeFloat32(dt, values)
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{DType: dt.String(), Shape: shape, Data: data}, nil
}

// NewInt64 encodes values as an I64 wire tensor.
func NewInt64(shape []int, values []int64) Tensor {
	return Tensor{DType: dtype.I64.String(), Shape: shape, Data: dtype.EncodeInt64(values)}
}
