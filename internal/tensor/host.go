package tensor

import (
	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// FromFloat32 creates a tensor of a float dtype on dev holding values in
// row-major order.
func FromFloat32(ctx *devrt.Context, dev devrt.Device, dt dtype.DType, shape []int, values []float32) (*Tensor, error) {
	buf, err := dtype.EncodeFloat32(dt, values)
	if err != nil {
		return nil, fault.New(fault.UnsupportedDType, "%v", err)
	}
	return FromBytes(ctx, dev, dt, shape, buf)
}

// FromInt64 creates an I64 tensor on dev.
func FromInt64(ctx *devrt.Context, dev devrt.Device, shape []int, values []int64) (*Tensor, error) {
	return FromBytes(ctx, dev, dtype.I64, shape, dtype.EncodeInt64(values))
}

// FromBytes creates a tensor on dev and loads buf into it.
func FromBytes(ctx *devrt.Context, dev devrt.Device, dt dtype.DType, shape []int, buf []byte) (*Tensor, error) {
	t, err := Create(ctx, shape, dt, dev)
	if err != nil {
		return nil, err
	}
	if err := t.Load(buf); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// HostBytes returns t's elements in logical row-major order as a fresh host
// buffer.
func (t *Tensor) HostBytes() (out []byte, err error) {
	err = fault.Catch(func() {
		var host *Tensor
		if t.Device().Type == devrt.CPU {
			host = t.contiguous()
		} else {
			host = t.to(devrt.Host)
		}
		defer host.Release()
		out = append([]byte(nil), host.Bytes()...)
	})
	return
}

// Float32s reads a float tensor in logical row-major order.
func (t *Tensor) Float32s() ([]float32, error) {
	buf, err := t.HostBytes()
	if err != nil {
		return nil, err
	}
	vals, err := dtype.DecodeFloat32(t.DType(), buf, t.Numel())
	if err != nil {
		return nil, fault.New(fault.UnsupportedDType, "%v", err)
	}
	return vals, nil
}

// Int64s reads an I64 tensor in logical row-major order.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.DType() != dtype.I64 {
		return nil, fault.New(fault.DTypeMismatch, "expected i64, got %s", t.DType())
	}
	buf, err := t.HostBytes()
	if err != nil {
		return nil, err
	}
	return dtype.DecodeInt64(buf, t.Numel()), nil
}
