// Package tensor is the strided, device-aware array of the core. A Tensor is
// plain metadata (dtype, shape, strides, byte offset) over a shared,
// reference-counted devrt.Storage; views derive new metadata and retain the
// same storage.
package tensor

import (
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

type Tensor struct {
	meta    Meta
	storage *devrt.Storage
	offset  int
	ctx     *devrt.Context
}

// Create allocates a zeroed row-major tensor. Asking for the CPU while an
// accelerator is current allocates host staging memory through the current
// runtime.
func Create(ctx *devrt.Context, shape []int, dt dtype.DType, dev devrt.Device) (t *Tensor, err error) {
	err = fault.Catch(func() { t = create(ctx, shape, dt, dev) })
	return
}

func create(ctx *devrt.Context, shape []int, dt dtype.DType, dev devrt.Device) *Tensor {
	fault.Check(dt.Valid(), fault.UnsupportedDType, "create: invalid dtype %s", dt)
	for i, s := range shape {
		fault.Check(s >= 0, fault.ShapeMismatch, "create: shape[%d] = %d is negative", i, s)
	}

	meta := Meta{
		DType:   dt,
		Shape:   append([]int(nil), shape...),
		Strides: RowMajor(shape),
	}
	size := Numel(shape) * dt.Size()

	var (
		storage *devrt.Storage
		err     error
	)
	if dev.Type == devrt.CPU && ctx.Current().Type != devrt.CPU {
		storage, err = ctx.Runtime().AllocateHostStorage(size)
	} else {
		fault.Must(ctx.SetDevice(dev.Type, dev.ID))
		storage, err = ctx.Runtime().AllocateDeviceStorage(size)
	}
	fault.Must(err)

	return &Tensor{meta: meta, storage: storage, ctx: ctx}
}

// derive returns a tensor sharing t's storage.
func (t *Tensor) derive(meta Meta, offset int) *Tensor {
	return &Tensor{meta: meta, storage: t.storage.Retain(), offset: offset, ctx: t.ctx}
}

// Release drops this tensor's hold on its storage. The tensor must not be
// used afterwards.
func (t *Tensor) Release() {
	if t.storage == nil {
		log.Warn().Str("meta", t.meta.String()).Msg("tensor released twice")
		return
	}
	t.storage.Release()
	t.storage = nil
}

func (t *Tensor) Context() *devrt.Context { return t.ctx }
func (t *Tensor) Meta() Meta              { return t.meta.clone() }
func (t *Tensor) NDim() int               { return len(t.meta.Shape) }
func (t *Tensor) DType() dtype.DType      { return t.meta.DType }
func (t *Tensor) ElementSize() int        { return t.meta.DType.Size() }
func (t *Tensor) Numel() int              { return Numel(t.meta.Shape) }
func (t *Tensor) Storage() *devrt.Storage { return t.storage }

// Offset is the byte offset of the first element within the storage.
func (t *Tensor) Offset() int { return t.offset }

// Shape returns a copy of the extents.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.meta.Shape...)
}

// Strides returns a copy of the strides, in elements.
func (t *Tensor) Strides() []int {
	return append([]int(nil), t.meta.Strides...)
}

func (t *Tensor) Device() devrt.Device {
	return t.storage.Device()
}

// Data returns the storage bytes starting at the first element.
func (t *Tensor) Data() []byte {
	return t.storage.Bytes()[t.offset:]
}

// Bytes returns the numel·dsize bytes starting at the first element. Only
// meaningful for contiguous tensors.
func (t *Tensor) Bytes() []byte {
	return t.Data()[:t.Numel()*t.ElementSize()]
}

func (t *Tensor) IsContiguous() bool {
	return t.meta.IsContiguous()
}

// Info describes shape, strides and dtype on one line.
func (t *Tensor) Info() string {
	return t.meta.String()
}

func (t *Tensor) String() string {
	return t.Info()
}
