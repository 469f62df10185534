package tensor

import (
	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// Contiguous returns t itself (sharing storage) when it is already
// contiguous, and otherwise a fresh contiguous copy on the same device made
// with the device's rearrange kernel.
func (t *Tensor) Contiguous() (out *Tensor, err error) {
	err = fault.Catch(func() { out = t.contiguous() })
	return
}

func (t *Tensor) contiguous() *Tensor {
	if t.IsContiguous() {
		return t.derive(t.meta.clone(), t.offset)
	}

	out := create(t.ctx, t.meta.Shape, t.meta.DType, t.Device())
	defer releaseOnPanic(out)
	t.backend().Rearrange(out.Data(), t.Data(), t.meta.DType, t.meta.Shape, out.meta.Strides, t.meta.Strides)
	return out
}

// backend makes t's device current and returns its kernels.
func (t *Tensor) backend() device.Backend {
	dev := t.Device()
	if dev.Type == devrt.CPU {
		return device.CPU()
	}
	fault.Must(t.ctx.SetDevice(dev.Type, dev.ID))
	return device.MustLookup(dev.Type)
}

// To returns t on dev. A tensor already there is returned as an alias;
// otherwise the contiguous layout of t is copied into a new tensor.
func (t *Tensor) To(dev devrt.Device) (out *Tensor, err error) {
	err = fault.Catch(func() { out = t.to(dev) })
	return
}

func (t *Tensor) to(dev devrt.Device) *Tensor {
	if t.Device() == dev {
		return t.derive(t.meta.clone(), t.offset)
	}

	src := t.contiguous()
	defer src.Release()

	// The accelerator side of the copy is made current so that a CPU
	// destination is allocated as host staging memory of that runtime.
	driver := dev
	if driver.Type == devrt.CPU {
		driver = src.Device()
	}
	fault.Must(t.ctx.SetDevice(driver.Type, driver.ID))

	out := create(t.ctx, t.meta.Shape, t.meta.DType, dev)
	defer releaseOnPanic(out)

	kind := devrt.KindBetween(dev.Type, src.Device().Type)
	fault.Must(t.copyRuntime(kind).MemcpySync(out.Bytes(), src.Bytes(), kind))
	return out
}

func (t *Tensor) copyRuntime(kind devrt.MemcpyKind) *devrt.Runtime {
	if kind == devrt.H2H {
		rt, err := t.ctx.RuntimeFor(devrt.Host)
		fault.Must(err)
		return rt
	}
	return t.ctx.Runtime()
}

// Load copies a host buffer of exactly numel·dsize row-major bytes into t,
// which must be contiguous.
func (t *Tensor) Load(src []byte) error {
	return fault.Catch(func() { t.load(src) })
}

func (t *Tensor) load(src []byte) {
	fault.Check(t.IsContiguous(), fault.NotContiguous, "load requires a contiguous tensor")
	size := t.Numel() * t.ElementSize()
	fault.Check(len(src) == size, fault.ShapeMismatch, "load: expected %d bytes, got %d", size, len(src))

	dev := t.Device()
	kind := devrt.H2H
	if dev.Type != devrt.CPU {
		fault.Must(t.ctx.SetDevice(dev.Type, dev.ID))
		kind = devrt.H2D
	}
	fault.Must(t.copyRuntime(kind).MemcpySync(t.Bytes(), src, kind))
}

func releaseOnPanic(t *Tensor) {
	if r := recover(); r != nil {
		t.Release()
		panic(r)
	}
}
