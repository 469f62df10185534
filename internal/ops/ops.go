// Package ops is the dispatch layer: one entry point per operator. Each entry
// checks that the operands share a device and satisfy the operator's shape
// and dtype contract, selects the backend of that device, and runs the kernel,
// which writes the output tensor in place.
//
// Violations are returned as *fault.Error values; nothing is retried.
package ops

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// Optional is an operand that may be absent, such as the bias of Linear.
type Optional struct {
	t *tensor.Tensor
}

// Some wraps a present operand.
func Some(t *tensor.Tensor) Optional {
	return Optional{t: t}
}

// None is the absent operand.
func None() Optional {
	return Optional{}
}

// Get returns the operand and whether it is present.
func (o Optional) Get() (*tensor.Tensor, bool) {
	return o.t, o.t != nil
}

// dispatch validates the operands and runs the kernel on their backend.
func dispatch(op string, operands []*tensor.Tensor, validate func(), run func(device.Backend)) error {
	start := time.Now()
	devLabel := "unknown"

	err := fault.Catch(func() {
		dev := sameDevice(op, operands)
		devLabel = dev.Type.String()
		validate()
		run(selectBackend(operands[0].Context(), dev))
	})

	dispatchTotal.WithLabelValues(op, devLabel).Inc()
	dispatchDuration.WithLabelValues(op, devLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		dispatchFailures.WithLabelValues(op, fault.KindOf(err).String()).Inc()
		log.Debug().Err(err).Str("op", op).Str("device", devLabel).Msg("dispatch failed")
	}
	return err
}

// selectBackend runs CPU kernels directly; any other device is made current
// before its backend is looked up.
func selectBackend(ctx *devrt.Context, dev devrt.Device) device.Backend {
	if dev.Type == devrt.CPU {
		return device.CPU()
	}
	fault.Must(ctx.SetDevice(dev.Type, dev.ID))
	b, ok := device.Lookup(dev.Type)
	if !ok {
		fault.Raise(fault.UnsupportedDevice, "no backend for device %s", dev)
	}
	return b
}

func sameDevice(op string, operands []*tensor.Tensor) devrt.Device {
	for i, t := range operands {
		fault.Check(t != nil, fault.Runtime, "%s: operand %d is nil", op, i)
	}
	dev := operands[0].Device()
	for _, t := range operands[1:] {
		fault.Check(t.Device() == dev, fault.DeviceMismatch,
			"%s: operands on %s and %s", op, dev, t.Device())
	}
	return dev
}

func contiguous(op string, ts ...*tensor.Tensor) {
	for _, t := range ts {
		fault.Check(t.IsContiguous(), fault.NotContiguous, "%s: operand %s is not contiguous", op, t.Info())
	}
}

func sameDType(op string, ts ...*tensor.Tensor) {
	for _, t := range ts[1:] {
		fault.Check(t.DType() == ts[0].DType(), fault.DTypeMismatch,
			"%s: dtype %s does not match %s", op, t.DType(), ts[0].DType())
	}
}

func ndim(op, name string, t *tensor.Tensor, n int) {
	fault.Check(t.NDim() == n, fault.ShapeMismatch, "%s: %s must be %d-D, got shape %v", op, name, n, t.Shape())
}

func dimEq(op, what string, got, want int) {
	fault.Check(got == want, fault.ShapeMismatch, "%s: %s is %d, expected %d", op, what, got, want)
}

func shapeEq(op string, a, b *tensor.Tensor) {
	sa, sb := a.Shape(), b.Shape()
	ok := len(sa) == len(sb)
	for i := 0; ok && i < len(sa); i++ {
		ok = sa[i] == sb[i]
	}
	fault.Check(ok, fault.ShapeMismatch, "%s: shape %v does not match %v", op, sb, sa)
}
