package tensor

import (
	"bytes"
	"errors"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/devrt/devrttest"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

var gpu1 = devrt.Device{Type: devrt.NVIDIA, ID: 1}

func TestAccelerator_CreateAndLoad(t *testing.T) {
	ctx, acc := devrttest.NewContext(2)

	x, err := FromFloat32(ctx, gpu1, dtype.F32, []int{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, gpu1, x.Device())
	assert.Equal(t, gpu1, ctx.Current())
	assert.Equal(t, 1, acc.Current())
	assert.Equal(t, 1, acc.Copies(devrt.H2D))
	assert.Equal(t, 16, acc.LiveDeviceBytes())

	// Asking for the CPU while the accelerator is current stages in host
	// memory of the accelerator runtime.
	h, err := Create(ctx, []int{4}, dtype.F32, devrt.Host)
	require.NoError(t, err)
	assert.True(t, h.Storage().IsHost())
	assert.Equal(t, devrt.Host, h.Device())
	assert.Equal(t, 16, acc.LiveHostBytes())

	h.Release()
	x.Release()
	assert.Equal(t, 0, acc.LiveHostBytes())
	assert.Equal(t, 0, acc.LiveDeviceBytes())
}

func TestAccelerator_To(t *testing.T) {
	ctx, acc := devrttest.NewContext(2)
	x := newF32(t, ctx, 2, 3)

	d, err := x.To(gpu1)
	require.NoError(t, err)
	assert.Equal(t, gpu1, d.Device())
	assert.Equal(t, 1, acc.Copies(devrt.H2D))

	same, err := d.To(gpu1)
	require.NoError(t, err)
	assert.Same(t, d.Storage(), same.Storage())

	other, err := d.To(devrt.Device{Type: devrt.NVIDIA, ID: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, acc.Copies(devrt.D2D))

	back, err := other.To(devrt.Host)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.Copies(devrt.D2H))
	assert.True(t, back.Storage().IsHost())
	assert.Equal(t, must.M1(x.Float32s()), must.M1(back.Float32s()))

	// Non-contiguous host tensors are packed before the upload.
	tr := must.M1(x.Permute(1, 0))
	up, err := tr.To(gpu1)
	require.NoError(t, err)
	assert.True(t, up.IsContiguous())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, must.M1(up.Float32s()))
}

func TestAccelerator_Debug(t *testing.T) {
	ctx, acc := devrttest.NewContext(2)
	x := must.M1(FromFloat32(ctx, gpu1, dtype.F16, []int{3}, []float32{1, 2, 3}))
	s := must.M1(x.Slice(0, 1, 3))

	var buf bytes.Buffer
	require.NoError(t, s.DebugTo(&buf))
	assert.Equal(t, "Tensor: shape[ 2 ] strides[ 1 ] dtype=f16\n2 3 \n", buf.String())
	assert.Equal(t, 1, acc.Syncs())
	assert.Equal(t, 1, acc.Copies(devrt.D2H))
	assert.Equal(t, 0, acc.LiveHostBytes())
}

func TestAccelerator_ContiguousNeedsKernels(t *testing.T) {
	ctx, _ := devrttest.NewContext(1)
	x := must.M1(FromFloat32(ctx, devrt.Device{Type: devrt.NVIDIA}, dtype.F32, []int{2, 2}, []float32{1, 2, 3, 4}))
	tr := must.M1(x.Permute(1, 0))

	_, err := tr.Contiguous()
	assert.True(t, errors.Is(err, fault.ErrNotImplemented))
}
