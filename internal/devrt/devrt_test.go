package devrt_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/devrt/devrttest"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

func TestContextDefaults(t *testing.T) {
	ctx := devrt.NewContext()
	assert.Equal(t, devrt.Host, ctx.Current())
	assert.True(t, ctx.Has(devrt.CPU))
	assert.False(t, ctx.Has(devrt.NVIDIA))
	assert.Equal(t, 1, ctx.DeviceCount(devrt.CPU))

	err := ctx.SetDevice(devrt.NVIDIA, 0)
	assert.True(t, errors.Is(err, fault.ErrUnsupportedDevice))

	err = ctx.SetDevice(devrt.CPU, 1)
	assert.True(t, errors.Is(err, fault.ErrOutOfRange))
	assert.Equal(t, devrt.Host, ctx.Current())
}

func TestNVIDIAStub(t *testing.T) {
	ctx := devrt.NewContext(devrt.NewNVIDIAStub())
	assert.Equal(t, 0, ctx.DeviceCount(devrt.NVIDIA))
	err := ctx.SetDevice(devrt.NVIDIA, 0)
	assert.True(t, errors.Is(err, fault.ErrOutOfRange))

	_, err = devrt.NewNVIDIAStub().MallocDevice(16)
	assert.True(t, errors.Is(err, fault.ErrNotImplemented))
}

func TestSetDevice(t *testing.T) {
	ctx, acc := devrttest.NewContext(2)

	require.NoError(t, ctx.SetDevice(devrt.NVIDIA, 1))
	assert.Equal(t, devrt.Device{Type: devrt.NVIDIA, ID: 1}, ctx.Current())
	assert.Equal(t, 1, acc.Current())

	// Selecting the current device again is a no-op.
	require.NoError(t, ctx.SetDevice(devrt.NVIDIA, 1))
	assert.Equal(t, []int{1}, acc.SetDeviceCalls())

	require.NoError(t, ctx.SetDevice(devrt.CPU, 0))
	assert.Equal(t, devrt.Host, ctx.Current())
	assert.Same(t, ctx.Runtime(), ctx.Runtime())
}

func TestStorageLifecycle(t *testing.T) {
	ctx, acc := devrttest.NewContext(1)
	require.NoError(t, ctx.SetDevice(devrt.NVIDIA, 0))

	t.Run("device storage", func(t *testing.T) {
		s, err := ctx.Runtime().AllocateDeviceStorage(64)
		require.NoError(t, err)
		assert.Equal(t, 64, s.Size())
		assert.Equal(t, devrt.NVIDIA, s.DeviceType())
		assert.False(t, s.IsHost())
		assert.Equal(t, 64, acc.LiveDeviceBytes())

		s.Retain()
		s.Release()
		assert.Equal(t, 64, acc.LiveDeviceBytes())
		s.Release()
		assert.Equal(t, 0, acc.LiveDeviceBytes())
		assert.Nil(t, s.Bytes())
	})

	t.Run("host staging", func(t *testing.T) {
		s, err := ctx.Runtime().AllocateHostStorage(32)
		require.NoError(t, err)
		assert.Equal(t, devrt.Host, s.Device())
		assert.True(t, s.IsHost())
		assert.Equal(t, 32, acc.LiveHostBytes())
		s.Release()
		assert.Equal(t, 0, acc.LiveHostBytes())
	})
}

func TestMemcpy(t *testing.T) {
	ctx, acc := devrttest.NewContext(1)
	require.NoError(t, ctx.SetDevice(devrt.NVIDIA, 0))
	rt := ctx.Runtime()

	dst := make([]byte, 4)
	require.NoError(t, rt.MemcpySync(dst, []byte{1, 2, 3, 4}, devrt.H2D))
	assert.Equal(t, []byte{1, 2, 3, 4}, dst)
	assert.Equal(t, 1, acc.Copies(devrt.H2D))

	err := rt.MemcpySync(make([]byte, 2), dst, devrt.D2H)
	assert.True(t, errors.Is(err, fault.ErrOutOfRange))
	assert.Equal(t, 0, acc.Copies(devrt.D2H))
}

func TestCPUAPI(t *testing.T) {
	api := devrt.NewCPUAPI(100)
	buf, err := api.MallocDevice(60)
	require.NoError(t, err)

	_, err = api.MallocDevice(60)
	assert.Equal(t, fault.Runtime, fault.KindOf(err))

	api.FreeDevice(buf)
	_, err = api.MallocDevice(60)
	assert.NoError(t, err)

	err = api.MemcpySync(make([]byte, 1), []byte{1}, devrt.H2D)
	assert.True(t, errors.Is(err, fault.ErrUnsupportedDevice))
	assert.Error(t, api.SetDevice(3))
}

func TestKindBetween(t *testing.T) {
	assert.Equal(t, devrt.H2H, devrt.KindBetween(devrt.CPU, devrt.CPU))
	assert.Equal(t, devrt.H2D, devrt.KindBetween(devrt.NVIDIA, devrt.CPU))
	assert.Equal(t, devrt.D2H, devrt.KindBetween(devrt.CPU, devrt.NVIDIA))
	assert.Equal(t, devrt.D2D, devrt.KindBetween(devrt.NVIDIA, devrt.NVIDIA))
}

func TestParseDeviceType(t *testing.T) {
	dt, err := devrt.ParseDeviceType("CUDA")
	require.NoError(t, err)
	assert.Equal(t, devrt.NVIDIA, dt)
	_, err = devrt.ParseDeviceType("tpu")
	assert.Error(t, err)
}
