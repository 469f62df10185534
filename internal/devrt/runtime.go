package devrt

import (
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// Runtime binds an API to one device id. It is what tensors allocate from
// and copy through.
type Runtime struct {
	api API
	id  int
}

func newRuntime(api API, id int) *Runtime {
	return &Runtime{api: api, id: id}
}

// Device returns the device this runtime allocates on.
func (r *Runtime) Device() Device {
	return Device{Type: r.api.DeviceType(), ID: r.id}
}

func (r *Runtime) DeviceType() DeviceType {
	return r.api.DeviceType()
}

func (r *Runtime) API() API {
	return r.api
}

// AllocateDeviceStorage allocates size bytes of device memory.
func (r *Runtime) AllocateDeviceStorage(size int) (*Storage, error) {
	return r.allocate(size, false)
}

// AllocateHostStorage allocates size bytes of host memory through the
// runtime's pinned-host path. The storage is tagged as CPU memory.
func (r *Runtime) AllocateHostStorage(size int) (*Storage, error) {
	return r.allocate(size, true)
}

func (r *Runtime) allocate(size int, host bool) (*Storage, error) {
	if size < 0 {
		return nil, fault.New(fault.OutOfRange, "negative allocation of %d bytes", size)
	}

	var (
		buf  []byte
		err  error
		free func([]byte)
		dev  = r.Device()
	)
	if host {
		buf, err = r.api.MallocHost(size)
		free = r.api.FreeHost
		dev = Host
	} else {
		buf, err = r.api.MallocDevice(size)
		free = r.api.FreeDevice
	}
	if err != nil {
		return nil, err
	}

	labels := []string{r.Device().String(), memoryLabel(host)}
	allocations.WithLabelValues(labels...).Inc()
	allocatedBytes.WithLabelValues(labels...).Add(float64(size))
	liveBytes.WithLabelValues(labels...).Add(float64(size))

	log.Debug().
		Str("device", r.Device().String()).
		Bool("host", host).
		Str("size", humanize.IBytes(uint64(size))).
		Msg("allocated storage")

	return newStorage(buf, dev, host, func(b []byte) {
		free(b)
		liveBytes.WithLabelValues(labels...).Sub(float64(size))
	}), nil
}

// MemcpySync copies len(src) bytes from src to dst.
func (r *Runtime) MemcpySync(dst, src []byte, kind MemcpyKind) error {
	if len(dst) < len(src) {
		return fault.New(fault.OutOfRange, "memcpy of %d bytes into %d byte destination", len(src), len(dst))
	}
	if err := r.api.MemcpySync(dst, src, kind); err != nil {
		return err
	}
	memcpyOps.WithLabelValues(kind.String()).Inc()
	memcpyBytes.WithLabelValues(kind.String()).Add(float64(len(src)))
	return nil
}

// Synchronize blocks until all queued work on the device is complete.
func (r *Runtime) Synchronize() error {
	return r.api.Synchronize()
}
