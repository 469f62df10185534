// Package devrttest provides an accelerator runtime emulated in host memory,
// for exercising the non-CPU paths of the tensor core without a device.
package devrttest

import (
	"sync"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// Accelerator implements devrt.API over Go memory and records every call
// that a test may want to assert on.
type Accelerator struct {
	Type    devrt.DeviceType
	Devices int

	mu         sync.Mutex
	current    int
	setDevice  []int
	copies     map[devrt.MemcpyKind]int
	syncs      int
	liveDevice int
	liveHost   int
}

// New returns an emulated NVIDIA accelerator with n devices.
func New(n int) *Accelerator {
	return &Accelerator{
		Type:    devrt.NVIDIA,
		Devices: n,
		copies:  make(map[devrt.MemcpyKind]int),
	}
}

func (a *Accelerator) DeviceType() devrt.DeviceType { return a.Type }
func (a *Accelerator) DeviceCount() int             { return a.Devices }

func (a *Accelerator) SetDevice(id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 0 || id >= a.Devices {
		return fault.New(fault.OutOfRange, "emulated device %d out of range", id)
	}
	a.current = id
	a.setDevice = append(a.setDevice, id)
	return nil
}

func (a *Accelerator) Synchronize() error {
	a.mu.Lock()
	a.syncs++
	a.mu.Unlock()
	return nil
}

func (a *Accelerator) MallocDevice(size int) ([]byte, error) {
	a.mu.Lock()
	a.liveDevice += size
	a.mu.Unlock()
	return make([]byte, size), nil
}

func (a *Accelerator) FreeDevice(buf []byte) {
	a.mu.Lock()
	a.liveDevice -= len(buf)
	a.mu.Unlock()
}

func (a *Accelerator) MallocHost(size int) ([]byte, error) {
	a.mu.Lock()
	a.liveHost += size
	a.mu.Unlock()
	return make([]byte, size), nil
}

func (a *Accelerator) FreeHost(buf []byte) {
	a.mu.Lock()
	a.liveHost -= len(buf)
	a.mu.Unlock()
}

func (a *Accelerator) MemcpySync(dst, src []byte, kind devrt.MemcpyKind) error {
	a.mu.Lock()
	a.copies[kind]++
	a.mu.Unlock()
	copy(dst, src)
	return nil
}

// Current returns the last device id selected with SetDevice.
func (a *Accelerator) Current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// SetDeviceCalls returns every id passed to SetDevice, in order.
func (a *Accelerator) SetDeviceCalls() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.setDevice...)
}

// Copies returns how many copies of kind were performed.
func (a *Accelerator) Copies(kind devrt.MemcpyKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copies[kind]
}

// Syncs returns the number of Synchronize calls.
func (a *Accelerator) Syncs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.syncs
}

// LiveDeviceBytes returns device bytes allocated and not yet freed.
func (a *Accelerator) LiveDeviceBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveDevice
}

// LiveHostBytes returns host bytes allocated and not yet freed.
func (a *Accelerator) LiveHostBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveHost
}

// NewContext returns a devrt.Context with a registered n-device accelerator.
func NewContext(n int) (*devrt.Context, *Accelerator) {
	acc := New(n)
	return devrt.NewContext(acc), acc
}
