package devrt

import (
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// Context tracks the registered device APIs and the current device. The CPU
// is always registered and starts out current.
//
// A Context is not safe for concurrent use; callers that share one across
// goroutines must serialise access.
type Context struct {
	apis     map[DeviceType]API
	runtimes map[Device]*Runtime
	current  *Runtime
}

// NewContext returns a context with the CPU API plus any accelerators given.
// An API of type CPU in apis replaces the default CPU API.
func NewContext(apis ...API) *Context {
	c := &Context{
		apis:     make(map[DeviceType]API),
		runtimes: make(map[Device]*Runtime),
	}
	c.apis[CPU] = NewCPUAPI(0)
	for _, api := range apis {
		c.Register(api)
	}
	c.current = c.runtime(Host)
	return c
}

// Register adds or replaces the API for its device type.
func (c *Context) Register(api API) {
	dt := api.DeviceType()
	c.apis[dt] = api
	for dev := range c.runtimes {
		if dev.Type == dt {
			delete(c.runtimes, dev)
		}
	}
	if c.current != nil && c.current.DeviceType() == dt {
		c.current = c.runtime(c.current.Device())
	}
}

// Has reports whether an API is registered for dt.
func (c *Context) Has(dt DeviceType) bool {
	_, ok := c.apis[dt]
	return ok
}

// DeviceCount returns the number of devices of type dt, 0 when unregistered.
func (c *Context) DeviceCount(dt DeviceType) int {
	api, ok := c.apis[dt]
	if !ok {
		return 0
	}
	return api.DeviceCount()
}

// SetDevice makes (dt, id) the current device.
func (c *Context) SetDevice(dt DeviceType, id int) error {
	api, ok := c.apis[dt]
	if !ok {
		return fault.New(fault.UnsupportedDevice, "no runtime registered for %s", dt)
	}
	if id < 0 || id >= api.DeviceCount() {
		return fault.New(fault.OutOfRange, "%s device %d out of range [0, %d)", dt, id, api.DeviceCount())
	}
	dev := Device{Type: dt, ID: id}
	if c.current != nil && c.current.Device() == dev {
		return nil
	}
	if err := api.SetDevice(id); err != nil {
		return err
	}
	c.current = c.runtime(dev)
	log.Debug().Str("device", dev.String()).Msg("switched current device")
	return nil
}

// Runtime returns the runtime of the current device.
func (c *Context) Runtime() *Runtime {
	return c.current
}

// Current returns the current device.
func (c *Context) Current() Device {
	return c.current.Device()
}

// RuntimeFor returns the runtime of dev without changing the current device.
func (c *Context) RuntimeFor(dev Device) (*Runtime, error) {
	api, ok := c.apis[dev.Type]
	if !ok {
		return nil, fault.New(fault.UnsupportedDevice, "no runtime registered for %s", dev.Type)
	}
	if dev.ID < 0 || dev.ID >= api.DeviceCount() {
		return nil, fault.New(fault.OutOfRange, "%s device %d out of range [0, %d)", dev.Type, dev.ID, api.DeviceCount())
	}
	return c.runtime(dev), nil
}

func (c *Context) runtime(dev Device) *Runtime {
	if rt, ok := c.runtimes[dev]; ok {
		return rt
	}
	rt := newRuntime(c.apis[dev.Type], dev.ID)
	c.runtimes[dev] = rt
	return rt
}
