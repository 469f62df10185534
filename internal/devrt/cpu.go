package devrt

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

type cpuAPI struct {
	limit int64
	live  atomic.Int64
}

// NewCPUAPI returns the host runtime. A positive limit caps the bytes that
// may be live at once.
func NewCPUAPI(limit int64) API {
	return &cpuAPI{limit: limit}
}

func (c *cpuAPI) DeviceType() DeviceType { return CPU }
func (c *cpuAPI) DeviceCount() int       { return 1 }
func (c *cpuAPI) Synchronize() error     { return nil }

func (c *cpuAPI) SetDevice(id int) error {
	if id != 0 {
		return fault.New(fault.OutOfRange, "cpu has a single device, got id %d", id)
	}
	return nil
}

func (c *cpuAPI) MallocDevice(size int) ([]byte, error) {
	if c.limit > 0 {
		if n := c.live.Add(int64(size)); n > c.limit {
			c.live.Add(-int64(size))
			return nil, fault.New(fault.Runtime, "cpu memory limit %s exceeded allocating %s",
				humanize.IBytes(uint64(c.limit)), humanize.IBytes(uint64(size)))
		}
	} else {
		c.live.Add(int64(size))
	}
	return make([]byte, size), nil
}

func (c *cpuAPI) FreeDevice(buf []byte) {
	c.live.Add(-int64(len(buf)))
}

func (c *cpuAPI) MallocHost(size int) ([]byte, error) {
	return c.MallocDevice(size)
}

func (c *cpuAPI) FreeHost(buf []byte) {
	c.FreeDevice(buf)
}

func (c *cpuAPI) MemcpySync(dst, src []byte, kind MemcpyKind) error {
	if kind != H2H {
		return fault.New(fault.UnsupportedDevice, "cpu runtime cannot perform %s copies", kind)
	}
	copy(dst, src)
	return nil
}
