package devrt

import "github.com/23skdu/longbow-tensorcore/internal/fault"

type nvidiaStub struct{}

// NewNVIDIAStub returns an accelerator API that reports no devices. Builds
// without a CUDA runtime register it so the NVIDIA tag resolves to a clear
// error instead of an unknown device.
func NewNVIDIAStub() API {
	return nvidiaStub{}
}

func (nvidiaStub) DeviceType() DeviceType { return NVIDIA }
func (nvidiaStub) DeviceCount() int       { return 0 }

func (nvidiaStub) SetDevice(int) error {
	return fault.New(fault.NotImplemented, "nvidia runtime not built")
}

func (nvidiaStub) Synchronize() error {
	return fault.New(fault.NotImplemented, "nvidia runtime not built")
}

func (nvidiaStub) MallocDevice(int) ([]byte, error) {
	return nil, fault.New(fault.NotImplemented, "nvidia runtime not built")
}

func (nvidiaStub) FreeDevice([]byte) {}

func (nvidiaStub) MallocHost(int) ([]byte, error) {
	return nil, fault.New(fault.NotImplemented, "nvidia runtime not built")
}

func (nvidiaStub) FreeHost([]byte) {}

func (nvidiaStub) MemcpySync([]byte, []byte, MemcpyKind) error {
	return fault.New(fault.NotImplemented, "nvidia runtime not built")
}
