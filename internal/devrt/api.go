package devrt

// API is the per-device-type runtime a Context drives. Buffers are byte
// slices owned by the API that allocated them; MemcpySync copies len(src)
// bytes and returns only once the copy is complete.
type API interface {
	DeviceType() DeviceType
	DeviceCount() int
	SetDevice(id int) error
	Synchronize() error

	MallocDevice(size int) ([]byte, error)
	FreeDevice(buf []byte)
	MallocHost(size int) ([]byte, error)
	FreeHost(buf []byte)

	MemcpySync(dst, src []byte, kind MemcpyKind) error
}
