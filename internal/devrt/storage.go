package devrt

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Storage owns one contiguous buffer. It is shared by reference between
// tensors: Retain and Release track the holders, and the allocating runtime's
// free function runs exactly once when the last holder releases it.
type Storage struct {
	data       []byte
	deviceType DeviceType
	deviceID   int
	host       bool

	refs atomic.Int32
	once sync.Once
	free func([]byte)
}

func newStorage(data []byte, dev Device, host bool, free func([]byte)) *Storage {
	s := &Storage{
		data:       data,
		deviceType: dev.Type,
		deviceID:   dev.ID,
		host:       host,
		free:       free,
	}
	s.refs.Store(1)
	return s
}

// Bytes returns the whole buffer. The slice stays valid until the last
// Release.
func (s *Storage) Bytes() []byte {
	return s.data
}

// Size returns the buffer size in bytes.
func (s *Storage) Size() int {
	return len(s.data)
}

func (s *Storage) DeviceType() DeviceType {
	return s.deviceType
}

func (s *Storage) DeviceID() int {
	return s.deviceID
}

// Device returns the (type, id) pair of the buffer.
func (s *Storage) Device() Device {
	return Device{Type: s.deviceType, ID: s.deviceID}
}

// IsHost reports whether the buffer is host staging memory allocated while a
// non-CPU device was current.
func (s *Storage) IsHost() bool {
	return s.host
}

// Refs returns the current number of holders.
func (s *Storage) Refs() int {
	return int(s.refs.Load())
}

// Retain adds a holder and returns s.
func (s *Storage) Retain() *Storage {
	s.refs.Add(1)
	return s
}

// Release drops a holder. The buffer is freed when no holder remains.
func (s *Storage) Release() {
	n := s.refs.Add(-1)
	switch {
	case n == 0:
		s.once.Do(func() {
			if s.free != nil {
				s.free(s.data)
			}
			s.data = nil
		})
	case n < 0:
		log.Warn().Int("refs", int(n)).Str("device", s.Device().String()).Msg("storage released more times than retained")
	}
}
