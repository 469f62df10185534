package device

import "sync"

// scratch pools the float32 buffers kernels widen whole operands into, such
// as linear weights and attention keys and values.
var scratch sync.Pool

// getScratch returns a buffer of length n. Its contents are undefined.
func getScratch(n int) *[]float32 {
	if v := scratch.Get(); v != nil {
		buf := v.(*[]float32)
		if cap(*buf) >= n {
			*buf = (*buf)[:n]
			scratchHits.Inc()
			return buf
		}
	}
	scratchMisses.Inc()
	buf := make([]float32, n)
	return &buf
}

func putScratch(buf *[]float32) {
	if buf != nil {
		scratch.Put(buf)
	}
}
