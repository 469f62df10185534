package tensor

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
)

// Debug prints Info and then every element to stdout, one innermost row per
// line, in logical order.
func (t *Tensor) Debug() error {
	return t.DebugTo(os.Stdout)
}

// DebugTo is Debug writing to w. Storage on an accelerator is synchronised
// and staged through host memory first.
func (t *Tensor) DebugTo(w io.Writer) error {
	return fault.Catch(func() { t.debug(w) })
}

func (t *Tensor) debug(w io.Writer) {
	host := t.Data()
	if dev := t.Device(); dev.Type != devrt.CPU {
		fault.Must(t.ctx.SetDevice(dev.Type, dev.ID))
		rt := t.ctx.Runtime()
		fault.Must(rt.Synchronize())

		staging, err := rt.AllocateHostStorage(t.storage.Size())
		fault.Must(err)
		defer staging.Release()
		fault.Must(rt.MemcpySync(staging.Bytes(), t.storage.Bytes(), devrt.D2H))
		host = staging.Bytes()[t.offset:]
	}

	var b strings.Builder
	b.WriteString(t.Info())
	b.WriteByte('\n')
	if t.NDim() == 0 {
		b.WriteString(formatElement(host, t.meta.DType))
		b.WriteByte('\n')
	} else if t.Numel() > 0 {
		printRows(&b, host, t.meta, 0, 0)
	}
	_, err := io.WriteString(w, b.String())
	fault.Must(err)
}

func printRows(b *strings.Builder, data []byte, m Meta, dim, off int) {
	esize := m.DType.Size()
	if dim == len(m.Shape)-1 {
		for i := 0; i < m.Shape[dim]; i++ {
			at := (off + i*m.Strides[dim]) * esize
			b.WriteString(formatElement(data[at:], m.DType))
			b.WriteByte(' ')
		}
		b.WriteByte('\n')
		return
	}
	for i := 0; i < m.Shape[dim]; i++ {
		printRows(b, data, m, dim+1, off+i*m.Strides[dim])
	}
}

func formatElement(b []byte, dt dtype.DType) string {
	switch dt {
	case dtype.Byte, dtype.U8:
		return fmt.Sprint(b[0])
	case dtype.Bool:
		return fmt.Sprint(b[0] != 0)
	case dtype.I8:
		return fmt.Sprint(int8(b[0]))
	case dtype.I16:
		return fmt.Sprint(dtype.View[int16](b, 1)[0])
	case dtype.I32:
		return fmt.Sprint(dtype.View[int32](b, 1)[0])
	case dtype.I64:
		return fmt.Sprint(dtype.View[int64](b, 1)[0])
	case dtype.U16:
		return fmt.Sprint(dtype.View[uint16](b, 1)[0])
	case dtype.U32:
		return fmt.Sprint(dtype.View[uint32](b, 1)[0])
	case dtype.U64:
		return fmt.Sprint(dtype.View[uint64](b, 1)[0])
	case dtype.F16:
		return fmt.Sprint(dtype.F16ToF32(dtype.View[uint16](b, 1)[0]))
	case dtype.BF16:
		return fmt.Sprint(dtype.BF16ToF32(dtype.View[uint16](b, 1)[0]))
	case dtype.F32:
		return fmt.Sprint(dtype.View[float32](b, 1)[0])
	case dtype.F64:
		return fmt.Sprint(dtype.View[float64](b, 1)[0])
	}
	fault.Raise(fault.UnsupportedDType, "debug: unsupported dtype %s", dt)
	return ""
}
