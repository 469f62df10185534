// Package export converts tensors to Arrow record batches and IPC streams.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// ColumnName is the single column of an exported tensor.
const ColumnName = "values"

// RecordBatchBuilder creates Arrow record batches from tensors.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// Build lays t out as rows of its innermost dimension: a fixed_size_list
// column of width shape[-1] (1 for a scalar) with numel/width rows. Float
// dtypes export as float32, I64 as int64. The dtype and shape are kept in
// the schema metadata.
func (b *RecordBatchBuilder) Build(t *tensor.Tensor) (arrow.RecordBatch, error) {
	shape := t.Shape()
	width := 1
	if len(shape) > 0 {
		width = shape[len(shape)-1]
	}
	rows := 0
	if width > 0 {
		rows = t.Numel() / width
	}

	var (
		elem arrow.DataType
		fill func(array.Builder)
	)
	switch {
	case t.DType() == dtype.I64:
		vals, err := t.Int64s()
		if err != nil {
			return nil, err
		}
		elem = arrow.PrimitiveTypes.Int64
		fill = func(vb array.Builder) {
			vb.(*array.Int64Builder).AppendValues(vals, nil)
		}
	case t.DType().IsFloat():
		vals, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		elem = arrow.PrimitiveTypes.Float32
		fill = func(vb array.Builder) {
			vb.(*array.Float32Builder).AppendValues(vals, nil)
		}
	default:
		return nil, fmt.Errorf("export: unsupported dtype %s", t.DType())
	}

	md := arrow.NewMetadata([]string{"dtype", "shape"}, []string{t.DType().String(), FormatShape(shape)})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColumnName, Type: arrow.FixedSizeListOf(int32(width), elem)},
	}, &md)

	lb := array.NewFixedSizeListBuilder(b.mem, int32(width), elem)
	defer lb.Release()
	for i := 0; i < rows; i++ {
		lb.Append(true)
	}
	fill(lb.ValueBuilder())

	col := lb.NewArray()
	defer col.Release()
	return array.NewRecordBatch(schema, []arrow.Array{col}, int64(rows)), nil
}

// WriteIPC writes records as one Arrow IPC stream.
func WriteIPC(w io.Writer, recs ...arrow.RecordBatch) error {
	if len(recs) == 0 {
		return nil
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(recs[0].Schema()))
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return err
		}
	}
	return writer.Close()
}

// FormatShape renders a shape as "2x3x4"; a scalar is "".
func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, s := range shape {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, "x")
}

// ParseShape is the inverse of FormatShape.
func ParseShape(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "x")
	shape := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("export: bad shape %q", s)
		}
		shape[i] = n
	}
	return shape, nil
}
