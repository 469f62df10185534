// Package kvcache keeps the keys and values of previous decode steps so that
// each step only computes attention inputs for its new tokens.
package kvcache

import (
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
	"github.com/23skdu/longbow-tensorcore/internal/ops"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// Cache holds preallocated [maxLen, kvHeads, headDim] key and value tensors
// of which the first Len positions are filled.
//
//	cache, _ := kvcache.New(ctx, devrt.Host, dtype.F16, 512, 2, 64)
//	for step := range steps {
//	    cache.Append(k, v)           // k, v: [S, 2, 64]
//	    cache.Attend(out, q, scale)  // q, out: [S, Hq, 64]
//	}
type Cache struct {
	keys   *tensor.Tensor
	values *tensor.Tensor
	length int
}

// New allocates an empty cache for up to maxLen positions.
func New(ctx *devrt.Context, dev devrt.Device, dt dtype.DType, maxLen, kvHeads, headDim int) (*Cache, error) {
	if maxLen <= 0 || kvHeads <= 0 || headDim <= 0 {
		return nil, fault.New(fault.ShapeMismatch, "kvcache: invalid geometry [%d, %d, %d]", maxLen, kvHeads, headDim)
	}
	shape := []int{maxLen, kvHeads, headDim}
	keys, err := tensor.Create(ctx, shape, dt, dev)
	if err != nil {
		return nil, err
	}
	values, err := tensor.Create(ctx, shape, dt, dev)
	if err != nil {
		keys.Release()
		return nil, err
	}
	return &Cache{keys: keys, values: values}, nil
}

// Len returns the number of cached positions.
func (c *Cache) Len() int {
	return c.length
}

// Cap returns the maximum number of positions.
func (c *Cache) Cap() int {
	return c.keys.Shape()[0]
}

// Append copies k and v, both [S, kvHeads, headDim] with any strides, after
// the cached positions.
func (c *Cache) Append(k, v *tensor.Tensor) error {
	ks := k.Shape()
	if len(ks) != 3 {
		return fault.New(fault.ShapeMismatch, "kvcache: keys must be 3-D, got shape %v", ks)
	}
	n := ks[0]
	if c.length+n > c.Cap() {
		return fault.New(fault.OutOfRange, "kvcache: appending %d positions to %d of %d", n, c.length, c.Cap())
	}
	if n == 0 {
		return nil
	}

	for _, pair := range [][2]*tensor.Tensor{{c.keys, k}, {c.values, v}} {
		dst, err := pair[0].Slice(0, c.length, c.length+n)
		if err != nil {
			return err
		}
		err = ops.Rearrange(dst, pair[1])
		dst.Release()
		if err != nil {
			return err
		}
	}
	c.length += n
	log.Debug().Int("appended", n).Int("len", c.length).Int("cap", c.Cap()).Msg("kv cache append")
	return nil
}

// Keys returns a view of the filled key positions. The caller releases it.
func (c *Cache) Keys() (*tensor.Tensor, error) {
	return c.filled(c.keys)
}

// Values returns a view of the filled value positions. The caller releases it.
func (c *Cache) Values() (*tensor.Tensor, error) {
	return c.filled(c.values)
}

func (c *Cache) filled(t *tensor.Tensor) (*tensor.Tensor, error) {
	if c.length == 0 {
		return nil, fault.New(fault.OutOfRange, "kvcache: empty")
	}
	return t.Slice(0, 0, c.length)
}

// Attend runs self-attention of q [S, Hq, D] against every cached position;
// the last S cached positions are taken to be q's own tokens.
func (c *Cache) Attend(out, q *tensor.Tensor, scale float32) error {
	keys, err := c.Keys()
	if err != nil {
		return err
	}
	defer keys.Release()
	values, err := c.Values()
	if err != nil {
		return err
	}
	defer values.Release()
	return ops.SelfAttention(out, q, keys, values, scale)
}

// Reset forgets every cached position without freeing memory.
func (c *Cache) Reset() {
	c.length = 0
}

// Release frees the cache storage.
func (c *Cache) Release() {
	c.keys.Release()
	c.values.Release()
}
