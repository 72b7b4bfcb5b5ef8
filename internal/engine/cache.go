package engine

import (
	"github.com/murmurtts/murmur/internal/mat"
)

// kvCache stores one attention layer's keys and values in a single growable
// arena laid out as [batch, heads, capacity, headDim]. Appending copies the
// new rows in and, when needed, doubles the capacity, so the per-step cost is
// amortized constant instead of the full-concatenation rebuild.
type kvCache struct {
	k, v    []float32
	batch   int
	heads   int
	headDim int
	length  int
	cap     int
}

func newKVCache(batch, heads, headDim int) *kvCache {
	return &kvCache{batch: batch, heads: heads, headDim: headDim}
}

// SeqLen returns the number of cached positions.
func (c *kvCache) SeqLen() int {
	if c == nil {
		return 0
	}

	return c.length
}

// Reset drops all cached positions but keeps the arena for reuse.
func (c *kvCache) Reset() {
	if c == nil {
		return
	}

	c.length = 0
}

// Append adds k/v rows of shape [batch, heads, t, headDim] and returns full
// tensors over every cached position, shape [batch, heads, length, headDim].
func (c *kvCache) Append(k, v *mat.Tensor) (kAll, vAll *mat.Tensor, err error) {
	if c == nil {
		return nil, nil, inferenceErrorf("kv cache is nil")
	}

	if k == nil || v == nil {
		return nil, nil, inferenceErrorf("kv cache append requires non-nil k/v")
	}

	if err := c.checkShape(k); err != nil {
		return nil, nil, err
	}

	if err := c.checkShape(v); err != nil {
		return nil, nil, err
	}

	if k.Dim(2) != v.Dim(2) {
		return nil, nil, inferenceErrorf("kv cache append length mismatch: k %d vs v %d", k.Dim(2), v.Dim(2))
	}

	t := k.Dim(2)
	if err := c.grow(c.length + t); err != nil {
		return nil, nil, err
	}

	c.copyIn(c.k, k.RawData(), t)
	c.copyIn(c.v, v.RawData(), t)
	c.length += t

	kAll, err = c.view(c.k)
	if err != nil {
		return nil, nil, err
	}

	vAll, err = c.view(c.v)
	if err != nil {
		return nil, nil, err
	}

	return kAll, vAll, nil
}

func (c *kvCache) checkShape(x *mat.Tensor) error {
	if x.Rank() != 4 || x.Dim(0) != c.batch || x.Dim(1) != c.heads || x.Dim(3) != c.headDim {
		return inferenceErrorf(
			"kv cache append shape %v incompatible with [%d, %d, t, %d]",
			x.Shape(), c.batch, c.heads, c.headDim,
		)
	}

	return nil
}

func (c *kvCache) grow(need int) error {
	if need <= c.cap {
		return nil
	}

	newCap := max(c.cap, 64)
	for newCap < need {
		newCap *= 2
	}

	rows := c.batch * c.heads

	nk := make([]float32, rows*newCap*c.headDim)
	nv := make([]float32, rows*newCap*c.headDim)

	if c.length > 0 {
		for r := range rows {
			srcBase := r * c.cap * c.headDim
			dstBase := r * newCap * c.headDim
			n := c.length * c.headDim
			copy(nk[dstBase:dstBase+n], c.k[srcBase:srcBase+n])
			copy(nv[dstBase:dstBase+n], c.v[srcBase:srcBase+n])
		}
	}

	c.k = nk
	c.v = nv
	c.cap = newCap

	return nil
}

// copyIn places t new positions after the current length in every
// [batch, heads] row of the arena.
func (c *kvCache) copyIn(arena, src []float32, t int) {
	rows := c.batch * c.heads

	for r := range rows {
		dstBase := (r*c.cap + c.length) * c.headDim
		srcBase := r * t * c.headDim
		copy(arena[dstBase:dstBase+t*c.headDim], src[srcBase:srcBase+t*c.headDim])
	}
}

func (c *kvCache) view(arena []float32) (*mat.Tensor, error) {
	rows := c.batch * c.heads
	out := make([]float32, rows*c.length*c.headDim)

	for r := range rows {
		srcBase := r * c.cap * c.headDim
		n := c.length * c.headDim
		copy(out[r*n:(r+1)*n], arena[srcBase:srcBase+n])
	}

	return mat.New(out, c.batch, c.heads, c.length, c.headDim)
}
