// Package mat provides the dense float32 tensor type and the small set of
// linear-algebra primitives the synthesis engine is built on. All tensors are
// row-major and immutable-by-convention: operations return new tensors unless
// the name says otherwise.
package mat

import (
	"errors"
	"fmt"
)

// Tensor is a dense, row-major float32 tensor.
type Tensor struct {
	shape []int
	data  []float32
}

// New creates a tensor by copying data and shape.
func New(data []float32, shape ...int) (*Tensor, error) {
	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	if len(data) != total {
		return nil, fmt.Errorf("mat: data length %d does not match shape %v (%d elements)", len(data), shape, total)
	}

	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  append([]float32(nil), data...),
	}, nil
}

// newOwned wraps data and shape without copying. The caller must not retain
// either slice and guarantees len(data) matches the shape.
func newOwned(data []float32, shape []int) *Tensor {
	return &Tensor{shape: shape, data: data}
}

// Zeros creates a zero-filled tensor.
func Zeros(shape ...int) (*Tensor, error) {
	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	return &Tensor{shape: append([]int(nil), shape...), data: make([]float32, total)}, nil
}

// Full creates a tensor filled with value.
func Full(value float32, shape ...int) (*Tensor, error) {
	t, err := Zeros(shape...)
	if err != nil {
		return nil, err
	}

	for i := range t.data {
		t.data[i] = value
	}

	return t, nil
}

func (t *Tensor) Shape() []int {
	if t == nil {
		return nil
	}

	return append([]int(nil), t.shape...)
}

// Dim returns the size of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if t == nil {
		return 0
	}

	if i < 0 {
		i += len(t.shape)
	}

	if i < 0 || i >= len(t.shape) {
		return 0
	}

	return t.shape[i]
}

// Data returns a copy of the underlying values.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}

	return append([]float32(nil), t.data...)
}

// RawData returns the underlying slice. Callers must treat it as read-only
// unless they exclusively own the tensor.
func (t *Tensor) RawData() []float32 {
	if t == nil {
		return nil
	}

	return t.data
}

func (t *Tensor) ElemCount() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}

	return len(t.shape)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	return &Tensor{
		shape: append([]int(nil), t.shape...),
		data:  append([]float32(nil), t.data...),
	}
}

// Reshape returns a copy of the tensor with a new shape of equal element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("mat: reshape on nil tensor")
	}

	total, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	if total != len(t.data) {
		return nil, fmt.Errorf("mat: cannot reshape %v (%d elements) to %v (%d elements)", t.shape, len(t.data), shape, total)
	}

	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  append([]float32(nil), t.data...),
	}, nil
}

// Narrow slices the tensor along a single dimension.
func (t *Tensor) Narrow(dim, start, length int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("mat: narrow on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("mat: narrow: %w", err)
	}

	if start < 0 || length < 0 || start+length > t.shape[dim] {
		return nil, fmt.Errorf("mat: narrow: range [%d:%d] out of bounds for dim %d size %d", start, start+length, dim, t.shape[dim])
	}

	outShape := append([]int(nil), t.shape...)
	outShape[dim] = length

	outTotal, err := elemCount(outShape)
	if err != nil {
		return nil, err
	}

	outData := make([]float32, outTotal)

	inner := 1
	for i := dim + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}

	outer := 1
	for i := range dim {
		outer *= t.shape[i]
	}

	srcSpan := t.shape[dim] * inner
	dstSpan := length * inner

	for o := range outer {
		srcBase := o*srcSpan + start*inner
		copy(outData[o*dstSpan:(o+1)*dstSpan], t.data[srcBase:srcBase+dstSpan])
	}

	return newOwned(outData, outShape), nil
}

// Gather selects rows along dim by index.
func (t *Tensor) Gather(dim int, indices []int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("mat: gather on nil tensor")
	}

	if len(indices) == 0 {
		return nil, errors.New("mat: gather requires at least one index")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("mat: gather: %w", err)
	}

	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[dim] {
			return nil, fmt.Errorf("mat: gather index %d (%d) out of range for dim %d size %d", i, idx, dim, t.shape[dim])
		}
	}

	outShape := append([]int(nil), t.shape...)
	outShape[dim] = len(indices)

	outTotal, err := elemCount(outShape)
	if err != nil {
		return nil, err
	}

	outData := make([]float32, outTotal)

	inner := 1
	for i := dim + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}

	outer := 1
	for i := range dim {
		outer *= t.shape[i]
	}

	srcSpan := t.shape[dim] * inner

	dstSpan := len(indices) * inner
	for o := range outer {
		for j, idx := range indices {
			srcBase := o*srcSpan + idx*inner
			dstBase := o*dstSpan + j*inner
			copy(outData[dstBase:dstBase+inner], t.data[srcBase:srcBase+inner])
		}
	}

	return newOwned(outData, outShape), nil
}

// Transpose swaps dim1 and dim2.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("mat: transpose on nil tensor")
	}

	rank := len(t.shape)

	d1, err := normalizeDim(dim1, rank)
	if err != nil {
		return nil, fmt.Errorf("mat: transpose dim1: %w", err)
	}

	d2, err := normalizeDim(dim2, rank)
	if err != nil {
		return nil, fmt.Errorf("mat: transpose dim2: %w", err)
	}

	if d1 == d2 {
		return t.Clone(), nil
	}

	outShape := append([]int(nil), t.shape...)
	outShape[d1], outShape[d2] = outShape[d2], outShape[d1]

	outData := make([]float32, len(t.data))

	srcStrides := strides(t.shape)
	outStrides := strides(outShape)
	outCoord := make([]int, rank)
	srcCoord := make([]int, rank)

	for i := range outData {
		indexToCoord(i, outShape, outStrides, outCoord)
		copy(srcCoord, outCoord)
		srcCoord[d1], srcCoord[d2] = outCoord[d2], outCoord[d1]
		outData[i] = t.data[coordToIndex(srcCoord, srcStrides)]
	}

	return newOwned(outData, outShape), nil
}

// Concat concatenates tensors along dim.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("mat: concat requires at least one tensor")
	}

	first := tensors[0]
	if first == nil {
		return nil, errors.New("mat: concat tensor 0 is nil")
	}

	rank := len(first.shape)

	dim, err := normalizeDim(dim, rank)
	if err != nil {
		return nil, fmt.Errorf("mat: concat: %w", err)
	}

	outShape := append([]int(nil), first.shape...)
	outShape[dim] = 0

	for i, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("mat: concat tensor %d is nil", i)
		}

		if len(t.shape) != rank {
			return nil, fmt.Errorf("mat: concat tensor %d rank %d does not match rank %d", i, len(t.shape), rank)
		}

		for d := range rank {
			if d != dim && t.shape[d] != first.shape[d] {
				return nil, fmt.Errorf("mat: concat tensor %d shape %v does not match base shape %v on dim %d", i, t.shape, first.shape, d)
			}
		}

		outShape[dim] += t.shape[dim]
	}

	outTotal, err := elemCount(outShape)
	if err != nil {
		return nil, err
	}

	outData := make([]float32, outTotal)

	inner := 1
	for i := dim + 1; i < rank; i++ {
		inner *= outShape[i]
	}

	outer := 1
	for i := range dim {
		outer *= outShape[i]
	}

	outSpan := outShape[dim] * inner

	for o := range outer {
		writePos := 0

		for _, t := range tensors {
			span := t.shape[dim] * inner
			srcBase := o * span
			dstBase := o*outSpan + writePos
			copy(outData[dstBase:dstBase+span], t.data[srcBase:srcBase+span])
			writePos += span
		}
	}

	return newOwned(outData, outShape), nil
}

func elemCount(shape []int) (int, error) {
	total := 1

	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("mat: shape %v has negative dimension at %d", shape, i)
		}

		total *= d
	}

	return total, nil
}

func normalizeDim(dim, rank int) (int, error) {
	if dim < 0 {
		dim += rank
	}

	if dim < 0 || dim >= rank {
		return 0, fmt.Errorf("dim %d out of range for rank %d", dim, rank)
	}

	return dim, nil
}

func strides(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}

	out := make([]int, len(shape))

	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		out[i] = stride
		stride *= shape[i]
	}

	return out
}

func indexToCoord(index int, shape, strides, out []int) {
	for i := range shape {
		if shape[i] == 0 {
			out[i] = 0
			continue
		}

		out[i] = (index / strides[i]) % shape[i]
	}
}

func coordToIndex(coord, strides []int) int {
	var off int
	for i, c := range coord {
		off += c * strides[i]
	}

	return off
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
