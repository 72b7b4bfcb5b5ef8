package mat

import (
	"errors"
	"fmt"
	"math"
)

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("mat: add requires non-nil tensors")
	}

	if !equalShape(a.shape, b.shape) {
		return nil, fmt.Errorf("mat: add shape mismatch %v vs %v", a.shape, b.shape)
	}

	out := a.Clone()

	bd := b.data
	for i := range out.data {
		out.data[i] += bd[i]
	}

	return out, nil
}

// AddInPlace accumulates src into dst; shapes must match.
func AddInPlace(dst, src *Tensor) error {
	if dst == nil || src == nil {
		return errors.New("mat: add requires non-nil tensors")
	}

	if !equalShape(dst.shape, src.shape) {
		return fmt.Errorf("mat: add shape mismatch %v vs %v", dst.shape, src.shape)
	}

	sd := src.data
	for i := range dst.data {
		dst.data[i] += sd[i]
	}

	return nil
}

// Mul returns the element-wise product of same-shape tensors.
func Mul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("mat: mul requires non-nil tensors")
	}

	if !equalShape(a.shape, b.shape) {
		return nil, fmt.Errorf("mat: mul shape mismatch %v vs %v", a.shape, b.shape)
	}

	out := a.Clone()

	bd := b.data
	for i := range out.data {
		out.data[i] *= bd[i]
	}

	return out, nil
}

// Scale returns x * s.
func Scale(x *Tensor, s float32) *Tensor {
	out := x.Clone()
	for i := range out.data {
		out.data[i] *= s
	}

	return out
}

// Shift returns x + s applied element-wise.
func Shift(x *Tensor, s float32) *Tensor {
	out := x.Clone()
	for i := range out.data {
		out.data[i] += s
	}

	return out
}

// AccumulateScaled performs dst += alpha * src over the raw data; shapes must
// match. Used by the flow integrator's Euler update.
func AccumulateScaled(dst *Tensor, alpha float32, src *Tensor) error {
	if dst == nil || src == nil {
		return errors.New("mat: accumulate requires non-nil tensors")
	}

	if !equalShape(dst.shape, src.shape) {
		return fmt.Errorf("mat: accumulate shape mismatch %v vs %v", dst.shape, src.shape)
	}

	sd := src.data
	for i := range dst.data {
		dst.data[i] += alpha * sd[i]
	}

	return nil
}

// BroadcastAdd performs element-wise add with NumPy-style broadcasting.
func BroadcastAdd(a, b *Tensor) (*Tensor, error) {
	return broadcastBinary(a, b, func(x, y float32) float32 { return x + y }, "add")
}

// BroadcastMul performs element-wise multiply with NumPy-style broadcasting.
func BroadcastMul(a, b *Tensor) (*Tensor, error) {
	return broadcastBinary(a, b, func(x, y float32) float32 { return x * y }, "mul")
}

// Softmax applies softmax along the last dimension.
func Softmax(x *Tensor) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("mat: softmax on nil tensor")
	}

	if len(x.shape) == 0 {
		return nil, errors.New("mat: softmax requires rank >= 1")
	}

	axis := x.shape[len(x.shape)-1]
	if axis <= 0 {
		return nil, fmt.Errorf("mat: softmax axis dimension must be > 0, got %d", axis)
	}

	out := x.Clone()

	rows := len(out.data) / axis
	for r := range rows {
		row := out.data[r*axis : (r+1)*axis]

		maxV := float32(math.Inf(-1))
		for _, v := range row {
			if v > maxV {
				maxV = v
			}
		}

		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxV))
			row[i] = float32(e)
			sum += e
		}

		if sum == 0 {
			return nil, errors.New("mat: softmax encountered zero normalization sum")
		}

		inv := float32(1.0 / sum)
		for i := range row {
			row[i] *= inv
		}
	}

	return out, nil
}

// LayerNorm normalizes the last dimension and applies optional weight/bias.
func LayerNorm(x, weight, bias *Tensor, eps float32) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("mat: layernorm input is nil")
	}

	if x.Rank() < 1 {
		return nil, errors.New("mat: layernorm requires rank >= 1")
	}

	if eps <= 0 {
		return nil, errors.New("mat: layernorm eps must be > 0")
	}

	d := x.shape[len(x.shape)-1]
	if d <= 0 {
		return nil, errors.New("mat: layernorm last dimension must be > 0")
	}

	if weight != nil && (weight.Rank() != 1 || weight.shape[0] != d) {
		return nil, fmt.Errorf("mat: layernorm weight shape %v does not match last dimension %d", weight.shape, d)
	}

	if bias != nil && (bias.Rank() != 1 || bias.shape[0] != d) {
		return nil, fmt.Errorf("mat: layernorm bias shape %v does not match last dimension %d", bias.shape, d)
	}

	out := x.Clone()

	rows := len(out.data) / d
	for r := range rows {
		row := out.data[r*d : (r+1)*d]

		var mean float64
		for _, v := range row {
			mean += float64(v)
		}

		mean /= float64(d)

		var variance float64
		for _, v := range row {
			delta := float64(v) - mean
			variance += delta * delta
		}

		variance /= float64(d)

		invStd := float32(1.0 / math.Sqrt(variance+float64(eps)))
		for i := range row {
			n := (row[i] - float32(mean)) * invStd
			if weight != nil {
				n *= weight.data[i]
			}

			if bias != nil {
				n += bias.data[i]
			}

			row[i] = n
		}
	}

	return out, nil
}

// MatMul performs batched matrix multiplication. The leading (batch)
// dimensions of a and b must match exactly or be absent on one side.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("mat: matmul requires non-nil inputs")
	}

	if a.Rank() < 2 || b.Rank() < 2 {
		return nil, fmt.Errorf("mat: matmul requires rank >= 2, got %d and %d", a.Rank(), b.Rank())
	}

	aRank := a.Rank()
	bRank := b.Rank()

	m := a.shape[aRank-2]
	k := a.shape[aRank-1]

	if b.shape[bRank-2] != k {
		return nil, fmt.Errorf("mat: matmul mismatch: A shape %v and B shape %v", a.shape, b.shape)
	}

	n := b.shape[bRank-1]

	aBatch := 1
	for _, d := range a.shape[:aRank-2] {
		aBatch *= d
	}

	bBatch := 1
	for _, d := range b.shape[:bRank-2] {
		bBatch *= d
	}

	if aBatch != bBatch && aBatch != 1 && bBatch != 1 {
		return nil, fmt.Errorf("mat: matmul batch mismatch: %v vs %v", a.shape, b.shape)
	}

	batch := max(aBatch, bBatch)

	var batchShape []int
	if aBatch >= bBatch {
		batchShape = a.shape[:aRank-2]
	} else {
		batchShape = b.shape[:bRank-2]
	}

	outShape := make([]int, 0, len(batchShape)+2)
	outShape = append(outShape, batchShape...)
	outShape = append(outShape, m, n)

	outData := make([]float32, batch*m*n)

	parallelFor(batch, getWorkers(), func(lo, hi int) {
		for bi := lo; bi < hi; bi++ {
			aBase := (bi % aBatch) * m * k
			bBase := (bi % bBatch) * k * n
			outBase := bi * m * n

			for i := range m {
				aRow := a.data[aBase+i*k : aBase+(i+1)*k]
				outRow := outData[outBase+i*n : outBase+(i+1)*n]

				for kk, av := range aRow {
					if av == 0 {
						continue
					}

					bRow := b.data[bBase+kk*n : bBase+(kk+1)*n]
					for j := range outRow {
						outRow[j] += av * bRow[j]
					}
				}
			}
		}
	})

	return newOwned(outData, outShape), nil
}

// Linear applies y = x * W^T + b where weight shape is [out, in].
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	if x == nil || weight == nil {
		return nil, errors.New("mat: linear requires non-nil x and weight")
	}

	if x.Rank() < 1 {
		return nil, errors.New("mat: linear requires x rank >= 1")
	}

	if weight.Rank() != 2 {
		return nil, fmt.Errorf("mat: linear weight must be rank 2, got %d", weight.Rank())
	}

	in := x.shape[x.Rank()-1]

	out := weight.shape[0]
	if weight.shape[1] != in {
		return nil, fmt.Errorf("mat: linear mismatch: x last dim %d, weight in dim %d", in, weight.shape[1])
	}

	if bias != nil && (bias.Rank() != 1 || bias.shape[0] != out) {
		return nil, fmt.Errorf("mat: linear bias shape %v does not match out dim %d", bias.shape, out)
	}

	rows := len(x.data) / in
	outData := make([]float32, rows*out)
	wData := weight.data

	parallelFor(rows, getWorkers(), func(lo, hi int) {
		for r := lo; r < hi; r++ {
			xRow := x.data[r*in : (r+1)*in]

			yBase := r * out
			for o := range out {
				sum := dot(xRow, wData[o*in:(o+1)*in])
				if bias != nil {
					sum += bias.data[o]
				}

				outData[yBase+o] = sum
			}
		}
	})

	outShape := make([]int, x.Rank())
	copy(outShape, x.shape[:x.Rank()-1])
	outShape[x.Rank()-1] = out

	return newOwned(outData, outShape), nil
}

func broadcastBinary(a, b *Tensor, fn func(x, y float32) float32, opName string) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("mat: broadcast %s requires non-nil inputs", opName)
	}

	outShape, err := broadcastShape(a.shape, b.shape)
	if err != nil {
		return nil, fmt.Errorf("mat: broadcast %s: %w", opName, err)
	}

	outTotal, err := elemCount(outShape)
	if err != nil {
		return nil, err
	}

	outData := make([]float32, outTotal)

	aShape := leftPadShape(a.shape, len(outShape))
	bShape := leftPadShape(b.shape, len(outShape))
	aStrides := strides(aShape)
	bStrides := strides(bShape)
	outStrides := strides(outShape)
	coord := make([]int, len(outShape))

	for i := range outData {
		indexToCoord(i, outShape, outStrides, coord)

		aOff := 0
		bOff := 0

		for d, c := range coord {
			if aShape[d] != 1 {
				aOff += c * aStrides[d]
			}

			if bShape[d] != 1 {
				bOff += c * bStrides[d]
			}
		}

		outData[i] = fn(a.data[aOff], b.data[bOff])
	}

	return newOwned(outData, outShape), nil
}

func broadcastShape(a, b []int) ([]int, error) {
	outRank := max(len(a), len(b))

	out := make([]int, outRank)
	for i := range outRank {
		ad := 1
		if j := i - (outRank - len(a)); j >= 0 {
			ad = a[j]
		}

		bd := 1
		if j := i - (outRank - len(b)); j >= 0 {
			bd = b[j]
		}

		switch {
		case ad == bd || ad == 1:
			out[i] = bd
		case bd == 1:
			out[i] = ad
		default:
			return nil, fmt.Errorf("cannot broadcast shapes %v and %v", a, b)
		}
	}

	return out, nil
}

func leftPadShape(shape []int, rank int) []int {
	out := make([]int, rank)

	pad := rank - len(shape)
	for i := range pad {
		out[i] = 1
	}

	copy(out[pad:], shape)

	return out
}
