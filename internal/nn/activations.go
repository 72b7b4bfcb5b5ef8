// Package nn implements the stateless neural-network primitives shared by the
// latent transformer, the flow sampler, and the waveform decoder: attention
// with an optional causal mask, rotary position embeddings, 1-D convolutions
// (plain, causal and transposed) and the activation functions the model uses.
package nn

import (
	"errors"
	"fmt"
	"math"

	"github.com/murmurtts/murmur/internal/mat"
)

// SiLU applies x * sigmoid(x) element-wise, returning a new tensor.
func SiLU(x *mat.Tensor) *mat.Tensor {
	out := x.Clone()

	d := out.RawData()
	for i, v := range d {
		d[i] = v / (1 + float32(math.Exp(float64(-v))))
	}

	return out
}

// GELU applies the exact (erf-based) GELU element-wise, returning a new tensor.
func GELU(x *mat.Tensor) *mat.Tensor {
	out := x.Clone()

	d := out.RawData()
	for i, v := range d {
		fv := float64(v)
		d[i] = float32(0.5 * fv * (1 + math.Erf(fv/math.Sqrt2)))
	}

	return out
}

// ELU applies exp(x)-1 for negative inputs in place and returns x.
func ELU(x *mat.Tensor) *mat.Tensor {
	d := x.RawData()
	for i, v := range d {
		if v <= 0 {
			d[i] = float32(math.Exp(float64(v))) - 1
		}
	}

	return x
}

// Modulate computes x*(1+scale) + shift with broadcasting, the adaptive
// layer-norm conditioning used by the flow network.
func Modulate(x, shift, scale *mat.Tensor) (*mat.Tensor, error) {
	if x == nil || shift == nil || scale == nil {
		return nil, errors.New("nn: modulate requires non-nil tensors")
	}

	scaled, err := mat.BroadcastMul(x, mat.Shift(scale, 1.0))
	if err != nil {
		return nil, fmt.Errorf("nn: modulate mul: %w", err)
	}

	out, err := mat.BroadcastAdd(scaled, shift)
	if err != nil {
		return nil, fmt.Errorf("nn: modulate add: %w", err)
	}

	return out, nil
}

// RMSNormScaled normalizes the last dimension by its standard deviation and
// multiplies by alpha. The variance uses the N-1 denominator to match the
// reference weights.
func RMSNormScaled(x, alpha *mat.Tensor, eps float32) (*mat.Tensor, error) {
	if x == nil || alpha == nil {
		return nil, errors.New("nn: rmsnorm requires non-nil tensors")
	}

	if x.Rank() < 1 {
		return nil, errors.New("nn: rmsnorm rank must be >= 1")
	}

	d := x.Dim(-1)
	if d <= 0 {
		return nil, errors.New("nn: rmsnorm last dim must be > 0")
	}

	if alpha.Rank() != 1 || alpha.Dim(0) != d {
		return nil, fmt.Errorf("nn: rmsnorm alpha shape %v incompatible with last dim %d", alpha.Shape(), d)
	}

	out := x.Clone()
	xd := out.RawData()
	ad := alpha.RawData()

	rows := len(xd) / d
	for r := range rows {
		row := xd[r*d : (r+1)*d]

		var mean float64
		for _, v := range row {
			mean += float64(v)
		}

		mean /= float64(d)

		var variance float64
		for _, v := range row {
			diff := float64(v) - mean
			variance += diff * diff
		}

		if d > 1 {
			variance /= float64(d - 1)
		}

		inv := float32(1.0 / math.Sqrt(variance+float64(eps)))
		for i := range row {
			row[i] = row[i] * inv * ad[i]
		}
	}

	return out, nil
}

// SplitThirds splits the last dimension into three equal chunks, the layout
// used by fused QKV projections and by shift/scale/gate modulation outputs.
func SplitThirds(x *mat.Tensor) (a, b, c *mat.Tensor, err error) {
	if x == nil || x.Rank() < 1 {
		return nil, nil, nil, errors.New("nn: split requires rank >= 1")
	}

	last := x.Dim(-1)
	if last%3 != 0 {
		return nil, nil, nil, fmt.Errorf("nn: last dim %d is not divisible by 3", last)
	}

	chunk := last / 3

	a, err = x.Narrow(-1, 0, chunk)
	if err != nil {
		return nil, nil, nil, err
	}

	b, err = x.Narrow(-1, chunk, chunk)
	if err != nil {
		return nil, nil, nil, err
	}

	c, err = x.Narrow(-1, 2*chunk, chunk)
	if err != nil {
		return nil, nil, nil, err
	}

	return a, b, c, nil
}
