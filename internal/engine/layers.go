package engine

import (
	"errors"
	"fmt"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/weights"
)

// Linear is a dense layer with weight [out, in] and optional bias [out].
type Linear struct {
	Weight *mat.Tensor
	Bias   *mat.Tensor
}

func loadLinear(vb *weights.VarBuilder, name string, withBias bool) (*Linear, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 2 {
		return nil, fmt.Errorf("engine: linear %q weight must be rank-2, got %v", name, w.Shape())
	}

	var b *mat.Tensor

	if withBias {
		t, ok, err := vb.TensorMaybe(name + ".bias")
		if err != nil {
			return nil, err
		}

		if ok {
			if t.Rank() != 1 || t.Dim(0) != w.Dim(0) {
				return nil, fmt.Errorf("engine: linear %q bias shape %v incompatible with weight %v", name, t.Shape(), w.Shape())
			}

			b = t
		}
	}

	return &Linear{Weight: w, Bias: b}, nil
}

func (l *Linear) Forward(x *mat.Tensor) (*mat.Tensor, error) {
	if l == nil || l.Weight == nil {
		return nil, errors.New("engine: linear is not initialized")
	}

	return mat.Linear(x, l.Weight, l.Bias)
}

// LayerNorm holds affine layer normalization parameters.
type LayerNorm struct {
	Weight *mat.Tensor
	Bias   *mat.Tensor
	Eps    float32
}

func loadLayerNorm(vb *weights.VarBuilder, name string, eps float32) (*LayerNorm, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	b, err := vb.Tensor(name + ".bias")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 1 || b.Rank() != 1 || w.Dim(0) != b.Dim(0) {
		return nil, fmt.Errorf("engine: layernorm %q invalid shapes weight=%v bias=%v", name, w.Shape(), b.Shape())
	}

	return &LayerNorm{Weight: w, Bias: b, Eps: eps}, nil
}

func (ln *LayerNorm) Forward(x *mat.Tensor) (*mat.Tensor, error) {
	if ln == nil || ln.Weight == nil || ln.Bias == nil {
		return nil, errors.New("engine: layernorm is not initialized")
	}

	return mat.LayerNorm(x, ln.Weight, ln.Bias, ln.Eps)
}

// lastFrame returns x[:, -1, :] as [B, D].
func lastFrame(x *mat.Tensor) (*mat.Tensor, error) {
	if x == nil || x.Rank() != 3 {
		return nil, errors.New("engine: last frame requires [B, T, D] input")
	}

	t := x.Dim(1)
	if t == 0 {
		return nil, errors.New("engine: last frame of empty sequence")
	}

	row, err := x.Narrow(1, t-1, 1)
	if err != nil {
		return nil, err
	}

	return row.Reshape(x.Dim(0), x.Dim(2))
}
