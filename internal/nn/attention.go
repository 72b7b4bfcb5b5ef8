package nn

import (
	"errors"
	"fmt"
	"math"

	"github.com/murmurtts/murmur/internal/mat"
)

// Attention computes scaled dot-product attention.
//
//	q: [..., tq, d], k: [..., tk, d], v: [..., tk, dv] -> [..., tq, dv]
//
// With causal set, key position ki is masked for query qi when ki > qi+offset;
// offset is the absolute position of the first query in the key timeline.
func Attention(q, k, v *mat.Tensor, causal bool, offset int) (*mat.Tensor, error) {
	if q == nil || k == nil || v == nil {
		return nil, errors.New("nn: attention requires non-nil q/k/v")
	}

	if q.Rank() < 2 || k.Rank() < 2 || v.Rank() < 2 {
		return nil, errors.New("nn: attention requires rank >= 2 inputs")
	}

	d := q.Dim(-1)
	if d != k.Dim(-1) {
		return nil, fmt.Errorf("nn: attention q/k depth mismatch %d vs %d", d, k.Dim(-1))
	}

	if k.Dim(-2) != v.Dim(-2) {
		return nil, fmt.Errorf("nn: attention key/value sequence mismatch %d vs %d", k.Dim(-2), v.Dim(-2))
	}

	kT, err := k.Transpose(-1, -2)
	if err != nil {
		return nil, fmt.Errorf("nn: attention transpose k: %w", err)
	}

	scores, err := mat.MatMul(q, kT)
	if err != nil {
		return nil, fmt.Errorf("nn: attention q*k^T: %w", err)
	}

	scale := float32(1.0 / math.Sqrt(float64(d)))

	data := scores.RawData()
	for i := range data {
		data[i] *= scale
	}

	if causal {
		if err := applyCausalMask(scores, offset); err != nil {
			return nil, fmt.Errorf("nn: attention causal mask: %w", err)
		}
	}

	probs, err := mat.Softmax(scores)
	if err != nil {
		return nil, fmt.Errorf("nn: attention softmax: %w", err)
	}

	out, err := mat.MatMul(probs, v)
	if err != nil {
		return nil, fmt.Errorf("nn: attention probs*v: %w", err)
	}

	return out, nil
}

// applyCausalMask sets scores[..., qi, ki] to -Inf where ki > qi+offset.
func applyCausalMask(scores *mat.Tensor, offset int) error {
	if scores.Rank() < 2 {
		return fmt.Errorf("nn: causal mask requires rank >= 2, got %d", scores.Rank())
	}

	q := scores.Dim(-2)

	k := scores.Dim(-1)
	if q <= 0 || k <= 0 {
		return fmt.Errorf("nn: causal mask requires positive query/key dims, got %d and %d", q, k)
	}

	data := scores.RawData()
	blocks := len(data) / (q * k)
	negInf := float32(math.Inf(-1))

	for b := range blocks {
		base := b * q * k

		for qi := range q {
			row := base + qi*k
			for ki := qi + offset + 1; ki < k; ki++ {
				data[row+ki] = negInf
			}
		}
	}

	return nil
}
