package nn

import (
	"errors"
	"fmt"
	"math"

	"github.com/murmurtts/murmur/internal/mat"
)

// Rotary holds a precomputed table of rotation angles for rotary position
// embeddings in interleaved-pair form.
type Rotary struct {
	cos    []float32 // [maxSeq * half]
	sin    []float32 // [maxSeq * half]
	half   int
	maxSeq int
}

// NewRotary builds a rotation table for sequences up to maxSeq positions and
// an even head dimension headDim, using the given frequency base.
func NewRotary(maxSeq, headDim int, base float64) (*Rotary, error) {
	if maxSeq <= 0 {
		return nil, fmt.Errorf("nn: rotary max sequence must be > 0, got %d", maxSeq)
	}

	if headDim <= 0 || headDim%2 != 0 {
		return nil, fmt.Errorf("nn: rotary head dim must be positive and even, got %d", headDim)
	}

	if base <= 0 {
		return nil, fmt.Errorf("nn: rotary base must be > 0, got %g", base)
	}

	half := headDim / 2

	invFreq := make([]float64, half)
	for i := range invFreq {
		invFreq[i] = 1.0 / math.Pow(base, float64(i)/float64(half))
	}

	cos := make([]float32, maxSeq*half)
	sin := make([]float32, maxSeq*half)

	for pos := range maxSeq {
		base := pos * half
		for i, f := range invFreq {
			angle := float64(pos) * f
			cos[base+i] = float32(math.Cos(angle))
			sin[base+i] = float32(math.Sin(angle))
		}
	}

	return &Rotary{cos: cos, sin: sin, half: half, maxSeq: maxSeq}, nil
}

// MaxSeq returns the largest absolute position the table covers.
func (r *Rotary) MaxSeq() int {
	if r == nil {
		return 0
	}

	return r.maxSeq
}

// Apply rotates x (shape [..., seq, dim]) in interleaved pairs, treating the
// first sequence row as absolute position pos. It returns a new tensor.
func (r *Rotary) Apply(x *mat.Tensor, pos int) (*mat.Tensor, error) {
	if r == nil {
		return nil, errors.New("nn: rotary table is nil")
	}

	if x == nil || x.Rank() < 2 {
		return nil, errors.New("nn: rotary requires rank >= 2 input")
	}

	if pos < 0 {
		return nil, errors.New("nn: rotary position must be >= 0")
	}

	seq := x.Dim(-2)

	dim := x.Dim(-1)
	if dim != 2*r.half {
		return nil, fmt.Errorf("nn: rotary dim mismatch: input %d, table built for %d", dim, 2*r.half)
	}

	if pos+seq > r.maxSeq {
		return nil, fmt.Errorf("nn: rotary positions [%d, %d) exceed table size %d", pos, pos+seq, r.maxSeq)
	}

	out := x.Clone()
	data := out.RawData()
	blocks := len(data) / (seq * dim)

	for b := range blocks {
		blockBase := b * seq * dim

		for t := range seq {
			trig := (pos + t) * r.half

			rowBase := blockBase + t*dim
			for j := range r.half {
				i0 := rowBase + 2*j
				i1 := i0 + 1
				a := data[i0]
				bv := data[i1]
				c := r.cos[trig+j]
				s := r.sin[trig+j]
				data[i0] = a*c - bv*s
				data[i1] = a*s + bv*c
			}
		}
	}

	return out, nil
}
