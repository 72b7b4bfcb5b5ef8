package engine

import (
	"errors"
	"testing"
)

func TestKVCacheAppendAccumulates(t *testing.T) {
	c := newKVCache(1, 2, 3)

	if c.SeqLen() != 0 {
		t.Fatalf("fresh cache has length %d", c.SeqLen())
	}

	// Prefill with 4 positions, then 3 single steps: length must be 4+3.
	k := ten(t, seqData(1*2*4*3), 1, 2, 4, 3)

	kAll, vAll, err := c.Append(k, k.Clone())
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if c.SeqLen() != 4 || kAll.Dim(2) != 4 || vAll.Dim(2) != 4 {
		t.Fatalf("after prefill: len=%d kAll=%v", c.SeqLen(), kAll.Shape())
	}

	for i := range 3 {
		step := ten(t, seqData(1*2*1*3), 1, 2, 1, 3)

		kAll, _, err = c.Append(step, step.Clone())
		if err != nil {
			t.Fatalf("Append step %d: %v", i, err)
		}
	}

	if c.SeqLen() != 7 || kAll.Dim(2) != 7 {
		t.Fatalf("after steps: len=%d kAll=%v", c.SeqLen(), kAll.Shape())
	}
}

func TestKVCachePreservesOrderAcrossGrowth(t *testing.T) {
	c := newKVCache(1, 1, 1)

	var want []float32

	// Enough appends to force at least one arena growth past the initial
	// capacity.
	for i := range 130 {
		v := float32(i)
		want = append(want, v)

		k := ten(t, []float32{v}, 1, 1, 1, 1)

		kAll, _, err := c.Append(k, k.Clone())
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}

		got := kAll.RawData()
		if len(got) != len(want) {
			t.Fatalf("append %d: length %d want %d", i, len(got), len(want))
		}

		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("append %d: position %d has %g want %g", i, j, got[j], want[j])
			}
		}
	}
}

func TestKVCacheRejectsShapeMismatch(t *testing.T) {
	c := newKVCache(1, 2, 3)

	bad := ten(t, seqData(1*3*1*3), 1, 3, 1, 3)

	_, _, err := c.Append(bad, bad.Clone())

	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
}

func TestKVCacheReset(t *testing.T) {
	c := newKVCache(1, 1, 2)

	k := ten(t, seqData(1*1*5*2), 1, 1, 5, 2)
	if _, _, err := c.Append(k, k.Clone()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	c.Reset()

	if c.SeqLen() != 0 {
		t.Fatalf("reset cache has length %d", c.SeqLen())
	}

	step := ten(t, []float32{1, 2}, 1, 1, 1, 2)

	kAll, _, err := c.Append(step, step.Clone())
	if err != nil {
		t.Fatalf("Append after reset: %v", err)
	}

	if kAll.Dim(2) != 1 {
		t.Fatalf("cache kept stale positions: %v", kAll.Shape())
	}
}

func seqData(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}

	return out
}
