package mat

import (
	"testing"
)

func TestNewValidatesShape(t *testing.T) {
	_, err := New([]float32{1, 2, 3}, 2, 2)
	if err == nil {
		t.Fatal("expected error for mismatched data length")
	}

	tr, err := New([]float32{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := tr.ElemCount(); got != 4 {
		t.Fatalf("ElemCount = %d, want 4", got)
	}
}

func TestNarrow(t *testing.T) {
	x, err := New([]float32{
		1, 2, 3,
		4, 5, 6,
	}, 2, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name      string
		dim       int
		start     int
		length    int
		wantShape []int
		wantData  []float32
	}{
		{"rows", 0, 1, 1, []int{1, 3}, []float32{4, 5, 6}},
		{"cols", 1, 1, 2, []int{2, 2}, []float32{2, 3, 5, 6}},
		{"negative dim", -1, 0, 1, []int{2, 1}, []float32{1, 4}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := x.Narrow(tc.dim, tc.start, tc.length)
			if err != nil {
				t.Fatalf("Narrow: %v", err)
			}

			if !equalShape(got.Shape(), tc.wantShape) {
				t.Fatalf("shape = %v, want %v", got.Shape(), tc.wantShape)
			}

			assertData(t, got.Data(), tc.wantData)
		})
	}

	_, err = x.Narrow(0, 1, 5)
	if err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestGather(t *testing.T) {
	x, err := New([]float32{
		10, 11,
		20, 21,
		30, 31,
	}, 3, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := x.Gather(0, []int{2, 0, 2})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	assertData(t, got.Data(), []float32{30, 31, 10, 11, 30, 31})

	_, err = x.Gather(0, []int{3})
	if err == nil {
		t.Fatal("expected index out of range error")
	}
}

func TestTranspose(t *testing.T) {
	x, err := New([]float32{
		1, 2, 3,
		4, 5, 6,
	}, 2, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := x.Transpose(0, 1)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}

	if !equalShape(got.Shape(), []int{3, 2}) {
		t.Fatalf("shape = %v, want [3 2]", got.Shape())
	}

	assertData(t, got.Data(), []float32{1, 4, 2, 5, 3, 6})
}

func TestConcat(t *testing.T) {
	a, _ := New([]float32{1, 2}, 1, 2)
	b, _ := New([]float32{3, 4, 5, 6}, 1, 4)

	got, err := Concat([]*Tensor{a, b}, 1)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}

	if !equalShape(got.Shape(), []int{1, 6}) {
		t.Fatalf("shape = %v, want [1 6]", got.Shape())
	}

	assertData(t, got.Data(), []float32{1, 2, 3, 4, 5, 6})

	c, _ := New([]float32{9, 9}, 2, 1)

	_, err = Concat([]*Tensor{a, c}, 1)
	if err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestReshapeRejectsSizeChange(t *testing.T) {
	x, _ := New([]float32{1, 2, 3, 4}, 2, 2)

	_, err := x.Reshape(3, 2)
	if err == nil {
		t.Fatal("expected reshape size error")
	}

	got, err := x.Reshape(4)
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}

	if got.Rank() != 1 {
		t.Fatalf("rank = %d, want 1", got.Rank())
	}
}

func assertData(t *testing.T, got, want []float32) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("data[%d] = %g, want %g (got %v)", i, got[i], want[i], got)
		}
	}
}
