package nn

import (
	"math"
	"testing"

	"github.com/murmurtts/murmur/internal/mat"
)

func tensor(t *testing.T, data []float32, shape ...int) *mat.Tensor {
	t.Helper()

	tr, err := mat.New(data, shape...)
	if err != nil {
		t.Fatalf("mat.New: %v", err)
	}

	return tr
}

func approxEqual(t *testing.T, got, want []float32, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(float64(got[i])-float64(want[i])) > tol {
			t.Fatalf("element %d: got %g want %g", i, got[i], want[i])
		}
	}
}

func TestSiLU(t *testing.T) {
	x := tensor(t, []float32{-1, 0, 1, 2}, 4)

	got := SiLU(x)

	want := make([]float32, 4)
	for i, v := range []float64{-1, 0, 1, 2} {
		want[i] = float32(v / (1 + math.Exp(-v)))
	}

	approxEqual(t, got.RawData(), want, 1e-6)

	if x.RawData()[0] != -1 {
		t.Fatal("SiLU must not modify its input")
	}
}

func TestGELU(t *testing.T) {
	x := tensor(t, []float32{-2, -0.5, 0, 0.5, 2}, 5)

	got := GELU(x)

	want := make([]float32, 5)
	for i, v := range []float64{-2, -0.5, 0, 0.5, 2} {
		want[i] = float32(0.5 * v * (1 + math.Erf(v/math.Sqrt2)))
	}

	approxEqual(t, got.RawData(), want, 1e-6)
}

func TestELU(t *testing.T) {
	x := tensor(t, []float32{-1, 0, 2}, 3)

	got := ELU(x)

	want := []float32{float32(math.Exp(-1)) - 1, float32(math.Exp(0)) - 1, 2}
	approxEqual(t, got.RawData(), want, 1e-6)

	if got != x {
		t.Fatal("ELU must operate in place")
	}
}

func TestModulate(t *testing.T) {
	x := tensor(t, []float32{1, 2, 3, 4}, 2, 2)
	shift := tensor(t, []float32{10, 20}, 1, 2)
	scale := tensor(t, []float32{0, 1}, 1, 2)

	got, err := Modulate(x, shift, scale)
	if err != nil {
		t.Fatalf("Modulate: %v", err)
	}

	// x*(1+scale) + shift
	approxEqual(t, got.RawData(), []float32{11, 24, 13, 28}, 1e-6)
}

func TestRMSNormScaled(t *testing.T) {
	x := tensor(t, []float32{1, 3}, 1, 2)
	alpha := tensor(t, []float32{2, 2}, 2)

	got, err := RMSNormScaled(x, alpha, 0)
	if err != nil {
		t.Fatalf("RMSNormScaled: %v", err)
	}

	// mean 2, sample variance ((1-2)^2+(3-2)^2)/(2-1) = 2, std sqrt(2)
	s := float32(math.Sqrt2)
	approxEqual(t, got.RawData(), []float32{2 * 1 / s, 2 * 3 / s}, 1e-5)
}

func TestSplitThirds(t *testing.T) {
	x := tensor(t, []float32{1, 2, 3, 4, 5, 6}, 1, 6)

	a, b, c, err := SplitThirds(x)
	if err != nil {
		t.Fatalf("SplitThirds: %v", err)
	}

	approxEqual(t, a.RawData(), []float32{1, 2}, 0)
	approxEqual(t, b.RawData(), []float32{3, 4}, 0)
	approxEqual(t, c.RawData(), []float32{5, 6}, 0)

	if _, _, _, err := SplitThirds(tensor(t, []float32{1, 2, 3, 4}, 4)); err == nil {
		t.Fatal("expected error for last dim not divisible by 3")
	}
}
