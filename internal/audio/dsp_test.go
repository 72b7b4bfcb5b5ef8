package audio

import (
	"math"
	"testing"
)

func TestPeakNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		wantPeak float32
	}{
		{"scales half-amplitude signal", []float32{0, 0.5, -0.25, 0.5}, 1},
		{"scales quiet signal", []float32{0.1, -0.1, 0.05}, 1},
		{"negative peak counts", []float32{0.1, -0.5}, 1},
		{"silence stays silent", []float32{0, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PeakNormalize(tt.input)

			if peak := peakOf(got); math.Abs(float64(peak-tt.wantPeak)) > 1e-6 {
				t.Errorf("peak = %f, want %f", peak, tt.wantPeak)
			}
		})
	}
}

func TestPeakNormalizePreservesRatios(t *testing.T) {
	got := PeakNormalize([]float32{0, 0.25, 0.5})

	if math.Abs(float64(got[1])-0.5) > 1e-6 || math.Abs(float64(got[2])-1.0) > 1e-6 {
		t.Errorf("got %v, want [0 0.5 1]", got)
	}
}

func TestDCBlockRemovesOffset(t *testing.T) {
	const sr = 24000

	input := make([]float32, sr)
	for i := range input {
		input[i] = 0.5
	}

	got := DCBlock(input, sr)

	if mean := meanOf(got); math.Abs(float64(mean)) > 0.01 {
		t.Errorf("mean after DC block = %f, want near 0", mean)
	}
}

func TestDCBlockPreservesAC(t *testing.T) {
	const sr = 24000

	// 1 kHz sine, well above the cutoff.
	input := make([]float32, sr)
	for i := range input {
		input[i] = float32(math.Sin(2 * math.Pi * 1000 * float64(i) / sr))
	}

	inputRMS := rmsOf(input)
	gotRMS := rmsOf(DCBlock(input, sr))

	if ratio := float64(gotRMS / inputRMS); math.Abs(ratio-1.0) > 0.01 {
		t.Errorf("RMS ratio = %f, want ~1.0", ratio)
	}
}

func TestFadeIn(t *testing.T) {
	const sr = 24000

	input := ones(sr)
	got := FadeIn(input, sr, 10)

	if got[0] != 0 {
		t.Errorf("first sample = %f, want 0", got[0])
	}

	n := int(10.0 / 1000 * sr)
	if got[n] != 1 {
		t.Errorf("sample at fade end = %f, want 1", got[n])
	}

	for i := 1; i < n; i++ {
		if got[i] < got[i-1] {
			t.Fatalf("ramp not monotonic at sample %d", i)
		}
	}
}

func TestFadeOut(t *testing.T) {
	const sr = 24000

	input := ones(sr)
	got := FadeOut(input, sr, 10)

	if got[len(got)-1] != 0 {
		t.Errorf("last sample = %f, want 0", got[len(got)-1])
	}

	n := int(10.0 / 1000 * sr)
	if got[len(got)-n-1] != 1 {
		t.Errorf("sample before fade = %f, want 1", got[len(got)-n-1])
	}

	for i := len(got) - n + 1; i < len(got); i++ {
		if got[i] > got[i-1] {
			t.Fatalf("ramp not monotonic at sample %d", i)
		}
	}
}

func TestFadeClampsToBufferLength(t *testing.T) {
	// 100 ms fade over a 10-sample buffer must not panic.
	got := FadeIn(ones(10), 24000, 100)
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}

	got = FadeOut(ones(10), 24000, 100)
	if got[9] != 0 {
		t.Errorf("last sample = %f, want 0", got[9])
	}
}

func TestApplyHooks(t *testing.T) {
	double := func(s []float32) []float32 {
		for i := range s {
			s[i] *= 2
		}

		return s
	}

	got := ApplyHooks([]float32{1, 2}, double, double)
	if got[0] != 4 || got[1] != 8 {
		t.Errorf("got %v, want [4 8]", got)
	}
}

func ones(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 1
	}

	return s
}

func peakOf(s []float32) float32 {
	var peak float32

	for _, v := range s {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}

	return peak
}

func meanOf(s []float32) float32 {
	var sum float64
	for _, v := range s {
		sum += float64(v)
	}

	return float32(sum / float64(len(s)))
}

func rmsOf(s []float32) float32 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}

	return float32(math.Sqrt(sum / float64(len(s))))
}
