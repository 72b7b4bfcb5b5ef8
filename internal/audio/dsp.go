package audio

import "math"

// Hook transforms a sample buffer in a post-processing chain.
type Hook func(samples []float32) []float32

// ApplyHooks runs samples through each hook in order.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// PeakNormalize scales samples in place so the peak amplitude reaches 1.0.
// Silence is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32

	for _, v := range samples {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}

	if peak == 0 {
		return samples
	}

	scale := 1 / peak
	for i := range samples {
		samples[i] *= scale
	}

	return samples
}

// DCBlock removes DC offset in place with a one-pole high-pass filter
// (cutoff around 20 Hz).
func DCBlock(samples []float32, sampleRate int) []float32 {
	if sampleRate < 1 || len(samples) == 0 {
		return samples
	}

	r := float32(1 - 2*math.Pi*20/float64(sampleRate))

	var prevIn, prevOut float32

	for i, v := range samples {
		out := v - prevIn + r*prevOut
		prevIn = v
		prevOut = out
		samples[i] = out
	}

	return samples
}

// FadeIn applies a linear fade-in ramp in place over the given duration in
// milliseconds. The ramp is clamped to the buffer length.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeSamples(len(samples), sampleRate, ms)

	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp in place over the given duration in
// milliseconds. The ramp is clamped to the buffer length.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeSamples(len(samples), sampleRate, ms)
	start := len(samples) - n

	for i := 0; i < n; i++ {
		samples[start+i] *= float32(n-1-i) / float32(n)
	}

	return samples
}

func fadeSamples(bufLen, sampleRate int, ms float64) int {
	n := int(ms / 1000 * float64(sampleRate))
	if n > bufLen {
		n = bufLen
	}

	if n < 0 {
		n = 0
	}

	return n
}
