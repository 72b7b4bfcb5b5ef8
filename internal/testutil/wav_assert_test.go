package testutil_test

import (
	"math"
	"testing"

	"github.com/murmurtts/murmur/internal/audio"
	"github.com/murmurtts/murmur/internal/testutil"
)

func TestAssertValidWAV_AcceptsEncoderOutput(t *testing.T) {
	samples := make([]float32, audio.SampleRate/2)
	for i := range samples {
		samples[i] = 0.4 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(audio.SampleRate)))
	}

	data, err := audio.EncodeWAV(samples)
	if err != nil {
		t.Fatalf("EncodeWAV returned error: %v", err)
	}

	testutil.AssertValidWAV(t, data)
	testutil.AssertWAVDurationApprox(t, data, 0.45, 0.55)
}

func TestAssertValidWAV_RejectsGarbage(t *testing.T) {
	rec := &recorder{}

	// 44 zero bytes: long enough to index safely, wrong everywhere else.
	testutil.AssertValidWAV(rec, make([]byte, 44))
	if !rec.failed {
		t.Error("expected garbage input to fail the assertion")
	}
}

// recorder captures Fatalf calls so assertion failures can be tested without
// failing the enclosing test.
type recorder struct {
	testing.TB

	failed bool
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(string, ...any) { r.failed = true }

func (r *recorder) Fatal(...any) { r.failed = true }
