package engine

import (
	"errors"
	"testing"
)

func TestTextEmbeddings(t *testing.T) {
	lm := tinyLM(t)

	emb, err := lm.TextEmbeddings([]int{0, 3, 4})
	if err != nil {
		t.Fatalf("TextEmbeddings: %v", err)
	}

	shape := emb.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] != 3 || shape[2] != 4 {
		t.Fatalf("unexpected shape %v", shape)
	}
}

func TestTextEmbeddingsValidation(t *testing.T) {
	lm := tinyLM(t)

	var cfgErr *ConfigError

	if _, err := lm.TextEmbeddings(nil); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for empty ids, got %v", err)
	}

	if _, err := lm.TextEmbeddings([]int{5}); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for out-of-vocabulary id, got %v", err)
	}
}

func TestStepBeforePrefill(t *testing.T) {
	lm := tinyLM(t)

	_, _, err := lm.Step(nil, 1, 0, nil)

	var stateErr *CacheStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected CacheStateError, got %v", err)
	}
}

func TestPrefillOnDirtyCache(t *testing.T) {
	lm := tinyLM(t)

	cond, err := lm.TextEmbeddings([]int{1, 2})
	if err != nil {
		t.Fatalf("TextEmbeddings: %v", err)
	}

	if err := lm.Prefill(cond); err != nil {
		t.Fatalf("Prefill: %v", err)
	}

	err = lm.Prefill(cond)

	var stateErr *CacheStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected CacheStateError, got %v", err)
	}

	lm.Reset()

	if err := lm.Prefill(cond); err != nil {
		t.Fatalf("Prefill after Reset: %v", err)
	}
}

func TestStepAdvancesCache(t *testing.T) {
	lm := tinyLM(t)

	cond, err := lm.TextEmbeddings([]int{1, 2, 3})
	if err != nil {
		t.Fatalf("TextEmbeddings: %v", err)
	}

	if err := lm.Prefill(cond); err != nil {
		t.Fatalf("Prefill: %v", err)
	}

	if lm.SeqLen() != 3 {
		t.Fatalf("cache length %d after prefill, want 3", lm.SeqLen())
	}

	frame, eos, err := lm.Step(nil, 1, 0, nil)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}

	if lm.SeqLen() != 4 {
		t.Fatalf("cache length %d after step, want 4", lm.SeqLen())
	}

	if frame.Rank() != 2 || frame.Dim(1) != 2 {
		t.Fatalf("frame shape %v, want [1 2]", frame.Shape())
	}

	// Zero weights make the eos head emit exactly zero.
	if eos != 0 {
		t.Fatalf("eos logit %g, want 0", eos)
	}

	// The next step feeds the previous frame back.
	if _, _, err := lm.Step(frame, 1, 0, nil); err != nil {
		t.Fatalf("Step with feedback: %v", err)
	}

	if lm.SeqLen() != 5 {
		t.Fatalf("cache length %d, want 5", lm.SeqLen())
	}
}

func TestDenormalize(t *testing.T) {
	lm := tinyLM(t)

	frame := ten(t, []float32{0, 0}, 1, 2)

	out, err := lm.Denormalize(frame)
	if err != nil {
		t.Fatalf("Denormalize: %v", err)
	}

	// emb_std is ones and emb_mean is [0.5, -0.5] in the fixture.
	got := out.RawData()
	if got[0] != 0.5 || got[1] != -0.5 {
		t.Fatalf("got %v, want [0.5 -0.5]", got)
	}
}
