package engine

import (
	"context"
	"testing"
)

func tinyModel(t *testing.T) *Model {
	t.Helper()

	store := storeFromEntries(t, append(lmEntries(t), decoderEntries(t)...))

	cfg := Config{LM: tinyLMConfig(), Decoder: tinyDecoderConfig()}

	m, err := LoadModelFromStore(store, cfg, nil)
	if err != nil {
		t.Fatalf("LoadModelFromStore: %v", err)
	}

	return m
}

func TestModelSynthesize(t *testing.T) {
	m := tinyModel(t)
	defer m.Close()

	if m.SampleRate() != 24000 {
		t.Fatalf("sample rate %d, want 24000", m.SampleRate())
	}

	cond, err := m.LM().TextEmbeddings([]int{1, 2, 3})
	if err != nil {
		t.Fatalf("TextEmbeddings: %v", err)
	}

	opts := GenerateOptions{
		MaxSteps:       16,
		MinSteps:       2,
		FlowSteps:      2,
		Temperature:    0,
		EOSThreshold:   -4.0,
		FramesAfterEOS: 1,
	}

	samples, err := m.Synthesize(context.Background(), cond, opts)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	// Zero weights fire the eos head immediately once MinSteps passes:
	// frames for steps 0..3, four samples per frame.
	if len(samples) != 16 {
		t.Fatalf("got %d samples, want 16", len(samples))
	}
}

func TestModelGenerateResetsBetweenRuns(t *testing.T) {
	m := tinyModel(t)
	defer m.Close()

	cond, err := m.LM().TextEmbeddings([]int{1})
	if err != nil {
		t.Fatalf("TextEmbeddings: %v", err)
	}

	opts := GenerateOptions{
		MaxSteps:       4,
		MinSteps:       0,
		FlowSteps:      1,
		Temperature:    0,
		EOSThreshold:   -4.0,
		FramesAfterEOS: 0,
	}

	for run := range 2 {
		frames, err := m.Generate(context.Background(), cond, opts)
		if err != nil {
			t.Fatalf("Generate run %d: %v", run, err)
		}

		if frames.Dim(1) != 1 {
			t.Fatalf("run %d: trajectory length %d, want 1", run, frames.Dim(1))
		}
	}
}
