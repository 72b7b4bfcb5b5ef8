package server_test

import (
	"context"
	"testing"

	"github.com/murmurtts/murmur/internal/engine"
	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/tts"
)

// noopEngine satisfies tts.Engine for server lifecycle tests.
type noopEngine struct{}

func (noopEngine) TextEmbeddings(ids []int) (*mat.Tensor, error) {
	return mat.New(make([]float32, len(ids)*2), 1, len(ids), 2)
}

func (noopEngine) Generate(context.Context, *mat.Tensor, engine.GenerateOptions) (*mat.Tensor, error) {
	return mat.New(make([]float32, 2), 1, 1, 2)
}

func (noopEngine) DecodeStream(*mat.Tensor) ([]float32, error) { return []float32{0}, nil }
func (noopEngine) ResetStream()                                {}
func (noopEngine) SampleRate() int                             { return 24000 }
func (noopEngine) Close()                                      {}

type noopTokenizer struct{}

func (noopTokenizer) Encode(string) ([]int, error) { return []int{1}, nil }

func newNoopService(t *testing.T) *tts.Service {
	t.Helper()

	opts := tts.DefaultOptions()
	opts.Seed = 1

	svc, err := tts.NewService(noopEngine{}, noopTokenizer{}, nil, opts, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	return svc
}
