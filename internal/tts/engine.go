// Package tts glues the pieces into a synthesis pipeline: normalize and
// chunk the input text, condition each chunk on a voice embedding, run the
// autoregressive engine, and stream decoded samples with seam crossfades.
package tts

import (
	"context"

	"github.com/murmurtts/murmur/internal/engine"
	"github.com/murmurtts/murmur/internal/mat"
)

// Engine is the model surface the service pipeline needs. It is satisfied
// by modelEngine and by test stubs.
type Engine interface {
	// TextEmbeddings maps token IDs to conditioning vectors [1, T, D].
	TextEmbeddings(ids []int) (*mat.Tensor, error)
	// Generate runs one autoregressive pass and returns latent frames
	// [1, T, latentDim].
	Generate(ctx context.Context, cond *mat.Tensor, opts engine.GenerateOptions) (*mat.Tensor, error)
	// DecodeStream decodes latent frames, crossfading against the tail of
	// the previous call.
	DecodeStream(frames *mat.Tensor) ([]float32, error)
	// ResetStream clears the crossfade tail.
	ResetStream()
	// SampleRate reports the output rate in Hz.
	SampleRate() int
	// Close releases model resources.
	Close()
}

// modelEngine adapts engine.Model to the Engine interface.
type modelEngine struct {
	model *engine.Model
}

// NewEngine wraps a loaded model for use by the service.
func NewEngine(model *engine.Model) Engine {
	return &modelEngine{model: model}
}

func (e *modelEngine) TextEmbeddings(ids []int) (*mat.Tensor, error) {
	return e.model.LM().TextEmbeddings(ids)
}

func (e *modelEngine) Generate(ctx context.Context, cond *mat.Tensor, opts engine.GenerateOptions) (*mat.Tensor, error) {
	return e.model.Generate(ctx, cond, opts)
}

func (e *modelEngine) DecodeStream(frames *mat.Tensor) ([]float32, error) {
	return e.model.Decoder().DecodeStream(frames)
}

func (e *modelEngine) ResetStream() {
	e.model.Decoder().ResetStream()
}

func (e *modelEngine) SampleRate() int {
	return e.model.SampleRate()
}

func (e *modelEngine) Close() {
	e.model.Close()
}
