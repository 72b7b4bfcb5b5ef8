package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/murmurtts/murmur/internal/audio"
	"github.com/murmurtts/murmur/internal/engine"
	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/text"
	"github.com/murmurtts/murmur/internal/tokenizer"
	"github.com/murmurtts/murmur/internal/voice"
)

// ChunkFunc receives decoded samples per chunk. last marks the final chunk.
// Returning false stops synthesis after the current chunk.
type ChunkFunc func(samples []float32, last bool) bool

// Options tunes the service pipeline.
type Options struct {
	// MaxChunkTokens bounds the token count per generation chunk.
	MaxChunkTokens int
	// MinSteps, FlowSteps, Temperature and EOSThreshold are forwarded to
	// the generator; MaxSteps and FramesAfterEOS are derived per chunk.
	MinSteps     int
	FlowSteps    int
	Temperature  float64
	EOSThreshold float64
	// Hooks post-process each chunk's samples in order.
	Hooks []audio.Hook
	// Seed fixes the sampling RNG. Zero seeds from the clock.
	Seed int64
}

// DefaultOptions returns the pipeline defaults.
func DefaultOptions() Options {
	base := engine.DefaultGenerateOptions()

	return Options{
		MaxChunkTokens: 32,
		MinSteps:       2,
		FlowSteps:      base.FlowSteps,
		Temperature:    base.Temperature,
		EOSThreshold:   base.EOSThreshold,
	}
}

// Service runs the full text-to-speech pipeline. Generation is serialized:
// the engine's caches and the decoder's crossfade tail are single-stream
// state.
type Service struct {
	engine Engine
	tok    tokenizer.Tokenizer
	bank   *voice.Bank
	opts   Options
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewService builds a pipeline around an engine and tokenizer. The bank may
// be nil when synthesis never references voice IDs.
func NewService(eng Engine, tok tokenizer.Tokenizer, bank *voice.Bank, opts Options, logger *slog.Logger) (*Service, error) {
	if eng == nil {
		return nil, errors.New("tts: engine is required")
	}

	if tok == nil {
		return nil, errors.New("tts: tokenizer is required")
	}

	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = DefaultOptions().MaxChunkTokens
	}

	if logger == nil {
		logger = slog.Default()
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Service{
		engine: eng,
		tok:    tok,
		bank:   bank,
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Voices lists the available voice IDs, empty when no bank is configured.
func (s *Service) Voices() []voice.Voice {
	if s.bank == nil {
		return nil
	}

	return s.bank.List()
}

// SampleRate reports the output rate in Hz.
func (s *Service) SampleRate() int {
	return s.engine.SampleRate()
}

// Close releases the engine.
func (s *Service) Close() {
	s.engine.Close()
}

// Synthesize runs the whole pipeline and returns the concatenated samples.
func (s *Service) Synthesize(ctx context.Context, input, voiceID string) ([]float32, error) {
	var out []float32

	err := s.SynthesizeStream(ctx, input, voiceID, func(samples []float32, _ bool) bool {
		out = append(out, samples...)
		return true
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// SynthesizeStream synthesizes input chunk by chunk, invoking fn with the
// decoded samples of each chunk as soon as they are ready. Chunk seams are
// crossfaded by the decoder, so concatenating the callback payloads yields
// the same waveform Synthesize returns.
func (s *Service) SynthesizeStream(ctx context.Context, input, voiceID string, fn ChunkFunc) error {
	if fn == nil {
		return errors.New("tts: chunk callback is required")
	}

	normalized, err := text.Normalize(input)
	if err != nil {
		return err
	}

	chunks, err := text.PrepareChunks(normalized, s.tok, s.opts.MaxChunkTokens)
	if err != nil {
		return fmt.Errorf("tts: prepare chunks: %w", err)
	}

	voiceEmb, err := s.voiceEmbedding(voiceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.ResetStream()

	start := time.Now()
	total := 0

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		samples, err := s.synthesizeChunk(ctx, chunk, voiceEmb)
		if err != nil {
			return fmt.Errorf("tts: chunk %d/%d: %w", i+1, len(chunks), err)
		}

		total += len(samples)

		last := i == len(chunks)-1
		if !fn(samples, last) {
			s.logger.Debug("synthesis stopped by caller", "chunk", i+1, "chunks", len(chunks))
			return nil
		}
	}

	s.logger.Info("synthesis complete",
		"chunks", len(chunks),
		"samples", total,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (s *Service) synthesizeChunk(ctx context.Context, chunk text.ChunkMetadata, voiceEmb *mat.Tensor) ([]float32, error) {
	cond, err := s.engine.TextEmbeddings(chunk.TokenIDs)
	if err != nil {
		return nil, err
	}

	if voiceEmb != nil {
		cond, err = mat.Concat([]*mat.Tensor{voiceEmb, cond}, 1)
		if err != nil {
			return nil, fmt.Errorf("prepend voice embedding: %w", err)
		}
	}

	opts := engine.GenerateOptions{
		MaxSteps:       int(chunk.MaxFrames()),
		MinSteps:       s.opts.MinSteps,
		FlowSteps:      s.opts.FlowSteps,
		Temperature:    s.opts.Temperature,
		EOSThreshold:   s.opts.EOSThreshold,
		FramesAfterEOS: chunk.FramesAfterEOS(),
		RNG:            s.rng,
	}

	frames, err := s.engine.Generate(ctx, cond, opts)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("chunk generated",
		"tokens", chunk.NumTokens,
		"frames", frames.Dim(1),
		"max_frames", opts.MaxSteps,
	)

	samples, err := s.engine.DecodeStream(frames)
	if err != nil {
		return nil, err
	}

	return audio.ApplyHooks(samples, s.opts.Hooks...), nil
}

func (s *Service) voiceEmbedding(voiceID string) (*mat.Tensor, error) {
	if voiceID == "" {
		return nil, nil
	}

	// Path-like values bypass the bank so callers can point at a custom
	// embedding file directly.
	if strings.ContainsRune(voiceID, filepath.Separator) || strings.HasSuffix(voiceID, ".safetensors") {
		return voice.LoadEmbedding(voiceID)
	}

	if s.bank == nil {
		return nil, fmt.Errorf("tts: voice %q requested but no voice bank configured", voiceID)
	}

	return s.bank.Embedding(voiceID)
}
