package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/weights"
)

// Config bundles the geometry of both halves of the model.
type Config struct {
	LM      LMConfig
	Decoder DecoderConfig
}

// DefaultConfig matches the shipped murmur checkpoints.
func DefaultConfig() Config {
	return Config{
		LM:      DefaultLMConfig(),
		Decoder: DefaultDecoderConfig(),
	}
}

// Model pairs the latent language model with the waveform decoder loaded
// from a single safetensors archive.
type Model struct {
	store   *weights.Store
	lm      *LatentLM
	decoder *WaveDecoder
	logger  *slog.Logger
}

// LoadModel reads the archive at path and builds both halves.
func LoadModel(path string, cfg Config, logger *slog.Logger) (*Model, error) {
	store, err := weights.Open(path)
	if err != nil {
		return nil, err
	}

	return LoadModelFromStore(store, cfg, logger)
}

// LoadModelFromStore builds the model from an open store. The lm half lives
// under the flow_lm prefix, the decoder under mimi.
func LoadModelFromStore(store *weights.Store, cfg Config, logger *slog.Logger) (*Model, error) {
	if cfg.LM.DModel == 0 {
		cfg = DefaultConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	vb := weights.NewVarBuilder(store)

	lm, err := LoadLatentLM(vb.Path("flow_lm"), cfg.LM)
	if err != nil {
		return nil, err
	}

	decoder, err := LoadWaveDecoder(vb.Path("mimi"), cfg.Decoder)
	if err != nil {
		return nil, err
	}

	return &Model{store: store, lm: lm, decoder: decoder, logger: logger}, nil
}

// Close releases the weight store.
func (m *Model) Close() {
	if m != nil && m.store != nil {
		m.store.Close()
	}
}

// LM returns the latent language model.
func (m *Model) LM() *LatentLM { return m.lm }

// Decoder returns the waveform decoder.
func (m *Model) Decoder() *WaveDecoder { return m.decoder }

// SampleRate returns the decoder output rate in Hz.
func (m *Model) SampleRate() int {
	if m == nil || m.decoder == nil {
		return 0
	}

	return m.decoder.SampleRate()
}

// Generate runs a full autoregressive pass over the conditioning sequence
// and returns the latent trajectory [1, T, latentDim]. The lm caches are
// reset before and after.
func (m *Model) Generate(ctx context.Context, cond *mat.Tensor, opts GenerateOptions) (*mat.Tensor, error) {
	if m == nil || m.lm == nil {
		return nil, errors.New("engine: model lm unavailable")
	}

	gen, err := NewGenerator(m.lm, opts, m.logger)
	if err != nil {
		return nil, err
	}

	m.lm.Reset()
	defer m.lm.Reset()

	return gen.Generate(ctx, cond)
}

// Synthesize generates latent frames for the conditioning sequence and
// decodes them to samples in one shot.
func (m *Model) Synthesize(ctx context.Context, cond *mat.Tensor, opts GenerateOptions) ([]float32, error) {
	frames, err := m.Generate(ctx, cond, opts)
	if err != nil {
		return nil, err
	}

	if m.decoder == nil {
		return nil, errors.New("engine: model decoder unavailable")
	}

	return m.decoder.Decode(frames)
}
