package engine

import (
	"errors"
	"math/rand"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/weights"
)

// LMConfig describes the latent language model geometry.
type LMConfig struct {
	DModel    int
	NumHeads  int
	LatentDim int
	MaxSeq    int
	RopeBase  float64
}

// DefaultLMConfig matches the shipped murmur checkpoints.
func DefaultLMConfig() LMConfig {
	return LMConfig{
		DModel:    1024,
		NumHeads:  16,
		LatentDim: 32,
		MaxSeq:    8192,
		RopeBase:  10000,
	}
}

// LatentLM predicts one latent audio frame at a time: a causal transformer
// over text and frame embeddings produces a hidden state, the sampler turns
// that state into the next latent frame, and a linear head scores
// end-of-sequence.
type LatentLM struct {
	embed       *mat.Tensor // [vocab, dModel] token lookup table
	transformer *Transformer
	sampler     *Sampler

	embStd   *mat.Tensor // [latentDim]
	embMean  *mat.Tensor // [latentDim]
	bosEmb   *mat.Tensor // [latentDim], consumed in place of the missing first frame
	inputLin *Linear
	outNorm  *LayerNorm
	outEOS   *Linear

	state *TransformerState
	cfg   LMConfig
}

// LoadLatentLM builds the model from a var builder rooted at the archive's
// flow_lm prefix.
func LoadLatentLM(vb *weights.VarBuilder, cfg LMConfig) (*LatentLM, error) {
	if cfg.DModel == 0 {
		cfg = DefaultLMConfig()
	}

	embed, err := vb.Tensor("conditioner.embed.weight")
	if err != nil {
		return nil, err
	}

	if embed.Rank() != 2 || embed.Dim(1) != cfg.DModel {
		return nil, inferenceErrorf("token embedding shape %v does not match d_model %d", embed.Shape(), cfg.DModel)
	}

	transformer, err := loadTransformer(vb, cfg.NumHeads, cfg.MaxSeq, cfg.RopeBase)
	if err != nil {
		return nil, err
	}

	sampler, err := loadSampler(vb.Path("flow_net"))
	if err != nil {
		return nil, err
	}

	embStd, err := vb.Tensor("emb_std", cfg.LatentDim)
	if err != nil {
		return nil, err
	}

	embMean, err := vb.Tensor("emb_mean", cfg.LatentDim)
	if err != nil {
		return nil, err
	}

	bosEmb, err := vb.Tensor("bos_emb", cfg.LatentDim)
	if err != nil {
		return nil, err
	}

	inputLin, err := loadLinear(vb, "input_linear", true)
	if err != nil {
		return nil, err
	}

	outNorm, err := loadLayerNorm(vb, "out_norm", 1e-5)
	if err != nil {
		return nil, err
	}

	outEOS, err := loadLinear(vb, "out_eos", true)
	if err != nil {
		return nil, err
	}

	state, err := transformer.InitState(1)
	if err != nil {
		return nil, err
	}

	return &LatentLM{
		embed:       embed,
		transformer: transformer,
		sampler:     sampler,
		embStd:      embStd,
		embMean:     embMean,
		bosEmb:      bosEmb,
		inputLin:    inputLin,
		outNorm:     outNorm,
		outEOS:      outEOS,
		state:       state,
		cfg:         cfg,
	}, nil
}

// Config returns the model geometry.
func (m *LatentLM) Config() LMConfig {
	if m == nil {
		return LMConfig{}
	}

	return m.cfg
}

// TextEmbeddings looks up token embeddings, returning [1, len(ids), dModel].
func (m *LatentLM) TextEmbeddings(ids []int) (*mat.Tensor, error) {
	if m == nil || m.embed == nil {
		return nil, errors.New("engine: latent lm is not initialized")
	}

	if len(ids) == 0 {
		return nil, configErrorf("text embeddings require at least one token")
	}

	vocab := m.embed.Dim(0)
	for _, id := range ids {
		if id < 0 || id >= vocab {
			return nil, configErrorf("token id %d outside vocabulary of size %d", id, vocab)
		}
	}

	rows, err := m.embed.Gather(0, ids)
	if err != nil {
		return nil, err
	}

	return rows.Reshape(1, len(ids), m.cfg.DModel)
}

// Prefill feeds the conditioning sequence [1, T, dModel] into the cache.
// The caches must be fresh; call Reset between requests.
func (m *LatentLM) Prefill(cond *mat.Tensor) error {
	if m == nil || m.transformer == nil {
		return errors.New("engine: latent lm is not initialized")
	}

	if m.state.SeqLen() != 0 {
		return cacheStateErrorf("prefill on a dirty cache (%d cached positions); call Reset first", m.state.SeqLen())
	}

	if cond == nil || cond.Rank() != 3 {
		return inferenceErrorf("prefill conditioning must be [B, T, D]")
	}

	if cond.Dim(2) != m.cfg.DModel {
		return inferenceErrorf("prefill conditioning width %d does not match d_model %d", cond.Dim(2), m.cfg.DModel)
	}

	if cond.Dim(1) == 0 {
		return inferenceErrorf("prefill conditioning is empty")
	}

	_, err := m.transformer.Prefill(cond, m.state)

	return err
}

// Step feeds the previous normalized latent frame (nil on the first step,
// which consumes the beginning-of-sequence embedding instead) and samples the
// next one. It returns the new normalized frame [1, latentDim] and the raw
// end-of-sequence logit.
func (m *LatentLM) Step(prev *mat.Tensor, flowSteps int, temperature float64, rng *rand.Rand) (*mat.Tensor, float64, error) {
	if m == nil || m.transformer == nil {
		return nil, 0, errors.New("engine: latent lm is not initialized")
	}

	if m.state.SeqLen() == 0 {
		return nil, 0, cacheStateErrorf("step before prefill")
	}

	frame := prev
	if frame == nil {
		var err error

		frame, err = m.bosEmb.Reshape(1, m.cfg.LatentDim)
		if err != nil {
			return nil, 0, err
		}
	}

	if frame.Rank() != 2 || frame.Dim(1) != m.cfg.LatentDim {
		return nil, 0, inferenceErrorf("step frame shape %v does not match latent dim %d", frame.Shape(), m.cfg.LatentDim)
	}

	in, err := m.inputLin.Forward(frame)
	if err != nil {
		return nil, 0, err
	}

	in, err = in.Reshape(1, 1, m.cfg.DModel)
	if err != nil {
		return nil, 0, err
	}

	x, err := m.transformer.Step(in, m.state)
	if err != nil {
		return nil, 0, err
	}

	x, err = m.outNorm.Forward(x)
	if err != nil {
		return nil, 0, err
	}

	hidden, err := lastFrame(x)
	if err != nil {
		return nil, 0, err
	}

	eos, err := m.outEOS.Forward(hidden)
	if err != nil {
		return nil, 0, err
	}

	if eos.ElemCount() < 1 {
		return nil, 0, inferenceErrorf("eos logits tensor is empty")
	}

	next, err := m.sampler.Sample(hidden, m.cfg.LatentDim, flowSteps, temperature, rng)
	if err != nil {
		return nil, 0, err
	}

	return next, float64(eos.RawData()[0]), nil
}

// Denormalize maps a normalized latent frame back to decoder space:
// frame*embStd + embMean.
func (m *LatentLM) Denormalize(frame *mat.Tensor) (*mat.Tensor, error) {
	if m == nil || m.embStd == nil || m.embMean == nil {
		return nil, errors.New("engine: latent lm is not initialized")
	}

	scaled, err := mat.BroadcastMul(frame, m.embStd)
	if err != nil {
		return nil, err
	}

	return mat.BroadcastAdd(scaled, m.embMean)
}

// Reset clears the transformer caches so the model can serve a new request.
func (m *LatentLM) Reset() {
	if m == nil {
		return
	}

	m.state.Reset()
}

// SeqLen reports the number of cached transformer positions.
func (m *LatentLM) SeqLen() int {
	if m == nil {
		return 0
	}

	return m.state.SeqLen()
}
