package engine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/nn"
	"github.com/murmurtts/murmur/internal/weights"
)

// DecoderConfig describes the waveform decoder geometry. The zero value is
// replaced by DefaultDecoderConfig.
type DecoderConfig struct {
	SampleRate int
	NumHeads   int
	RopeBase   float64
	MaxSeq     int
	// UpsampleStride is the stride of the depthwise latent upsampler.
	UpsampleStride int
	// Strides are the upsampling factors of the synthesis stages, outermost
	// first.
	Strides []int
	// CrossfadeLen is the number of samples blended between streamed chunks.
	CrossfadeLen int
}

// DefaultDecoderConfig matches the shipped murmur checkpoints: 24 kHz mono
// output and a 50 ms crossfade window.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		SampleRate:     24000,
		NumHeads:       8,
		RopeBase:       10000,
		MaxSeq:         8192,
		UpsampleStride: 16,
		Strides:        []int{6, 5, 4},
		CrossfadeLen:   24000 / 20,
	}
}

type convLayer struct {
	weight   *mat.Tensor
	bias     *mat.Tensor
	stride   int
	dilation int
	groups   int
}

func loadConvLayer(vb *weights.VarBuilder, withBias bool) (*convLayer, error) {
	w, err := vb.Tensor("weight")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 3 {
		return nil, fmt.Errorf("engine: conv weight must be rank-3, got %v", w.Shape())
	}

	var b *mat.Tensor

	if withBias {
		t, ok, err := vb.TensorMaybe("bias")
		if err != nil {
			return nil, err
		}

		if ok {
			b = t
		}
	}

	return &convLayer{weight: w, bias: b, stride: 1, dilation: 1, groups: 1}, nil
}

func (c *convLayer) forward(x *mat.Tensor) (*mat.Tensor, error) {
	return nn.Conv1DCausal(x, c.weight, c.bias, c.stride, c.groups)
}

type convTrLayer struct {
	weight *mat.Tensor
	bias   *mat.Tensor
	stride int
	groups int
}

func loadConvTrLayer(vb *weights.VarBuilder, stride, groups int, withBias bool) (*convTrLayer, error) {
	w, err := vb.Tensor("weight")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 3 {
		return nil, fmt.Errorf("engine: transposed conv weight must be rank-3, got %v", w.Shape())
	}

	var b *mat.Tensor

	if withBias {
		t, ok, err := vb.TensorMaybe("bias")
		if err != nil {
			return nil, err
		}

		if ok {
			b = t
		}
	}

	return &convTrLayer{weight: w, bias: b, stride: stride, groups: groups}, nil
}

func (c *convTrLayer) forward(x *mat.Tensor) (*mat.Tensor, error) {
	return nn.ConvTranspose1DTrimmed(x, c.weight, c.bias, c.stride, c.groups)
}

type synthResBlock struct {
	conv1 *convLayer
	conv2 *convLayer
}

func loadSynthResBlock(vb *weights.VarBuilder) (*synthResBlock, error) {
	conv1, err := loadConvLayer(vb.Path("block", "1", "conv"), true)
	if err != nil {
		return nil, err
	}

	conv2, err := loadConvLayer(vb.Path("block", "3", "conv"), true)
	if err != nil {
		return nil, err
	}

	return &synthResBlock{conv1: conv1, conv2: conv2}, nil
}

func (rb *synthResBlock) Forward(x *mat.Tensor) (*mat.Tensor, error) {
	h := nn.ELU(x.Clone())

	h, err := rb.conv1.forward(h)
	if err != nil {
		return nil, err
	}

	h = nn.ELU(h)

	h, err = rb.conv2.forward(h)
	if err != nil {
		return nil, err
	}

	return mat.Add(x, h)
}

type decoderTransformerLayer struct {
	norm1       *LayerNorm
	norm2       *LayerNorm
	inProj      *Linear
	outProj     *Linear
	linear1     *Linear
	linear2     *Linear
	layerScale1 *mat.Tensor // optional [d]
	layerScale2 *mat.Tensor // optional [d]
	nHeads      int
	headDim     int
}

func loadDecoderTransformerLayer(vb *weights.VarBuilder, nHeads int) (*decoderTransformerLayer, error) {
	norm1, err := loadLayerNorm(vb, "norm1", 1e-5)
	if err != nil {
		return nil, err
	}

	norm2, err := loadLayerNorm(vb, "norm2", 1e-5)
	if err != nil {
		return nil, err
	}

	inProj, err := loadLinear(vb, "self_attn.in_proj", false)
	if err != nil {
		return nil, err
	}

	outProj, err := loadLinear(vb, "self_attn.out_proj", false)
	if err != nil {
		return nil, err
	}

	linear1, err := loadLinear(vb, "linear1", false)
	if err != nil {
		return nil, err
	}

	linear2, err := loadLinear(vb, "linear2", false)
	if err != nil {
		return nil, err
	}

	ls1, _, err := vb.TensorMaybe("layer_scale_1.scale")
	if err != nil {
		return nil, err
	}

	ls2, _, err := vb.TensorMaybe("layer_scale_2.scale")
	if err != nil {
		return nil, err
	}

	dModel := outProj.Weight.Dim(0)
	if dModel%nHeads != 0 {
		return nil, fmt.Errorf("engine: decoder d_model %d not divisible by heads %d", dModel, nHeads)
	}

	return &decoderTransformerLayer{
		norm1:       norm1,
		norm2:       norm2,
		inProj:      inProj,
		outProj:     outProj,
		linear1:     linear1,
		linear2:     linear2,
		layerScale1: ls1,
		layerScale2: ls2,
		nHeads:      nHeads,
		headDim:     dModel / nHeads,
	}, nil
}

func (l *decoderTransformerLayer) forward(x *mat.Tensor, rope *nn.Rotary) (*mat.Tensor, error) {
	n1, err := l.norm1.Forward(x)
	if err != nil {
		return nil, err
	}

	attn, err := l.selfAttention(n1, rope)
	if err != nil {
		return nil, err
	}

	if l.layerScale1 != nil {
		attn, err = mat.BroadcastMul(attn, l.layerScale1)
		if err != nil {
			return nil, err
		}
	}

	x, err = mat.Add(x, attn)
	if err != nil {
		return nil, err
	}

	n2, err := l.norm2.Forward(x)
	if err != nil {
		return nil, err
	}

	ff, err := l.linear1.Forward(n2)
	if err != nil {
		return nil, err
	}

	ff = nn.GELU(ff)

	ff, err = l.linear2.Forward(ff)
	if err != nil {
		return nil, err
	}

	if l.layerScale2 != nil {
		ff, err = mat.BroadcastMul(ff, l.layerScale2)
		if err != nil {
			return nil, err
		}
	}

	return mat.Add(x, ff)
}

func (l *decoderTransformerLayer) selfAttention(x *mat.Tensor, rope *nn.Rotary) (*mat.Tensor, error) {
	if x.Rank() != 3 {
		return nil, inferenceErrorf("decoder attention expects [B, T, D], got %v", x.Shape())
	}

	b, t, d := x.Dim(0), x.Dim(1), x.Dim(2)

	qkv, err := l.inProj.Forward(x)
	if err != nil {
		return nil, err
	}

	q, k, v, err := nn.SplitThirds(qkv)
	if err != nil {
		return nil, err
	}

	for _, h := range []**mat.Tensor{&q, &k, &v} {
		r, err := (*h).Reshape(b, t, l.nHeads, l.headDim)
		if err != nil {
			return nil, err
		}

		r, err = r.Transpose(1, 2)
		if err != nil {
			return nil, err
		}

		*h = r
	}

	q, err = rope.Apply(q, 0)
	if err != nil {
		return nil, err
	}

	k, err = rope.Apply(k, 0)
	if err != nil {
		return nil, err
	}

	a, err := nn.Attention(q, k, v, true, 0)
	if err != nil {
		return nil, err
	}

	a, err = a.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	a, err = a.Reshape(b, t, d)
	if err != nil {
		return nil, err
	}

	return l.outProj.Forward(a)
}

type decoderTransformer struct {
	layers []*decoderTransformerLayer
	rope   *nn.Rotary
}

func loadDecoderTransformer(vb *weights.VarBuilder, cfg DecoderConfig) (*decoderTransformer, error) {
	var layers []*decoderTransformerLayer

	for i := 0; ; i++ {
		layerPath := vb.Path("decoder_transformer", "transformer", "layers", strconv.Itoa(i))
		if !layerPath.Has("norm1.weight") {
			break
		}

		layer, err := loadDecoderTransformerLayer(layerPath, cfg.NumHeads)
		if err != nil {
			return nil, fmt.Errorf("engine: load decoder transformer layer %d: %w", i, err)
		}

		layers = append(layers, layer)
	}

	if len(layers) == 0 {
		return nil, errors.New("engine: no decoder transformer layers found")
	}

	rope, err := nn.NewRotary(cfg.MaxSeq, layers[0].headDim, cfg.RopeBase)
	if err != nil {
		return nil, err
	}

	return &decoderTransformer{layers: layers, rope: rope}, nil
}

// Forward runs the layers over [B, C, T] input, transposing to the
// transformer's [B, T, C] layout and back.
func (dt *decoderTransformer) Forward(x *mat.Tensor) (*mat.Tensor, error) {
	x, err := x.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	for i, layer := range dt.layers {
		x, err = layer.forward(x, dt.rope)
		if err != nil {
			return nil, wrapInference(err, "decoder transformer layer %d", i)
		}
	}

	return x.Transpose(1, 2)
}

type synthStage struct {
	up  *convTrLayer
	res *synthResBlock
}

// WaveDecoder turns latent frames into PCM samples: a 1x1 projection, a
// depthwise transposed-conv upsampler, a small causal transformer, and a
// stack of transposed-conv synthesis stages with residual blocks. It also
// holds the crossfade tail for streamed decoding.
type WaveDecoder struct {
	cfg DecoderConfig

	quantProj   *convLayer
	upsample    *convTrLayer
	transformer *decoderTransformer

	initConv  *convLayer
	stages    []synthStage
	finalConv *convLayer

	tail []float32
}

// LoadWaveDecoder builds the decoder from a var builder rooted at the
// archive's mimi prefix.
func LoadWaveDecoder(vb *weights.VarBuilder, cfg DecoderConfig) (*WaveDecoder, error) {
	if cfg.SampleRate == 0 {
		cfg = DefaultDecoderConfig()
	}

	if len(cfg.Strides) == 0 {
		return nil, configErrorf("decoder requires at least one synthesis stride")
	}

	quantProj, err := loadConvLayer(vb.Path("quantizer", "output_proj"), false)
	if err != nil {
		return nil, err
	}

	upsampleGroups := vb.Path("upsample", "convtr", "convtr")

	upW, err := upsampleGroups.Tensor("weight")
	if err != nil {
		return nil, err
	}

	// The latent upsampler is depthwise: one group per channel.
	upsample, err := loadConvTrLayer(upsampleGroups, cfg.UpsampleStride, upW.Dim(0), false)
	if err != nil {
		return nil, err
	}

	transformer, err := loadDecoderTransformer(vb, cfg)
	if err != nil {
		return nil, err
	}

	initConv, err := loadConvLayer(vb.Path("decoder", "model", "0", "conv"), true)
	if err != nil {
		return nil, err
	}

	// decoder.model interleaves ELU / convtr / resblock triples starting at
	// index 2, with a final conv two entries past the last stage.
	stages := make([]synthStage, 0, len(cfg.Strides))
	idx := 2

	for i, stride := range cfg.Strides {
		up, err := loadConvTrLayer(vb.Path("decoder", "model", strconv.Itoa(idx), "convtr"), stride, 1, true)
		if err != nil {
			return nil, fmt.Errorf("engine: load synthesis stage %d: %w", i, err)
		}

		res, err := loadSynthResBlock(vb.Path("decoder", "model", strconv.Itoa(idx+1)))
		if err != nil {
			return nil, fmt.Errorf("engine: load synthesis stage %d: %w", i, err)
		}

		stages = append(stages, synthStage{up: up, res: res})
		idx += 3
	}

	finalConv, err := loadConvLayer(vb.Path("decoder", "model", strconv.Itoa(idx), "conv"), true)
	if err != nil {
		return nil, err
	}

	return &WaveDecoder{
		cfg:         cfg,
		quantProj:   quantProj,
		upsample:    upsample,
		transformer: transformer,
		initConv:    initConv,
		stages:      stages,
		finalConv:   finalConv,
	}, nil
}

// SampleRate returns the output sample rate in Hz.
func (d *WaveDecoder) SampleRate() int {
	if d == nil {
		return 0
	}

	return d.cfg.SampleRate
}

// Decode maps latent frames [B, T, latentDim] to samples without touching
// the streaming state.
func (d *WaveDecoder) Decode(frames *mat.Tensor) ([]float32, error) {
	if d == nil {
		return nil, errors.New("engine: wave decoder is nil")
	}

	if frames == nil || frames.Rank() != 3 {
		return nil, inferenceErrorf("decoder input must be [B, T, D]")
	}

	if frames.Dim(1) == 0 {
		return nil, inferenceErrorf("decoder input has no frames")
	}

	x, err := frames.Transpose(1, 2) // [B, D, T]
	if err != nil {
		return nil, err
	}

	x, err = d.quantProj.forward(x)
	if err != nil {
		return nil, err
	}

	x, err = d.upsample.forward(x)
	if err != nil {
		return nil, err
	}

	x, err = d.transformer.Forward(x)
	if err != nil {
		return nil, err
	}

	x, err = d.initConv.forward(x)
	if err != nil {
		return nil, err
	}

	for i, stage := range d.stages {
		x = nn.ELU(x)

		x, err = stage.up.forward(x)
		if err != nil {
			return nil, wrapInference(err, "synthesis stage %d", i)
		}

		x, err = stage.res.Forward(x)
		if err != nil {
			return nil, wrapInference(err, "synthesis stage %d", i)
		}
	}

	x = nn.ELU(x)

	x, err = d.finalConv.forward(x)
	if err != nil {
		return nil, err
	}

	if x.Rank() != 3 || x.Dim(0) != 1 || x.Dim(1) != 1 {
		return nil, inferenceErrorf("decoder produced shape %v, want [1, 1, N]", x.Shape())
	}

	out := make([]float32, x.Dim(2))
	copy(out, x.RawData())

	return out, nil
}

// DecodeStreaming decodes a chunk and blends its head against prevTail.
// The caller owns the tail: prevTail is the pre-blend samples returned by
// the previous call (nil on the first chunk), and newTail holds the last
// min(overlap, chunk) pre-blend samples of this chunk. The decoder touches
// no state across calls, so interleaved streams can each carry their own
// tail.
func (d *WaveDecoder) DecodeStreaming(frames *mat.Tensor, overlap int, prevTail []float32) (samples, newTail []float32, err error) {
	if overlap < 0 {
		return nil, nil, inferenceErrorf("crossfade overlap %d is negative", overlap)
	}

	chunk, err := d.Decode(frames)
	if err != nil {
		return nil, nil, err
	}

	out := crossfade(prevTail, chunk)

	l := min(overlap, len(chunk))
	newTail = make([]float32, l)
	copy(newTail, chunk[len(chunk)-l:])

	return out, newTail, nil
}

// DecodeStream is the single-stream convenience over DecodeStreaming: the
// decoder carries the tail itself, using the configured CrossfadeLen.
func (d *WaveDecoder) DecodeStream(frames *mat.Tensor) ([]float32, error) {
	out, tail, err := d.DecodeStreaming(frames, d.cfg.CrossfadeLen, d.tail)
	if err != nil {
		return nil, err
	}

	d.tail = tail

	return out, nil
}

// ResetStream drops the crossfade tail so the next chunk starts clean.
func (d *WaveDecoder) ResetStream() {
	if d == nil {
		return
	}

	d.tail = d.tail[:0]
}

// crossfade linearly fades the previous tail out and the new chunk in over
// min(len(tail), len(chunk)) samples. The blend reaches fully-new signal at
// the end of the window.
func crossfade(tail, chunk []float32) []float32 {
	out := make([]float32, len(chunk))
	copy(out, chunk)

	n := min(len(tail), len(chunk))
	if n == 0 {
		return out
	}

	inv := 1 / float32(n)
	for i := range n {
		w := float32(i+1) * inv
		out[i] = tail[i]*(1-w) + chunk[i]*w
	}

	return out
}
