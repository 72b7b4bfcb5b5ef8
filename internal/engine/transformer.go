package engine

import (
	"fmt"
	"strconv"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/nn"
	"github.com/murmurtts/murmur/internal/weights"
)

type transformerLayer struct {
	norm1   *LayerNorm
	norm2   *LayerNorm
	inProj  *Linear // self_attn.in_proj, fused q|k|v
	outProj *Linear // self_attn.out_proj
	linear1 *Linear
	linear2 *Linear
	nHeads  int
	headDim int
}

func loadTransformerLayer(vb *weights.VarBuilder, nHeads int) (*transformerLayer, error) {
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

	dModel := outProj.Weight.Dim(0)
	if dModel%nHeads != 0 {
		return nil, fmt.Errorf("engine: d_model %d not divisible by num_heads %d", dModel, nHeads)
	}

	return &transformerLayer{
		norm1:   norm1,
		norm2:   norm2,
		inProj:  inProj,
		outProj: outProj,
		linear1: linear1,
		linear2: linear2,
		nHeads:  nHeads,
		headDim: dModel / nHeads,
	}, nil
}

func (l *transformerLayer) projectQKV(x *mat.Tensor, rope *nn.Rotary, pos int) (q, k, v *mat.Tensor, err error) {
	if x.Rank() != 3 {
		return nil, nil, nil, inferenceErrorf("attention expects [B, T, D], got %v", x.Shape())
	}

	b, t := x.Dim(0), x.Dim(1)

	qkv, err := l.inProj.Forward(x)
	if err != nil {
		return nil, nil, nil, err
	}

	q, k, v, err = nn.SplitThirds(qkv)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, h := range []**mat.Tensor{&q, &k, &v} {
		r, err := (*h).Reshape(b, t, l.nHeads, l.headDim)
		if err != nil {
			return nil, nil, nil, err
		}

		r, err = r.Transpose(1, 2) // [B, H, T, Dh]
		if err != nil {
			return nil, nil, nil, err
		}

		*h = r
	}

	q, err = rope.Apply(q, pos)
	if err != nil {
		return nil, nil, nil, err
	}

	k, err = rope.Apply(k, pos)
	if err != nil {
		return nil, nil, nil, err
	}

	return q, k, v, nil
}

func (l *transformerLayer) forwardCached(
	x *mat.Tensor,
	rope *nn.Rotary,
	cache *kvCache,
	incremental bool,
) (*mat.Tensor, error) {
	n1, err := l.norm1.Forward(x)
	if err != nil {
		return nil, err
	}

	pos := cache.SeqLen()

	q, k, v, err := l.projectQKV(n1, rope, pos)
	if err != nil {
		return nil, err
	}

	kAll, vAll, err := cache.Append(k, v)
	if err != nil {
		return nil, err
	}

	// Prefill attends causally over its own positions; a single-query step
	// sees only past and current keys so no mask is needed.
	causal := true
	offset := pos
	if incremental {
		causal = false
		offset = 0
	}

	attn, err := nn.Attention(q, kAll, vAll, causal, offset)
	if err != nil {
		return nil, err
	}

	attn, err = attn.Transpose(1, 2) // [B, T, H, Dh]
	if err != nil {
		return nil, err
	}

	attn, err = attn.Reshape(x.Dim(0), x.Dim(1), l.nHeads*l.headDim)
	if err != nil {
		return nil, err
	}

	attn, err = l.outProj.Forward(attn)
	if err != nil {
		return nil, err
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

	return mat.Add(x, ff)
}

// Transformer is the causal latent transformer shared by prefill and
// frame-by-frame generation.
type Transformer struct {
	layers []*transformerLayer
	rope   *nn.Rotary
}

// TransformerState holds the per-request KV caches, one per layer.
type TransformerState struct {
	caches []*kvCache
}

// SeqLen returns the number of positions consumed so far.
func (s *TransformerState) SeqLen() int {
	if s == nil || len(s.caches) == 0 {
		return 0
	}

	return s.caches[0].SeqLen()
}

// Reset clears all layer caches so the state can serve a new request.
func (s *TransformerState) Reset() {
	if s == nil {
		return
	}

	for _, c := range s.caches {
		c.Reset()
	}
}

func loadTransformer(vb *weights.VarBuilder, nHeads, maxSeq int, ropeBase float64) (*Transformer, error) {
	var layers []*transformerLayer

	for i := 0; ; i++ {
		layerPath := vb.Path("transformer", "layers", strconv.Itoa(i))
		if !layerPath.Has("norm1.weight") {
			break
		}

		layer, err := loadTransformerLayer(layerPath, nHeads)
		if err != nil {
			return nil, fmt.Errorf("engine: load transformer layer %d: %w", i, err)
		}

		layers = append(layers, layer)
	}

	if len(layers) == 0 {
		return nil, fmt.Errorf("engine: no transformer layers found")
	}

	rope, err := nn.NewRotary(maxSeq, layers[0].headDim, ropeBase)
	if err != nil {
		return nil, err
	}

	return &Transformer{layers: layers, rope: rope}, nil
}

// InitState allocates empty KV caches for a batch of the given size.
func (t *Transformer) InitState(batch int) (*TransformerState, error) {
	if t == nil || len(t.layers) == 0 {
		return nil, inferenceErrorf("transformer is not initialized")
	}

	if batch <= 0 {
		return nil, configErrorf("transformer batch must be > 0, got %d", batch)
	}

	caches := make([]*kvCache, len(t.layers))
	for i, layer := range t.layers {
		caches[i] = newKVCache(batch, layer.nHeads, layer.headDim)
	}

	return &TransformerState{caches: caches}, nil
}

// Prefill consumes a [B, T, D] sequence, filling the caches, and returns the
// hidden states for all T positions.
func (t *Transformer) Prefill(x *mat.Tensor, state *TransformerState) (*mat.Tensor, error) {
	return t.run(x, state, false)
}

// Step consumes a single [B, 1, D] frame against the cached history.
func (t *Transformer) Step(x *mat.Tensor, state *TransformerState) (*mat.Tensor, error) {
	if x != nil && x.Rank() == 3 && x.Dim(1) != 1 {
		return nil, inferenceErrorf("transformer step expects a single frame, got %d", x.Dim(1))
	}

	return t.run(x, state, true)
}

func (t *Transformer) run(x *mat.Tensor, state *TransformerState, incremental bool) (*mat.Tensor, error) {
	if t == nil {
		return nil, inferenceErrorf("transformer is nil")
	}

	if state == nil || len(state.caches) != len(t.layers) {
		return nil, inferenceErrorf("transformer state does not match layer count %d", len(t.layers))
	}

	if x == nil || x.Rank() != 3 {
		return nil, inferenceErrorf("transformer input must be [B, T, D]")
	}

	if state.SeqLen()+x.Dim(1) > t.rope.MaxSeq() {
		return nil, inferenceErrorf(
			"sequence length %d exceeds maximum %d",
			state.SeqLen()+x.Dim(1), t.rope.MaxSeq(),
		)
	}

	var err error
	for i, layer := range t.layers {
		x, err = layer.forwardCached(x, t.rope, state.caches[i], incremental)
		if err != nil {
			return nil, wrapInference(err, "transformer layer %d", i)
		}
	}

	return x, nil
}
