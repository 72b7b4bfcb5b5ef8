package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/nn"
	"github.com/murmurtts/murmur/internal/weights"
)

type timeEmbed struct {
	freqs   *mat.Tensor // [freqDim/2]
	linear1 *Linear     // mlp.0
	linear2 *Linear     // mlp.2
	alpha   *mat.Tensor // mlp.3.alpha
}

func loadTimeEmbed(vb *weights.VarBuilder) (*timeEmbed, error) {
	freqs, err := vb.Tensor("freqs")
	if err != nil {
		return nil, err
	}

	linear1, err := loadLinear(vb, "mlp.0", true)
	if err != nil {
		return nil, err
	}

	linear2, err := loadLinear(vb, "mlp.2", true)
	if err != nil {
		return nil, err
	}

	alpha, err := vb.Tensor("mlp.3.alpha")
	if err != nil {
		return nil, err
	}

	return &timeEmbed{freqs: freqs, linear1: linear1, linear2: linear2, alpha: alpha}, nil
}

// Forward maps scalar times [B, 1] to time embeddings [B, D].
func (te *timeEmbed) Forward(t *mat.Tensor) (*mat.Tensor, error) {
	if te == nil {
		return nil, errors.New("engine: time embedder is nil")
	}

	if t.Rank() != 2 || t.Dim(1) != 1 {
		return nil, fmt.Errorf("engine: time input must have shape [B, 1], got %v", t.Shape())
	}

	args, err := mat.BroadcastMul(t, te.freqs)
	if err != nil {
		return nil, err
	}

	cos := args.Clone()
	sin := args.Clone()

	cd, sd := cos.RawData(), sin.RawData()
	for i, v := range args.RawData() {
		cd[i] = float32(math.Cos(float64(v)))
		sd[i] = float32(math.Sin(float64(v)))
	}

	emb, err := mat.Concat([]*mat.Tensor{cos, sin}, -1)
	if err != nil {
		return nil, err
	}

	x, err := te.linear1.Forward(emb)
	if err != nil {
		return nil, err
	}

	x = nn.SiLU(x)

	x, err = te.linear2.Forward(x)
	if err != nil {
		return nil, err
	}

	return nn.RMSNormScaled(x, te.alpha, 1e-5)
}

type samplerResBlock struct {
	inLN  *LayerNorm
	mlp0  *Linear
	mlp2  *Linear
	adaLN *Linear // condition -> 3*channels
}

func loadSamplerResBlock(vb *weights.VarBuilder) (*samplerResBlock, error) {
	inLN, err := loadLayerNorm(vb, "in_ln", 1e-6)
	if err != nil {
		return nil, err
	}

	mlp0, err := loadLinear(vb, "mlp.0", true)
	if err != nil {
		return nil, err
	}

	mlp2, err := loadLinear(vb, "mlp.2", true)
	if err != nil {
		return nil, err
	}

	adaLN, err := loadLinear(vb, "adaLN_modulation.1", true)
	if err != nil {
		return nil, err
	}

	return &samplerResBlock{inLN: inLN, mlp0: mlp0, mlp2: mlp2, adaLN: adaLN}, nil
}

func (rb *samplerResBlock) Forward(x, y *mat.Tensor) (*mat.Tensor, error) {
	ada, err := rb.adaLN.Forward(nn.SiLU(y))
	if err != nil {
		return nil, err
	}

	shift, scale, gate, err := nn.SplitThirds(ada)
	if err != nil {
		return nil, wrapInference(err, "res block modulation")
	}

	h, err := rb.inLN.Forward(x)
	if err != nil {
		return nil, err
	}

	h, err = nn.Modulate(h, shift, scale)
	if err != nil {
		return nil, err
	}

	h, err = rb.mlp0.Forward(h)
	if err != nil {
		return nil, err
	}

	h = nn.SiLU(h)

	h, err = rb.mlp2.Forward(h)
	if err != nil {
		return nil, err
	}

	h, err = mat.Mul(h, gate)
	if err != nil {
		return nil, err
	}

	return mat.Add(x, h)
}

type samplerFinalLayer struct {
	linear *Linear
	adaLN  *Linear
	ones   *mat.Tensor
	zeros  *mat.Tensor
}

func loadSamplerFinalLayer(vb *weights.VarBuilder, channels int) (*samplerFinalLayer, error) {
	linear, err := loadLinear(vb, "linear", true)
	if err != nil {
		return nil, err
	}

	adaLN, err := loadLinear(vb, "adaLN_modulation.1", true)
	if err != nil {
		return nil, err
	}

	ones, err := mat.Full(1, channels)
	if err != nil {
		return nil, err
	}

	zeros, err := mat.Zeros(channels)
	if err != nil {
		return nil, err
	}

	return &samplerFinalLayer{linear: linear, adaLN: adaLN, ones: ones, zeros: zeros}, nil
}

func (fl *samplerFinalLayer) Forward(x, c *mat.Tensor) (*mat.Tensor, error) {
	ada, err := fl.adaLN.Forward(nn.SiLU(c))
	if err != nil {
		return nil, err
	}

	if ada.Rank() != 2 || ada.Dim(1)%2 != 0 {
		return nil, fmt.Errorf("engine: final layer modulation shape invalid: %v", ada.Shape())
	}

	channels := ada.Dim(1) / 2

	shift, err := ada.Narrow(1, 0, channels)
	if err != nil {
		return nil, err
	}

	scale, err := ada.Narrow(1, channels, channels)
	if err != nil {
		return nil, err
	}

	x, err = mat.LayerNorm(x, fl.ones, fl.zeros, 1e-6)
	if err != nil {
		return nil, err
	}

	x, err = nn.Modulate(x, shift, scale)
	if err != nil {
		return nil, err
	}

	return fl.linear.Forward(x)
}

// Sampler predicts latent frames by integrating a learned velocity field
// from Gaussian noise, conditioned on the transformer's hidden state.
type Sampler struct {
	timeEmbeds [2]*timeEmbed // start and end of each integration interval
	condEmbed  *Linear
	inputProj  *Linear
	resBlocks  []*samplerResBlock
	finalLayer *samplerFinalLayer
}

func loadSampler(vb *weights.VarBuilder) (*Sampler, error) {
	t0, err := loadTimeEmbed(vb.Path("time_embed", "0"))
	if err != nil {
		return nil, err
	}

	t1, err := loadTimeEmbed(vb.Path("time_embed", "1"))
	if err != nil {
		return nil, err
	}

	condEmbed, err := loadLinear(vb, "cond_embed", true)
	if err != nil {
		return nil, err
	}

	inputProj, err := loadLinear(vb, "input_proj", true)
	if err != nil {
		return nil, err
	}

	var resBlocks []*samplerResBlock

	for i := 0; ; i++ {
		rbPath := vb.Path("res_blocks", strconv.Itoa(i))
		if !rbPath.Has("in_ln.weight") {
			break
		}

		rb, err := loadSamplerResBlock(rbPath)
		if err != nil {
			return nil, fmt.Errorf("engine: load sampler res block %d: %w", i, err)
		}

		resBlocks = append(resBlocks, rb)
	}

	if len(resBlocks) == 0 {
		return nil, errors.New("engine: no sampler res blocks found")
	}

	finalLayer, err := loadSamplerFinalLayer(vb.Path("final_layer"), inputProj.Weight.Dim(0))
	if err != nil {
		return nil, err
	}

	return &Sampler{
		timeEmbeds: [2]*timeEmbed{t0, t1},
		condEmbed:  condEmbed,
		inputProj:  inputProj,
		resBlocks:  resBlocks,
		finalLayer: finalLayer,
	}, nil
}

// Velocity evaluates the flow field for positions x at the interval [s, t]
// under condition c.
//
//	c: [B, dModel], s: [B, 1], t: [B, 1], x: [B, latentDim]
func (sm *Sampler) Velocity(c, s, t, x *mat.Tensor) (*mat.Tensor, error) {
	if sm == nil {
		return nil, errors.New("engine: sampler is nil")
	}

	xProj, err := sm.inputProj.Forward(x)
	if err != nil {
		return nil, err
	}

	t0, err := sm.timeEmbeds[0].Forward(s)
	if err != nil {
		return nil, err
	}

	t1, err := sm.timeEmbeds[1].Forward(t)
	if err != nil {
		return nil, err
	}

	tCombined, err := mat.Add(t0, t1)
	if err != nil {
		return nil, err
	}

	tCombined = mat.Scale(tCombined, 0.5)

	cProj, err := sm.condEmbed.Forward(c)
	if err != nil {
		return nil, err
	}

	y, err := mat.Add(tCombined, cProj)
	if err != nil {
		return nil, err
	}

	cur := xProj
	for i, rb := range sm.resBlocks {
		cur, err = rb.Forward(cur, y)
		if err != nil {
			return nil, wrapInference(err, "sampler res block %d", i)
		}
	}

	return sm.finalLayer.Forward(cur, y)
}

// Integrate runs fixed-step Euler integration from x0 over [0, 1], updating
// the position in place after each velocity evaluation.
func (sm *Sampler) Integrate(cond, x0 *mat.Tensor, steps int) (*mat.Tensor, error) {
	if steps <= 0 {
		return nil, configErrorf("flow steps must be > 0, got %d", steps)
	}

	if x0 == nil || x0.Rank() != 2 {
		return nil, inferenceErrorf("flow integration input must be [B, D]")
	}

	b := x0.Dim(0)
	current := x0.Clone()
	inv := 1 / float32(steps)

	for i := range steps {
		s, err := mat.Full(float32(i)*inv, b, 1)
		if err != nil {
			return nil, err
		}

		t, err := mat.Full(float32(i+1)*inv, b, 1)
		if err != nil {
			return nil, err
		}

		velocity, err := sm.Velocity(cond, s, t, current)
		if err != nil {
			return nil, err
		}

		if err := mat.AccumulateScaled(current, inv, velocity); err != nil {
			return nil, err
		}
	}

	return current, nil
}

// Sample draws Gaussian noise scaled by sqrt(temperature) and integrates it
// into a latent frame under the given condition.
func (sm *Sampler) Sample(cond *mat.Tensor, latentDim, steps int, temperature float64, rng *rand.Rand) (*mat.Tensor, error) {
	if cond == nil || cond.Rank() != 2 {
		return nil, inferenceErrorf("sampler condition must be [B, D]")
	}

	noise, err := gaussianNoise(cond.Dim(0), latentDim, temperature, rng)
	if err != nil {
		return nil, err
	}

	return sm.Integrate(cond, noise, steps)
}

func gaussianNoise(batch, dim int, temperature float64, rng *rand.Rand) (*mat.Tensor, error) {
	if batch <= 0 || dim <= 0 {
		return nil, inferenceErrorf("invalid gaussian noise shape [%d, %d]", batch, dim)
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	sigma := math.Sqrt(max(temperature, 0))

	data := make([]float32, batch*dim)
	for i := range data {
		data[i] = float32(rng.NormFloat64() * sigma)
	}

	return mat.New(data, batch, dim)
}
