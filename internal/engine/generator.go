package engine

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/murmurtts/murmur/internal/mat"
)

// latentModel is the surface of LatentLM the generation controller needs.
type latentModel interface {
	Prefill(cond *mat.Tensor) error
	Step(prev *mat.Tensor, flowSteps int, temperature float64, rng *rand.Rand) (*mat.Tensor, float64, error)
	Denormalize(frame *mat.Tensor) (*mat.Tensor, error)
}

type generatorPhase int

const (
	phasePrefill generatorPhase = iota
	phaseGenerating
	phaseStopping
	phaseDone
)

// GenerateOptions controls a single autoregressive generation run.
type GenerateOptions struct {
	// MaxSteps bounds the number of generated frames.
	MaxSteps int
	// MinSteps suppresses end-of-sequence detection for the first frames.
	MinSteps int
	// FlowSteps is the Euler step count per frame.
	FlowSteps int
	// Temperature scales the sampling noise variance.
	Temperature float64
	// EOSThreshold is the logit above which a frame counts as end-of-sequence.
	EOSThreshold float64
	// FramesAfterEOS keeps generating this many frames past the stop signal
	// so the decoder has trailing context.
	FramesAfterEOS int
	// RNG drives noise sampling. A nil RNG uses a fixed seed.
	RNG *rand.Rand
}

// DefaultGenerateOptions returns the values used by the shipped voices.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		MaxSteps:       512,
		MinSteps:       40,
		FlowSteps:      8,
		Temperature:    0.7,
		EOSThreshold:   -4.0,
		FramesAfterEOS: 3,
	}
}

func (o GenerateOptions) validate() error {
	if o.MaxSteps <= 0 {
		return configErrorf("max steps must be > 0, got %d", o.MaxSteps)
	}

	if o.MinSteps < 0 {
		return configErrorf("min steps must be >= 0, got %d", o.MinSteps)
	}

	if o.FlowSteps <= 0 {
		return configErrorf("flow steps must be > 0, got %d", o.FlowSteps)
	}

	if o.Temperature < 0 {
		return configErrorf("temperature must be >= 0, got %g", o.Temperature)
	}

	if o.FramesAfterEOS < 0 {
		return configErrorf("frames after eos must be >= 0, got %d", o.FramesAfterEOS)
	}

	return nil
}

// Generator drives frame-by-frame latent generation: prefill the conditioning
// once, then step until the end-of-sequence head fires (plus a fixed tail of
// frames) or the step budget runs out.
type Generator struct {
	model  latentModel
	opts   GenerateOptions
	logger *slog.Logger

	phase      generatorPhase
	prev       *mat.Tensor // last normalized frame fed back into the model
	trajectory []*mat.Tensor
	step       int
	eosStep    int // step index of the first stop signal, -1 while unset
}

// NewGenerator validates the options and prepares a controller around the
// model. The model's caches must be fresh.
func NewGenerator(model latentModel, opts GenerateOptions, logger *slog.Logger) (*Generator, error) {
	if model == nil {
		return nil, configErrorf("generator requires a model")
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{
		model:   model,
		opts:    opts,
		logger:  logger,
		phase:   phasePrefill,
		eosStep: -1,
	}, nil
}

// Prefill consumes the conditioning sequence and arms the controller.
func (g *Generator) Prefill(cond *mat.Tensor) error {
	if g.phase != phasePrefill {
		return cacheStateErrorf("generator already prefilled")
	}

	if err := g.model.Prefill(cond); err != nil {
		return err
	}

	g.phase = phaseGenerating

	return nil
}

// Step generates one latent frame. It returns true while more steps remain.
func (g *Generator) Step() (bool, error) {
	switch g.phase {
	case phasePrefill:
		return false, cacheStateErrorf("generator step before prefill")
	case phaseDone:
		return false, cacheStateErrorf("generator step after completion")
	}

	frame, eosLogit, err := g.model.Step(g.prev, g.opts.FlowSteps, g.opts.Temperature, g.opts.RNG)
	if err != nil {
		return false, err
	}

	denorm, err := g.model.Denormalize(frame)
	if err != nil {
		return false, err
	}

	g.trajectory = append(g.trajectory, denorm)
	g.prev = frame

	if g.phase == phaseGenerating &&
		g.step >= g.opts.MinSteps &&
		eosLogit > g.opts.EOSThreshold {
		g.eosStep = g.step
		g.phase = phaseStopping
	}

	g.step++

	switch {
	case g.phase == phaseStopping && g.step > g.eosStep+g.opts.FramesAfterEOS:
		g.phase = phaseDone
	case g.step >= g.opts.MaxSteps:
		if g.eosStep < 0 {
			g.logger.Warn("generation reached step budget without end-of-sequence",
				"steps", g.step,
			)
		}

		g.phase = phaseDone
	}

	return g.phase != phaseDone, nil
}

// Finished reports whether generation has completed.
func (g *Generator) Finished() bool {
	return g.phase == phaseDone
}

// Steps returns the number of frames generated so far.
func (g *Generator) Steps() int {
	return g.step
}

// Trajectory returns the generated frames in decoder space, one [1, latentDim]
// tensor per step.
func (g *Generator) Trajectory() []*mat.Tensor {
	return g.trajectory
}

// Generate runs prefill and steps to completion, honoring ctx cancellation
// between steps, and returns the trajectory as a single [1, T, latentDim]
// tensor.
func (g *Generator) Generate(ctx context.Context, cond *mat.Tensor) (*mat.Tensor, error) {
	if err := g.Prefill(cond); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		more, err := g.Step()
		if err != nil {
			return nil, err
		}

		if !more {
			break
		}
	}

	return g.Frames()
}

// Frames concatenates the trajectory into [1, T, latentDim]. An empty
// trajectory is an inference failure.
func (g *Generator) Frames() (*mat.Tensor, error) {
	if len(g.trajectory) == 0 {
		return nil, inferenceErrorf("generation produced no frames")
	}

	rows := make([]*mat.Tensor, len(g.trajectory))

	for i, frame := range g.trajectory {
		row, err := frame.Reshape(1, 1, frame.Dim(-1))
		if err != nil {
			return nil, err
		}

		rows[i] = row
	}

	return mat.Concat(rows, 1)
}
