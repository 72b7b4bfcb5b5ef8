package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/murmurtts/murmur/internal/config"
	"github.com/murmurtts/murmur/internal/engine"
	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/tokenizer"
	"github.com/murmurtts/murmur/internal/tts"
	"github.com/murmurtts/murmur/internal/voice"
)

// buildService assembles the synthesis pipeline from the loaded
// configuration: model weights, tokenizer and the optional voice bank.
func buildService(cfg config.Config) (*tts.Service, error) {
	if cfg.Compute.Threads > 0 {
		mat.SetWorkers(cfg.Compute.Threads)
	}

	model, err := engine.LoadModel(cfg.Paths.ModelPath, engine.DefaultConfig(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", cfg.Paths.ModelPath, err)
	}

	tok, err := tokenizer.NewSentencePieceTokenizer(cfg.Paths.TokenizerPath)
	if err != nil {
		model.Close()
		return nil, fmt.Errorf("load tokenizer %q: %w", cfg.Paths.TokenizerPath, err)
	}

	bank, err := openBank(cfg.Paths.VoiceManifest)
	if err != nil {
		model.Close()
		return nil, err
	}

	opts := tts.DefaultOptions()
	if cfg.Generation.MaxChunkTokens > 0 {
		opts.MaxChunkTokens = cfg.Generation.MaxChunkTokens
	}
	if cfg.Generation.MinSteps > 0 {
		opts.MinSteps = cfg.Generation.MinSteps
	}
	if cfg.Generation.FlowSteps > 0 {
		opts.FlowSteps = cfg.Generation.FlowSteps
	}
	if cfg.Generation.Temperature > 0 {
		opts.Temperature = cfg.Generation.Temperature
	}
	if cfg.Generation.EOSThreshold != 0 {
		opts.EOSThreshold = cfg.Generation.EOSThreshold
	}
	opts.Seed = cfg.Generation.Seed

	svc, err := tts.NewService(tts.NewEngine(model), tok, bank, opts, slog.Default())
	if err != nil {
		model.Close()
		return nil, err
	}

	return svc, nil
}

// openBank loads the voice manifest when present. A missing manifest is not
// an error: synthesis without voice conditioning stays available.
func openBank(manifestPath string) (*voice.Bank, error) {
	if manifestPath == "" {
		return nil, nil
	}

	if _, err := os.Stat(manifestPath); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("voice manifest not found, voices disabled", "path", manifestPath)
		return nil, nil
	}

	bank, err := voice.NewBank(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("load voice manifest %q: %w", manifestPath, err)
	}

	return bank, nil
}
