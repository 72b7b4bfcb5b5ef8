package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/murmurtts/murmur/internal/audio"
	"github.com/spf13/cobra"
)

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var voiceID string
	var normalize bool
	var dcBlock bool
	var fadeInMS float64
	var fadeOutMS float64

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			inputText, err := readSynthText(text, os.Stdin)
			if err != nil {
				return err
			}

			svc, err := buildService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			samples, err := svc.Synthesize(cmd.Context(), inputText, voiceID)
			if err != nil {
				return fmt.Errorf("synth failed: %w", err)
			}
			if len(samples) == 0 {
				return fmt.Errorf("synthesis produced no samples")
			}

			samples = applyDSP(samples, svc.SampleRate(), synthDSPOptions{
				Normalize: normalize,
				DCBlock:   dcBlock,
				FadeInMS:  fadeInMS,
				FadeOutMS: fadeOutMS,
			})

			wavData, err := audio.EncodeWAV(samples)
			if err != nil {
				return fmt.Errorf("encode WAV: %w", err)
			}

			return writeSynthOutput(out, wavData, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().StringVar(&voiceID, "voice", "", "Voice ID from the voice manifest")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&dcBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&fadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&fadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")

	return cmd
}

type synthDSPOptions struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
}

func applyDSP(samples []float32, sampleRate int, opts synthDSPOptions) []float32 {
	if opts.Normalize {
		samples = audio.PeakNormalize(samples)
	}
	if opts.DCBlock {
		samples = audio.DCBlock(samples, sampleRate)
	}
	if opts.FadeInMS > 0 {
		samples = audio.FadeIn(samples, sampleRate, opts.FadeInMS)
	}
	if opts.FadeOutMS > 0 {
		samples = audio.FadeOut(samples, sampleRate, opts.FadeOutMS)
	}
	return samples
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --text or pipe text on stdin")
	}
	return input, nil
}
