package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/murmurtts/murmur/internal/doctor"
	"github.com/murmurtts/murmur/internal/tokenizer"
	"github.com/murmurtts/murmur/internal/weights"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check local model, tokenizer and voice assets",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg := doctor.Config{
				ModelPath: cfg.Paths.ModelPath,
				ValidateModel: func(path string) error {
					return weights.ValidateModelKeys(path, "flow_lm.", "mimi.")
				},
				TokenizerPath: cfg.Paths.TokenizerPath,
				ValidateTokenizer: func(path string) error {
					_, err := tokenizer.NewSentencePieceTokenizer(path)
					return err
				},
				VoiceFiles: collectVoiceFiles(cfg.Paths.VoiceManifest),
			}

			result := doctor.Run(dcfg, os.Stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					_, _ = fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

// collectVoiceFiles returns resolved absolute voice file paths from the
// manifest. Paths are resolved relative to the manifest directory, not to the
// working directory, so doctor checks are correct regardless of CWD.
func collectVoiceFiles(manifestPath string) []string {
	bank, err := openBank(manifestPath)
	if err != nil || bank == nil {
		return nil
	}

	voices := bank.List()

	paths := make([]string, 0, len(voices))
	for _, v := range voices {
		resolved, err := bank.ResolvePath(v.ID)
		if err != nil {
			// Voice file missing or unresolvable; include the raw path so the
			// doctor check reports the failure with a useful message.
			paths = append(paths, v.Path)
			continue
		}
		if abs, err := filepath.Abs(resolved); err == nil {
			resolved = abs
		}

		paths = append(paths, resolved)
	}

	return paths
}
