// Package doctor provides environment preflight checks for murmur.
package doctor

import (
	"fmt"
	"io"
	"os"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// ValidateFunc inspects an asset at path and returns an error when it is
// unusable.
type ValidateFunc func(path string) error

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// ModelPath is the safetensors archive to verify.
	ModelPath string
	// ValidateModel checks the archive structure beyond existence.
	ValidateModel ValidateFunc
	// TokenizerPath is the SentencePiece model to verify.
	TokenizerPath string
	// ValidateTokenizer checks that the tokenizer loads.
	ValidateTokenizer ValidateFunc
	// VoiceFiles is the list of voice embedding paths to verify on disk.
	VoiceFiles []string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	checkAsset(&res, w, "model archive", cfg.ModelPath, cfg.ValidateModel)
	checkAsset(&res, w, "tokenizer model", cfg.TokenizerPath, cfg.ValidateTokenizer)

	for _, path := range cfg.VoiceFiles {
		if _, err := os.Stat(path); err != nil {
			res.fail(fmt.Sprintf("voice file %q: %v", path, err))
			fmt.Fprintf(w, "%s voice file %s: not found\n", FailMark, path)
		} else {
			fmt.Fprintf(w, "%s voice file: %s\n", PassMark, path)
		}
	}

	return res
}

func checkAsset(res *Result, w io.Writer, label, path string, validate ValidateFunc) {
	if path == "" {
		fmt.Fprintf(w, "%s %s: skipped (no path configured)\n", PassMark, label)
		return
	}

	if _, err := os.Stat(path); err != nil {
		res.fail(fmt.Sprintf("%s %q: %v", label, path, err))
		fmt.Fprintf(w, "%s %s %s: not found\n", FailMark, label, path)

		return
	}

	if validate != nil {
		if err := validate(path); err != nil {
			res.fail(fmt.Sprintf("%s %q: %v", label, path, err))
			fmt.Fprintf(w, "%s %s %s: %v\n", FailMark, label, path, err)

			return
		}
	}

	fmt.Fprintf(w, "%s %s: %s\n", PassMark, label, path)
}
