package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapInferenceKeepsCauseAndType(t *testing.T) {
	cause := errors.New("dim mismatch")

	err := wrapInference(cause, "synthesis stage %d", 2)

	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}

	msg := err.Error()
	if !strings.HasPrefix(msg, "engine: synthesis stage 2") || !strings.Contains(msg, "dim mismatch") {
		t.Fatalf("unexpected message %q", msg)
	}
}
