// Package engine implements the latent language model, the flow-matching
// sampler, the autoregressive generation controller and the streaming
// waveform decoder that together turn token IDs into audio samples.
package engine

import "fmt"

// ConfigError reports invalid parameters detected before inference starts.
type ConfigError struct {
	msg string
	err error
}

func (e *ConfigError) Error() string { return e.msg }

func (e *ConfigError) Unwrap() error { return e.err }

func configErrorf(format string, args ...any) error {
	return &ConfigError{msg: "engine: " + fmt.Sprintf(format, args...)}
}

// InferenceError reports a failure during model execution: shape mismatches,
// sequence overflow or empty generation output.
type InferenceError struct {
	msg string
	err error
}

func (e *InferenceError) Error() string { return e.msg }

func (e *InferenceError) Unwrap() error { return e.err }

func inferenceErrorf(format string, args ...any) error {
	return &InferenceError{msg: "engine: " + fmt.Sprintf(format, args...)}
}

func wrapInference(err error, format string, args ...any) error {
	return &InferenceError{msg: "engine: " + fmt.Sprintf(format, args...) + ": " + err.Error(), err: err}
}

// CacheStateError reports operations issued against a model whose cached
// state does not permit them, such as stepping before any prefill.
type CacheStateError struct {
	msg string
}

func (e *CacheStateError) Error() string { return e.msg }

func cacheStateErrorf(format string, args ...any) error {
	return &CacheStateError{msg: "engine: " + fmt.Sprintf(format, args...)}
}
