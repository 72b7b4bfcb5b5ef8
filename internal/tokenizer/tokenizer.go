// Package tokenizer provides text tokenization for the murmur engine.
// The primary implementation wraps a pure-Go SentencePiece UNIGRAM model
// so the produced IDs match the reference checkpoints exactly.
package tokenizer

// Tokenizer encodes text into SentencePiece token IDs.
type Tokenizer interface {
	// Encode tokenizes text and returns SentencePiece token IDs.
	Encode(text string) ([]int, error)
}
