// Package text implements the input preprocessing pipeline: normalization,
// sentence-aware chunking, and the per-chunk generation parameters derived
// from token and word counts.
package text

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer is the minimal interface required by PrepareChunks.
// It is satisfied by tokenizer.Tokenizer.
type Tokenizer interface {
	Encode(text string) ([]int, error)
}

// ChunkMetadata holds a preprocessed text chunk and its generation parameters.
type ChunkMetadata struct {
	Text      string // preprocessed chunk text
	TokenIDs  []int  // SentencePiece token IDs
	NumTokens int    // len(TokenIDs)
	NumWords  int    // word count, drives FramesAfterEOS
}

// MaxFrames returns the latent-frame budget for this chunk:
// ceil(num_tokens/3 + 2) × 12.5, i.e. roughly three tokens per second of
// speech plus two seconds of headroom at 12.5 frames per second.
func (c ChunkMetadata) MaxFrames() float64 {
	return math.Ceil(float64(c.NumTokens)/3.0+2.0) * 12.5
}

// FramesAfterEOS returns the number of extra frames generated after the
// end-of-speech flag fires: 3 for chunks of at most four words, 1 otherwise.
// Short utterances need the longer tail to avoid clipped endings.
func (c ChunkMetadata) FramesAfterEOS() int {
	if c.NumWords <= 4 {
		return 3
	}

	return 1
}

// PrepareText applies the reference preprocessing to a single chunk:
//  1. Replace newlines with spaces and collapse runs of whitespace.
//  2. Capitalize the first letter.
//  3. Append a period when the text ends in a letter or digit.
//  4. Pad with 8 leading spaces when the chunk has fewer than five words.
func PrepareText(input string) string {
	words := splitWords(input)
	s := strings.Join(words, " ")

	if s != "" {
		first, size := utf8.DecodeRuneInString(s)
		if first != utf8.RuneError {
			s = string(unicode.ToUpper(first)) + s[size:]
		}

		last, _ := utf8.DecodeLastRuneInString(s)
		if unicode.IsLetter(last) || unicode.IsDigit(last) {
			s += "."
		}
	}

	if len(words) < 5 {
		s = strings.Repeat(" ", 8) + s
	}

	return s
}

// PrepareChunks splits input into sentence groups of at most maxTokens
// tokens each and applies PrepareText per group. Grouping is greedy: a
// sentence joins the pending group unless the re-encoded combination would
// exceed the budget, in which case the group is flushed first. A single
// sentence longer than maxTokens still becomes its own chunk.
func PrepareChunks(input string, tok Tokenizer, maxTokens int) ([]ChunkMetadata, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input text is empty")
	}

	sentences := splitSentences(input)
	if len(sentences) == 0 {
		sentences = []string{input}
	}

	var chunks []ChunkMetadata
	var pending []string

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}

		joined := strings.Join(pending, " ")
		prepared := PrepareText(joined)

		ids, err := tok.Encode(prepared)
		if err != nil {
			return fmt.Errorf("encode %q: %w", prepared, err)
		}

		chunks = append(chunks, ChunkMetadata{
			Text:      prepared,
			TokenIDs:  ids,
			NumTokens: len(ids),
			NumWords:  len(splitWords(joined)),
		})

		pending = pending[:0]

		return nil
	}

	for _, sent := range sentences {
		// Token count of the pending group with this sentence appended.
		candidate := PrepareText(strings.Join(append(pending, sent), " "))

		ids, err := tok.Encode(candidate)
		if err != nil {
			return nil, fmt.Errorf("encode sentence %q: %w", sent, err)
		}

		if len(pending) > 0 && len(ids) > maxTokens {
			if err := flush(); err != nil {
				return nil, err
			}
		}

		pending = append(pending, sent)
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return chunks, nil
}

// splitWords splits text into non-empty word tokens on whitespace boundaries.
func splitWords(s string) []string {
	return strings.FieldsFunc(s, unicode.IsSpace)
}
