package text

import "strings"

// ChunkBySentence splits text at sentence boundaries (., !, ?) and groups
// consecutive sentences so each chunk stays within maxChars. A maxChars of
// zero disables splitting, and a single sentence longer than the limit is
// kept intact as its own chunk.
func ChunkBySentence(text string, maxChars int) []string {
	if maxChars <= 0 {
		return []string{text}
	}

	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	for _, s := range sentences {
		switch {
		case current.Len() == 0:
			current.WriteString(s)
		case current.Len()+1+len(s) > maxChars:
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(s)
		default:
			current.WriteByte(' ')
			current.WriteString(s)
		}
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// splitSentences splits text on sentence-ending punctuation, keeping the
// terminator attached to its sentence. Empty segments are dropped.
func splitSentences(text string) []string {
	var sentences []string

	start := 0

	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			sentences = append(sentences, s)
		}

		start = i + 1
	}

	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences
}
