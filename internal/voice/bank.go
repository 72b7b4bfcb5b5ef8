package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/murmurtts/murmur/internal/mat"
)

// Voice describes one entry in the manifest.
type Voice struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	License string `json:"license"`
}

type manifest struct {
	Voices []Voice `json:"voices"`
}

// Bank resolves voice IDs to embedding files via a JSON manifest.
// Relative paths in the manifest are resolved against the manifest's
// directory.
type Bank struct {
	baseDir string
	voices  []Voice
	byID    map[string]Voice
}

// NewBank loads a voice manifest from disk.
func NewBank(manifestPath string) (*Bank, error) {
	if manifestPath == "" {
		return nil, errors.New("voice: manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("voice: read manifest: %w", err)
	}

	var m manifest

	err = json.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("voice: decode manifest: %w", err)
	}

	bank := &Bank{
		baseDir: filepath.Dir(manifestPath),
		voices:  append([]Voice(nil), m.Voices...),
		byID:    make(map[string]Voice, len(m.Voices)),
	}

	for _, v := range m.Voices {
		if v.ID == "" {
			return nil, errors.New("voice: manifest contains empty id")
		}

		if v.Path == "" {
			return nil, fmt.Errorf("voice: voice %q has empty path", v.ID)
		}

		if _, exists := bank.byID[v.ID]; exists {
			return nil, fmt.Errorf("voice: duplicate voice id %q", v.ID)
		}

		bank.byID[v.ID] = v
	}

	return bank, nil
}

// List returns the manifest entries in file order.
func (b *Bank) List() []Voice {
	return append([]Voice(nil), b.voices...)
}

// ResolvePath maps a voice ID to the embedding file it names.
func (b *Bank) ResolvePath(id string) (string, error) {
	v, ok := b.byID[id]
	if !ok {
		return "", fmt.Errorf("voice: unknown voice id %q", id)
	}

	resolved := v.Path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(b.baseDir, resolved)
	}

	resolved = filepath.Clean(resolved)

	_, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("voice: embedding file for %q: %w", id, err)
	}

	return resolved, nil
}

// Embedding loads the embedding for a voice ID with shape [1, T, D].
func (b *Bank) Embedding(id string) (*mat.Tensor, error) {
	path, err := b.ResolvePath(id)
	if err != nil {
		return nil, err
	}

	return LoadEmbedding(path)
}
