// Package voice loads speaker embeddings and resolves them through a
// manifest-backed bank. An embedding is a safetensors tensor of shape
// [1, T, D] (or [T, D], promoted to a unit batch) that conditions the
// latent model before the text tokens.
package voice

import (
	"fmt"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/weights"
)

// embeddingKeys lists the tensor names probed in order before falling back
// to the first tensor in the file.
var embeddingKeys = []string{"audio_prompt", "embedding", "voice", "speaker"}

// LoadEmbedding reads a speaker embedding from a safetensors file and
// returns it with shape [1, T, D].
func LoadEmbedding(path string) (*mat.Tensor, error) {
	store, err := weights.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return embeddingFromStore(store)
}

// LoadEmbeddingFromBytes decodes a safetensors payload and returns the
// speaker embedding with shape [1, T, D].
func LoadEmbeddingFromBytes(data []byte) (*mat.Tensor, error) {
	store, err := weights.FromBytes(data)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return embeddingFromStore(store)
}

func embeddingFromStore(store *weights.Store) (*mat.Tensor, error) {
	names := store.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("voice: no tensors in embedding file")
	}

	name := names[0]

	for _, key := range embeddingKeys {
		if store.Has(key) {
			name = key
			break
		}
	}

	emb, err := store.Tensor(name)
	if err != nil {
		return nil, err
	}

	return promoteEmbedding(emb)
}

// promoteEmbedding validates the embedding shape and promotes 2D [T, D]
// tensors to [1, T, D].
func promoteEmbedding(emb *mat.Tensor) (*mat.Tensor, error) {
	shape := emb.Shape()

	switch len(shape) {
	case 2:
		return emb.Reshape(1, shape[0], shape[1])
	case 3:
		if shape[0] != 1 {
			return nil, fmt.Errorf("voice: embedding batch dim = %d, want 1", shape[0])
		}

		return emb, nil
	default:
		return nil, fmt.Errorf("voice: embedding has %dD shape %v, expected 2D or 3D", len(shape), shape)
	}
}
