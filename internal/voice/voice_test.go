package voice

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/murmurtts/murmur/internal/mat"
	"github.com/murmurtts/murmur/internal/weights"
)

func encodeEmbedding(t *testing.T, name string, data []float32, shape ...int) []byte {
	t.Helper()

	tensor, err := mat.New(data, shape...)
	if err != nil {
		t.Fatalf("mat.New: %v", err)
	}

	payload, err := weights.EncodeTensors([]weights.Entry{{Name: name, Tensor: tensor}})
	if err != nil {
		t.Fatalf("EncodeTensors: %v", err)
	}

	return payload
}

func TestLoadEmbeddingFromBytes2D(t *testing.T) {
	payload := encodeEmbedding(t, "audio_prompt", []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	emb, err := LoadEmbeddingFromBytes(payload)
	if err != nil {
		t.Fatalf("LoadEmbeddingFromBytes: %v", err)
	}

	shape := emb.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] != 2 || shape[2] != 3 {
		t.Fatalf("embedding shape = %v, want [1 2 3]", shape)
	}
}

func TestLoadEmbeddingFromBytes3D(t *testing.T) {
	payload := encodeEmbedding(t, "embedding", []float32{1, 2, 3, 4}, 1, 2, 2)

	emb, err := LoadEmbeddingFromBytes(payload)
	if err != nil {
		t.Fatalf("LoadEmbeddingFromBytes: %v", err)
	}

	shape := emb.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] != 2 || shape[2] != 2 {
		t.Fatalf("embedding shape = %v, want [1 2 2]", shape)
	}
}

func TestLoadEmbeddingKeyPreference(t *testing.T) {
	// With both a decoy and a known key present, the known key wins even
	// though the decoy sorts first.
	decoy, err := mat.New([]float32{9, 9}, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	want, err := mat.New([]float32{1, 2}, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	payload, err := weights.EncodeTensors([]weights.Entry{
		{Name: "aaa_decoy", Tensor: decoy},
		{Name: "speaker", Tensor: want},
	})
	if err != nil {
		t.Fatalf("EncodeTensors: %v", err)
	}

	emb, err := LoadEmbeddingFromBytes(payload)
	if err != nil {
		t.Fatalf("LoadEmbeddingFromBytes: %v", err)
	}

	data := emb.Data()
	if data[0] != 1 || data[1] != 2 {
		t.Errorf("embedding data = %v, want the speaker tensor [1 2]", data)
	}
}

func TestLoadEmbeddingFirstTensorFallback(t *testing.T) {
	payload := encodeEmbedding(t, "whatever", []float32{1, 2}, 1, 2)

	emb, err := LoadEmbeddingFromBytes(payload)
	if err != nil {
		t.Fatalf("LoadEmbeddingFromBytes: %v", err)
	}

	if got := emb.Shape(); got[1] != 1 || got[2] != 2 {
		t.Fatalf("embedding shape = %v, want [1 1 2]", got)
	}
}

func TestLoadEmbeddingRejectsBadShape(t *testing.T) {
	payload := encodeEmbedding(t, "embedding", []float32{1, 2, 3, 4}, 4)

	_, err := LoadEmbeddingFromBytes(payload)
	if err == nil || !strings.Contains(err.Error(), "expected 2D or 3D") {
		t.Fatalf("expected shape error, got %v", err)
	}

	payload = encodeEmbedding(t, "embedding", []float32{1, 2, 3, 4}, 2, 1, 2, 1)

	_, err = LoadEmbeddingFromBytes(payload)
	if err == nil {
		t.Fatal("expected error for 4D embedding")
	}
}

func TestLoadEmbeddingRejectsBatchedInput(t *testing.T) {
	payload := encodeEmbedding(t, "embedding", []float32{1, 2, 3, 4}, 2, 1, 2)

	_, err := LoadEmbeddingFromBytes(payload)
	if err == nil || !strings.Contains(err.Error(), "batch dim") {
		t.Fatalf("expected batch dim error, got %v", err)
	}
}

func writeBankFixture(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	payload := encodeEmbedding(t, "audio_prompt", []float32{1, 2, 3, 4}, 2, 2)
	if err := os.WriteFile(filepath.Join(dir, "alice.safetensors"), payload, 0o644); err != nil {
		t.Fatal(err)
	}

	manifest := `{"voices": [
		{"id": "alice", "path": "alice.safetensors", "license": "CC0"},
		{"id": "ghost", "path": "ghost.safetensors", "license": "CC0"}
	]}`

	manifestPath := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	return manifestPath
}

func TestBankListAndResolve(t *testing.T) {
	bank, err := NewBank(writeBankFixture(t))
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}

	voices := bank.List()
	if len(voices) != 2 || voices[0].ID != "alice" || voices[1].ID != "ghost" {
		t.Fatalf("List() = %v, want alice and ghost in order", voices)
	}

	path, err := bank.ResolvePath("alice")
	if err != nil {
		t.Fatalf("ResolvePath(alice): %v", err)
	}

	if filepath.Base(path) != "alice.safetensors" {
		t.Errorf("resolved path = %q", path)
	}
}

func TestBankEmbedding(t *testing.T) {
	bank, err := NewBank(writeBankFixture(t))
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}

	emb, err := bank.Embedding("alice")
	if err != nil {
		t.Fatalf("Embedding(alice): %v", err)
	}

	shape := emb.Shape()
	if len(shape) != 3 || shape[1] != 2 || shape[2] != 2 {
		t.Fatalf("embedding shape = %v, want [1 2 2]", shape)
	}
}

func TestBankErrors(t *testing.T) {
	bank, err := NewBank(writeBankFixture(t))
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}

	if _, err := bank.ResolvePath("nobody"); err == nil {
		t.Error("expected error for unknown voice id")
	}

	// ghost is in the manifest but its file does not exist.
	if _, err := bank.ResolvePath("ghost"); err == nil {
		t.Error("expected error for missing embedding file")
	}
}

func TestNewBankRejectsBadManifests(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		manifest string
	}{
		{"empty id", `{"voices": [{"id": "", "path": "x.safetensors"}]}`},
		{"empty path", `{"voices": [{"id": "a", "path": ""}]}`},
		{"duplicate id", `{"voices": [{"id": "a", "path": "x"}, {"id": "a", "path": "y"}]}`},
		{"malformed json", `{"voices": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.manifest), 0o644); err != nil {
				t.Fatal(err)
			}

			if _, err := NewBank(path); err == nil {
				t.Errorf("NewBank accepted %s", tt.name)
			}
		})
	}
}
