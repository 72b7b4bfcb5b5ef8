package weights

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/murmurtts/murmur/internal/mat"
)

// Entry pairs an archive key with its tensor for encoding.
type Entry struct {
	Name   string
	Tensor *mat.Tensor
}

// EncodeTensors serializes float32 tensors into safetensors format.
func EncodeTensors(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, errors.New("weights: no tensors to encode")
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	header := make(map[string]headerEntry, len(sorted))

	var raw []byte

	for _, e := range sorted {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, errors.New("weights: tensor name must not be empty")
		}

		if e.Tensor == nil {
			return nil, fmt.Errorf("weights: tensor %q is nil", name)
		}

		if _, exists := header[name]; exists {
			return nil, fmt.Errorf("weights: duplicate tensor name %q", name)
		}

		data := e.Tensor.RawData()
		start := len(raw)

		raw = append(raw, make([]byte, len(data)*4)...)
		for i, v := range data {
			binary.LittleEndian.PutUint32(raw[start+i*4:], math.Float32bits(v))
		}

		header[name] = headerEntry{
			DType:   dtypeF32,
			Shape:   append([]int(nil), e.Tensor.Shape()...),
			Offsets: [2]int{start, len(raw)},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("weights: encode header: %w", err)
	}

	out := make([]byte, 0, 8+len(headerJSON)+len(raw))
	lenPrefix := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenPrefix, uint64(len(headerJSON)))
	out = append(out, lenPrefix...)
	out = append(out, headerJSON...)
	out = append(out, raw...)

	return out, nil
}

// WriteFile writes float32 tensors into a .safetensors file.
func WriteFile(path string, entries []Entry) error {
	data, err := EncodeTensors(entries)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("weights: write %s: %w", path, err)
	}

	return nil
}
