package weights

import (
	"errors"
	"fmt"
	"strings"

	"github.com/murmurtts/murmur/internal/mat"
)

// VarBuilder provides hierarchical tensor lookup over a Store. Path segments
// join with dots, matching the archive's flat key layout.
type VarBuilder struct {
	store  *Store
	prefix string
}

// NewVarBuilder wraps a store with an empty prefix.
func NewVarBuilder(store *Store) *VarBuilder {
	return &VarBuilder{store: store}
}

// Path returns a child builder with the given segments appended.
func (vb *VarBuilder) Path(parts ...string) *VarBuilder {
	if vb == nil {
		return nil
	}

	prefix := vb.prefix

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if prefix == "" {
			prefix = part
		} else {
			prefix += "." + part
		}
	}

	return &VarBuilder{store: vb.store, prefix: prefix}
}

// Has reports whether the resolved name exists in the store.
func (vb *VarBuilder) Has(name string) bool {
	if vb == nil || vb.store == nil {
		return false
	}

	return vb.store.Has(vb.resolve(name))
}

// Tensor loads the named tensor, optionally checking its shape.
func (vb *VarBuilder) Tensor(name string, wantShape ...int) (*mat.Tensor, error) {
	if vb == nil || vb.store == nil {
		return nil, errors.New("weights: uninitialized var builder")
	}

	fullName := vb.resolve(name)

	t, err := vb.store.Tensor(fullName)
	if err != nil {
		return nil, err
	}

	if len(wantShape) > 0 && !sameShape(t.Shape(), wantShape) {
		return nil, fmt.Errorf("weights: tensor %q shape %v does not match expected %v", fullName, t.Shape(), wantShape)
	}

	return t, nil
}

// TensorMaybe loads the named tensor when it exists. The boolean reports
// presence; a present tensor with the wrong shape is an error.
func (vb *VarBuilder) TensorMaybe(name string, wantShape ...int) (*mat.Tensor, bool, error) {
	if !vb.Has(name) {
		return nil, false, nil
	}

	t, err := vb.Tensor(name, wantShape...)
	if err != nil {
		return nil, true, err
	}

	return t, true, nil
}

func (vb *VarBuilder) resolve(name string) string {
	name = strings.TrimSpace(name)
	if vb == nil || vb.prefix == "" {
		return name
	}

	if name == "" {
		return vb.prefix
	}

	return vb.prefix + "." + name
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
