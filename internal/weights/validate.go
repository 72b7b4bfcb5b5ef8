package weights

import (
	"fmt"
	"strings"
)

// ValidateModelKeys opens the archive at path and verifies that every
// required key prefix is present among the tensor names. It is a cheap
// preflight: only the header is parsed, no tensor data is decoded.
func ValidateModelKeys(path string, prefixes ...string) error {
	store, err := Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	names := store.Names()

	for _, prefix := range prefixes {
		found := false

		for _, name := range names {
			if strings.HasPrefix(name, prefix) {
				found = true
				break
			}
		}

		if !found {
			return fmt.Errorf("weights: archive %q has no tensors under %q (%d tensors total)", path, prefix, len(names))
		}
	}

	return nil
}
