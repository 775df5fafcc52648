package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadedPolicy is the only handle the engine accepts: construction through
// Load guarantees the document has been normalized and validated.
type LoadedPolicy struct {
	Document Document
	Hash     string
	Bytes    []byte
}

// Load reads a YAML policy document, validates it, normalizes the legacy
// shapes into the canonical form and computes the hash from raw bytes.
func Load(path string) (LoadedPolicy, error) {
	// #nosec G304 -- path comes from operator-configured policy path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedPolicy{}, err
	}
	return Parse(data)
}

// Parse builds a LoadedPolicy from raw document bytes.
func Parse(data []byte) (LoadedPolicy, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return LoadedPolicy{}, fmt.Errorf("parse policy: %w", err)
	}

	if err := d.Validate(); err != nil {
		return LoadedPolicy{}, fmt.Errorf("invalid policy: %w", err)
	}

	return LoadedPolicy{
		Document: d.Normalize(),
		Hash:     DigestWithPrefix(data),
		Bytes:    data,
	}, nil
}
