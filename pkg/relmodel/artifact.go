package relmodel

import (
	"encoding/json"
	"fmt"
	"os"
)

// artifactDoc is the on-disk shape of a versioned model artifact
type artifactDoc struct {
	Version       string         `json:"version"`
	Relationships []Relationship `json:"relationships"`
}

// Load reads a versioned model artifact from disk. The artifact has the same
// validation rules as the compiled-in table.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var doc artifactDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("model artifact %s has no version", path)
	}

	m, err := New(doc.Version, doc.Relationships)
	if err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}
	return m, nil
}

// Save writes the model as a versioned JSON artifact
func Save(m *Model, path string) error {
	doc := artifactDoc{
		Version:       m.Version(),
		Relationships: m.Relationships(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	return nil
}
