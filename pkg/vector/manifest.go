package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest records the embedding configuration an index was built with.
// When the live configuration no longer matches, the index is stale and
// must be rebuilt rather than queried with incompatible vectors.
type Manifest struct {
	EmbedderModel string `json:"embedder_model"`
	Dimension     int    `json:"dimension"`
	ChunkSize     int    `json:"chunk_size"`
	ChunkOverlap  int    `json:"chunk_overlap"`
}

const manifestFile = "manifest.json"

// LoadManifest reads the manifest from an index directory. A missing
// file returns (nil, nil).
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read index manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse index manifest: %w", err)
	}
	return &m, nil
}

// SaveManifest writes the manifest into an index directory.
func SaveManifest(dir string, m *Manifest) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write index manifest: %w", err)
	}
	return nil
}

// Matches reports whether a stored manifest is compatible with the
// current configuration.
func (m *Manifest) Matches(other *Manifest) bool {
	if m == nil || other == nil {
		return false
	}
	return m.EmbedderModel == other.EmbedderModel &&
		m.Dimension == other.Dimension &&
		m.ChunkSize == other.ChunkSize &&
		m.ChunkOverlap == other.ChunkOverlap
}
