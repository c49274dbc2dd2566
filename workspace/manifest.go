package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestPath is the manifest location inside each workspace.
const ManifestPath = "metadata/manifest.json"

// Manifest is the record the batch-job runner writes alongside the
// workspace outputs. Its hashes spare airlock from re-reading large
// files, and its provenance fields travel onto request files.
type Manifest struct {
	Workspace string                    `json:"workspace"`
	Repo      string                    `json:"repo,omitempty"`
	Outputs   map[string]ManifestOutput `json:"outputs"`
}

// ManifestOutput describes one produced file.
type ManifestOutput struct {
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	Timestamp   int64  `json:"timestamp"`
	Commit      string `json:"commit,omitempty"`
	Repo        string `json:"repo,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	RowCount    *int   `json:"row_count,omitempty"`
	ColCount    *int   `json:"col_count,omitempty"`
}

// Manifest loads the workspace manifest. A workspace without one is
// legal; callers get (nil, nil) and fall back to stat-and-hash.
func (s *Service) Manifest(name string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.root, name, filepath.FromSlash(ManifestPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading manifest for workspace %s: %w", name, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest for workspace %s: %w", name, err)
	}
	return &m, nil
}
