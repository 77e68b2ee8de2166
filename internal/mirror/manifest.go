// Package mirror maintains an editable on-disk copy of a project's
// diagrams. Files in the mirror directory are watched, and local edits
// flow back into the store and the sync queue.
package mirror

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// manifestName is the per-directory bookkeeping file. It maps filenames
// back to diagram ids so deletes and renames can be attributed.
const manifestName = ".sketchsync.toml"

// Manifest records which diagram each mirrored file belongs to.
type Manifest struct {
	ProjectID string `toml:"project_id"`

	// Diagrams maps filename (diagram title) to diagram id.
	Diagrams map[string]string `toml:"diagrams"`
}

func newManifest(projectID string) *Manifest {
	return &Manifest{ProjectID: projectID, Diagrams: make(map[string]string)}
}

// loadManifest reads the manifest from dir, returning an empty one when
// the file does not exist yet.
func loadManifest(dir, projectID string) (*Manifest, error) {
	m := newManifest(projectID)

	path := filepath.Join(dir, manifestName)
	if _, err := toml.DecodeFile(path, m); err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read mirror manifest: %w", err)
	}
	if m.Diagrams == nil {
		m.Diagrams = make(map[string]string)
	}
	return m, nil
}

// save writes the manifest to dir.
func (m *Manifest) save(dir string) error {
	f, err := os.Create(filepath.Join(dir, manifestName))
	if err != nil {
		return fmt.Errorf("failed to create mirror manifest: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("failed to write mirror manifest: %w", err)
	}
	return nil
}
