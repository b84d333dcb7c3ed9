// Package manifest persists the record of previously ingested files: their
// content hashes and their stable document identities. It is the source of
// truth for delta computation between ingestion runs.
package manifest

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// Manifest maps absolute file paths to content hashes and document IDs.
// A path's document ID is stable across content edits; only deletion of the
// file removes the mapping.
type Manifest struct {
	// Files maps absolute path → SHA-256 hex of the file content.
	Files map[string]string `json:"files"`
	// DocIDs maps absolute path → stable document identity.
	DocIDs map[string]string `json:"doc_ids"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Files:  make(map[string]string),
		DocIDs: make(map[string]string),
	}
}

// Load reads a manifest from path. A missing or corrupt file is treated as an
// empty manifest (logged, not fatal): the next run simply reprocesses
// everything.
func Load(path string) *Manifest {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("manifest unreadable, starting fresh", "path", path, "error", err)
		}
		return New()
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("manifest corrupted, starting fresh", "path", path, "error", err)
		return New()
	}
	if m.Files == nil {
		m.Files = make(map[string]string)
	}
	if m.DocIDs == nil {
		m.DocIDs = make(map[string]string)
	}
	return &m
}

// Save persists the manifest to path, creating parent directories as needed.
func (m *Manifest) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Clone returns a deep copy. The ingestion pipeline mutates a copy and only
// saves it after the run succeeds, so a failed run never claims progress.
func (m *Manifest) Clone() *Manifest {
	out := New()
	for k, v := range m.Files {
		out.Files[k] = v
	}
	for k, v := range m.DocIDs {
		out.DocIDs[k] = v
	}
	return out
}

// DocID returns the document identity recorded for path, if any.
func (m *Manifest) DocID(path string) (string, bool) {
	id, ok := m.DocIDs[path]
	return id, ok
}
