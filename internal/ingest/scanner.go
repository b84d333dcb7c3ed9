// Package ingest implements the document ingestion pipeline: scanning the
// corpus directory, detecting changes against the manifest, loading and
// chunking documents, and writing the hybrid index.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Scanner walks the corpus directory and fingerprints loadable files.
type Scanner struct {
	loaders *LoaderRegistry
}

// NewScanner creates a Scanner that tracks files the registry can load.
func NewScanner(loaders *LoaderRegistry) *Scanner {
	return &Scanner{loaders: loaders}
}

// Scan returns resolved path to content hash for every loadable file under
// root. Unreadable files get an empty hash sentinel, which never matches a
// stored hash, so the detector keeps treating them as changed.
func (s *Scanner) Scan(root string) (map[string]string, error) {
	resolved, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving corpus root: %w", err)
	}

	hashes := make(map[string]string)
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !s.loaders.Supported(path) {
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			slog.Warn("cannot read file, skipping", "path", path, "error", err)
			hashes[path] = ""
			return nil
		}
		hashes[path] = hash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", resolved, err)
	}

	slog.Info("scanned corpus", "root", resolved, "files", len(hashes))
	return hashes, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
