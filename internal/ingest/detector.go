package ingest

import (
	"log/slog"
	"sort"

	"github.com/efebarandurmaz/sage/internal/manifest"
)

// Delta is the outcome of comparing a scan against the manifest. A modified
// file appears in both ToDelete and ToProcess: its old vectors are removed
// before its new content is indexed.
type Delta struct {
	ToProcess []string // new or modified files, by resolved path
	ToDelete  []string // removed or modified files, by resolved path
	Unchanged []string
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.ToProcess) == 0 && len(d.ToDelete) == 0
}

// DetectChanges compares the scanned hashes against the manifest. The
// empty-hash sentinel of an unreadable file never matches a stored hash, so
// such a file counts as changed on every run until it becomes readable again.
func DetectChanges(m *manifest.Manifest, scanned map[string]string) Delta {
	var delta Delta

	for path, hash := range scanned {
		previous, known := m.Files[path]
		switch {
		case !known:
			delta.ToProcess = append(delta.ToProcess, path)
		case previous != hash:
			delta.ToDelete = append(delta.ToDelete, path)
			delta.ToProcess = append(delta.ToProcess, path)
		default:
			delta.Unchanged = append(delta.Unchanged, path)
		}
	}

	for path := range m.Files {
		if _, present := scanned[path]; !present {
			delta.ToDelete = append(delta.ToDelete, path)
		}
	}

	sort.Strings(delta.ToProcess)
	sort.Strings(delta.ToDelete)
	sort.Strings(delta.Unchanged)

	slog.Info("detected changes",
		"to_process", len(delta.ToProcess),
		"to_delete", len(delta.ToDelete),
		"unchanged", len(delta.Unchanged))
	return delta
}
