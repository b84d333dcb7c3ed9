package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}

func TestScan_HashesLoadableFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "plate tectonics")
	b := writeFile(t, dir, "notes/b.md", "# the rock cycle")
	writeFile(t, dir, "image.png", "not text")

	s := NewScanner(NewLoaderRegistry())
	hashes, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(hashes) != 2 {
		t.Fatalf("scanned %d files, want 2: %v", len(hashes), hashes)
	}
	for _, path := range []string{a, b} {
		h, ok := hashes[path]
		if !ok {
			t.Fatalf("missing entry for %s", path)
		}
		if len(h) != 64 {
			t.Errorf("hash for %s has length %d, want 64 hex chars", path, len(h))
		}
	}
}

func TestScan_SameContentSameHash(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "identical content")
	b := writeFile(t, dir, "b.txt", "identical content")

	s := NewScanner(NewLoaderRegistry())
	hashes, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if hashes[a] != hashes[b] {
		t.Errorf("identical files hashed differently: %s vs %s", hashes[a], hashes[b])
	}
}

func TestScan_UnreadableFileGetsSentinel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.txt", "readable")
	broken := filepath.Join(dir, "broken.txt")
	if err := os.Symlink(filepath.Join(dir, "missing-target"), broken); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	s := NewScanner(NewLoaderRegistry())
	hashes, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	resolved, _ := filepath.Abs(broken)
	h, ok := hashes[resolved]
	if !ok {
		t.Fatal("unreadable file missing from scan results")
	}
	if h != "" {
		t.Errorf("unreadable file hash = %q, want empty sentinel", h)
	}
}

func TestScan_MissingRoot(t *testing.T) {
	s := NewScanner(NewLoaderRegistry())
	if _, err := s.Scan(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error scanning a missing directory")
	}
}
