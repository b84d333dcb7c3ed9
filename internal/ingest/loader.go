package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/efebarandurmaz/sage/internal/chunker"
	"github.com/efebarandurmaz/sage/internal/identity"
)

// LoadFunc reads one file and returns its raw text.
type LoadFunc func(path string) (string, error)

// LoaderRegistry maps file extensions to loaders.
type LoaderRegistry struct {
	byExt map[string]LoadFunc
}

// NewLoaderRegistry returns a registry with the built-in loaders for plain
// text and markdown.
func NewLoaderRegistry() *LoaderRegistry {
	r := &LoaderRegistry{byExt: make(map[string]LoadFunc)}
	r.Register(".txt", loadPlainText)
	r.Register(".md", loadMarkdown)
	return r
}

// Register adds a loader for an extension (with leading dot, lower case).
func (r *LoaderRegistry) Register(ext string, fn LoadFunc) {
	r.byExt[ext] = fn
}

// Supported reports whether a loader exists for the file's extension.
func (r *LoaderRegistry) Supported(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads a file into a Document with normalized text and a stable
// document identity derived from the resolved path.
func (r *LoaderRegistry) Load(path, subject string) (chunker.Document, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return chunker.Document{}, fmt.Errorf("resolving %s: %w", path, err)
	}

	fn, ok := r.byExt[strings.ToLower(filepath.Ext(resolved))]
	if !ok {
		return chunker.Document{}, fmt.Errorf("no loader for %s", filepath.Ext(resolved))
	}

	raw, err := fn(resolved)
	if err != nil {
		return chunker.Document{}, fmt.Errorf("loading %s: %w", resolved, err)
	}

	return chunker.Document{
		DocID:      identity.DocumentID(resolved),
		Subject:    subject,
		Source:     filepath.Base(resolved),
		FilePath:   resolved,
		IngestedAt: time.Now().UTC(),
		Text:       Normalize(raw),
	}, nil
}

func loadPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var (
	mdCodeFence = regexp.MustCompile("(?s)```.*?```")
	mdHeading   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphasis  = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
)

// loadMarkdown reads a markdown file and strips the formatting that would
// pollute retrieval text: code fences, heading markers, link targets, and
// emphasis runes.
func loadMarkdown(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := string(data)
	text = mdCodeFence.ReplaceAllString(text, "")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdEmphasis.ReplaceAllString(text, "$1")
	return text, nil
}

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// Normalize lowercases text and collapses whitespace while preserving
// paragraph breaks, which the chunker splits on.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
