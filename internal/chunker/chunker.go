// Package chunker splits documents into a hierarchy of nested,
// multi-granularity chunks. The coarsest level splits the document text;
// every finer level splits each parent chunk's own text, so a child chunk is
// always a contiguous substring of its parent.
package chunker

import (
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/efebarandurmaz/sage/internal/identity"
)

// Document is one logical document produced by a loader.
type Document struct {
	DocID      string
	Subject    string
	Source     string // base filename
	FilePath   string // resolved absolute path
	Seq        int    // sequence within the source file
	IngestedAt time.Time
	Text       string // normalized text
}

// Chunk is one span of a document at a given granularity level. The identity
// is a pure function of (parent identity, level size, index, offset, length):
// re-ingesting identical content reproduces identical chunk IDs.
type Chunk struct {
	ID            string
	DocID         string
	ParentChunkID string // empty at the coarsest level
	Level         int    // the level's target size in runes
	Index         int    // sequence index within its level (per parent below the top)
	StartOffset   int    // rune offset within the split source text
	Text          string

	// Metadata inherited from the document.
	Subject  string
	Source   string
	FilePath string
}

// Config controls the chunk hierarchy.
type Config struct {
	// LevelSizes are target chunk sizes; sorted largest-first internally.
	LevelSizes []int
	// OverlapRatio scales each level's overlap with its size.
	OverlapRatio float64
	// MaxOverlap caps the overlap at every level.
	MaxOverlap int
}

// DefaultConfig mirrors the production setup: parent chunks of 2048 runes,
// children of 512, 10% overlap capped at 220.
func DefaultConfig() Config {
	return Config{
		LevelSizes:   []int{2048, 512},
		OverlapRatio: 0.1,
		MaxOverlap:   220,
	}
}

// Chunker splits documents hierarchically.
type Chunker struct {
	cfg Config
}

// New creates a Chunker. Level sizes are sorted largest to smallest.
func New(cfg Config) *Chunker {
	sizes := make([]int, len(cfg.LevelSizes))
	copy(sizes, cfg.LevelSizes)
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	cfg.LevelSizes = sizes
	return &Chunker{cfg: cfg}
}

// Levels returns the configured level sizes, largest first.
func (c *Chunker) Levels() []int {
	return c.cfg.LevelSizes
}

// CoarsestLevel returns the top-level chunk size, or 0 when unconfigured.
func (c *Chunker) CoarsestLevel() int {
	if len(c.cfg.LevelSizes) == 0 {
		return 0
	}
	return c.cfg.LevelSizes[0]
}

func (c *Chunker) overlapFor(size int) int {
	overlap := int(float64(size) * c.cfg.OverlapRatio)
	if overlap > c.cfg.MaxOverlap {
		overlap = c.cfg.MaxOverlap
	}
	return overlap
}

// Chunk splits documents into per-level chunk sets, keyed by level size and
// ordered largest level first. Documents with empty text are skipped with a
// warning. The result is deterministic for identical input and config.
func (c *Chunker) Chunk(docs []Document) map[int][]Chunk {
	results := make(map[int][]Chunk, len(c.cfg.LevelSizes))
	if len(c.cfg.LevelSizes) == 0 {
		return results
	}

	parentSize := c.cfg.LevelSizes[0]
	splitter := &Splitter{ChunkSize: parentSize, Overlap: c.overlapFor(parentSize)}

	var parents []Chunk
	for _, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			slog.Warn("skipping empty document", "source", d.Source)
			continue
		}
		for i, p := range splitter.Split(d.Text) {
			parents = append(parents, Chunk{
				ID:          identity.ChunkID(d.DocID, parentSize, i, p.Start, utf8.RuneCountInString(p.Text)),
				DocID:       d.DocID,
				Level:       parentSize,
				Index:       i,
				StartOffset: p.Start,
				Text:        p.Text,
				Subject:     d.Subject,
				Source:      d.Source,
				FilePath:    d.FilePath,
			})
		}
	}
	slog.Info("created parent chunks", "count", len(parents), "level", parentSize)
	results[parentSize] = parents

	previous := parents
	for _, size := range c.cfg.LevelSizes[1:] {
		splitter := &Splitter{ChunkSize: size, Overlap: c.overlapFor(size)}

		var current []Chunk
		for _, parent := range previous {
			if strings.TrimSpace(parent.Text) == "" {
				continue
			}
			// Children are split from the parent's own text only, never
			// across parent boundaries.
			for i, p := range splitter.Split(parent.Text) {
				current = append(current, Chunk{
					ID:            identity.ChunkID(parent.ID, size, i, p.Start, utf8.RuneCountInString(p.Text)),
					DocID:         parent.DocID,
					ParentChunkID: parent.ID,
					Level:         size,
					Index:         i,
					StartOffset:   p.Start,
					Text:          p.Text,
					Subject:       parent.Subject,
					Source:        parent.Source,
					FilePath:      parent.FilePath,
				})
			}
		}
		slog.Info("created child chunks", "count", len(current), "level", size)
		results[size] = current
		previous = current
	}

	return results
}
