// Package vector defines the hybrid vector store: every chunk is stored once
// with a named dense vector and a named sparse vector, plus a fixed payload
// schema. Namespaces partition one collection through an indexed payload
// field rather than separate collections, so the one-collection/one-dimension
// invariant holds for all embedding models sharing a store.
package vector

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/sage/internal/sparse"
)

// ErrSchemaMismatch is returned when an existing collection's dense vector
// dimension or distance metric disagrees with the configuration. Writing into
// a mismatched collection would corrupt it, so this is fatal.
var ErrSchemaMismatch = errors.New("vector: collection schema mismatch")

// Meta is the fixed payload schema stored with every point.
type Meta struct {
	Namespace     string
	Text          string
	Source        string
	DocID         string
	Level         int
	SeqIndex      int
	ParentChunkID string
	Subject       string
	FilePath      string
}

// Record is one chunk ready for indexing: its stable chunk ID, both vector
// representations, and payload.
type Record struct {
	ID     string // stable chunk ID; the point ID is derived from it
	Dense  []float32
	Sparse sparse.Vector
	Meta   Meta
}

// Match is a single scored result from a hybrid query.
type Match struct {
	ID    string
	Score float32
	Meta  Meta
}

// Query is one hybrid retrieval request. Level restricts results to a single
// granularity; TopK bounds the result count.
type Query struct {
	Namespace string
	Dense     []float32
	Sparse    sparse.Vector
	Level     int
	TopK      int
}

// Store provides hybrid vector storage over a single collection.
type Store interface {
	// EnsureSchema creates the collection if absent and validates dimension
	// and metric if present, returning ErrSchemaMismatch on disagreement.
	EnsureSchema(ctx context.Context, dim int) error
	// Upsert writes records; re-upserting the same chunk ID overwrites in
	// place.
	Upsert(ctx context.Context, records []Record) error
	// DeleteByDoc removes every point of a document across all namespaces.
	DeleteByDoc(ctx context.Context, docID string) error
	// Query runs a hybrid dense+sparse search.
	Query(ctx context.Context, q Query) ([]Match, error)
	// Close releases resources.
	Close() error
}

// pointNamespace seeds deterministic point IDs. Changing it would orphan
// every existing point.
var pointNamespace = uuid.MustParse("8b540f55-3f14-4b7a-9f44-6f8f5dfc2a11")

// PointID maps a stable chunk ID to the store's UUID point ID. The mapping is
// deterministic, so re-ingesting identical content overwrites rather than
// duplicates.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

var namespaceSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeNamespace replaces every character outside [a-zA-Z0-9_-] with an
// underscore.
func SanitizeNamespace(name string) string {
	return namespaceSanitizer.ReplaceAllString(name, "_")
}
