// Package graph records chunk lineage: which document a chunk came from and
// which parent chunk contains it. The lineage store is optional; ingestion
// works without one.
package graph

import (
	"context"

	"github.com/efebarandurmaz/sage/internal/chunker"
)

// Lineage persists the document/chunk hierarchy.
type Lineage interface {
	// StoreLineage persists documents, their chunks, and parent/child edges.
	StoreLineage(ctx context.Context, docs []chunker.Document, chunks map[int][]chunker.Chunk) error
	// DeleteDocument removes a document and all of its chunks.
	DeleteDocument(ctx context.Context, docID string) error
	// Children returns the chunk IDs nested directly under a chunk.
	Children(ctx context.Context, chunkID string) ([]string, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
