package vector

import (
	"context"
	"fmt"
	"log/slog"
)

// UpsertBatchSize is the number of points written per upsert request.
const UpsertBatchSize = 100

// Writer handles the write side of indexing: deleting stale documents before
// the build phase and batching upserts during it.
type Writer struct {
	store Store
}

// NewWriter creates a Writer over a store.
func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// DeleteDocs removes all points for the given documents. The whole delete
// phase runs before any new point is written, so a modified document is never
// half-replaced.
func (w *Writer) DeleteDocs(ctx context.Context, docIDs []string) error {
	for _, docID := range docIDs {
		if err := w.store.DeleteByDoc(ctx, docID); err != nil {
			return fmt.Errorf("deleting document %s: %w", docID, err)
		}
		slog.Info("deleted document vectors", "doc_id", docID)
	}
	return nil
}

// Write upserts records in batches and returns how many were written. Records
// with an empty sparse vector are skipped with a warning: they carry no
// searchable vocabulary and would be unreachable on the sparse side.
func (w *Writer) Write(ctx context.Context, records []Record) (int, error) {
	indexable := records[:0:0]
	for _, rec := range records {
		if rec.Sparse.IsEmpty() {
			slog.Warn("skipping chunk with empty sparse vector", "chunk_id", rec.ID, "source", rec.Meta.Source)
			continue
		}
		indexable = append(indexable, rec)
	}

	for start := 0; start < len(indexable); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(indexable) {
			end = len(indexable)
		}
		if err := w.store.Upsert(ctx, indexable[start:end]); err != nil {
			return 0, fmt.Errorf("upserting batch %d-%d: %w", start, end, err)
		}
	}

	slog.Info("indexed chunks", "written", len(indexable), "skipped", len(records)-len(indexable))
	return len(indexable), nil
}
