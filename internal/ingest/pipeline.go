package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/sage/internal/chunker"
	"github.com/efebarandurmaz/sage/internal/embed"
	"github.com/efebarandurmaz/sage/internal/graph"
	"github.com/efebarandurmaz/sage/internal/manifest"
	"github.com/efebarandurmaz/sage/internal/observability"
	"github.com/efebarandurmaz/sage/internal/sparse"
	"github.com/efebarandurmaz/sage/internal/vector"
)

// Config controls one ingestion run.
type Config struct {
	CorpusDir      string
	ManifestPath   string
	SparseArtifact string
	Subject        string
	Models         []string
}

// Stats summarizes an ingestion run.
type Stats struct {
	Scanned   int
	Processed int
	Skipped   int
	Deleted   int
	Unchanged int
	Indexed   int // chunks written across all models
}

// Pipeline runs incremental ingestion. The ordering contract: the delete
// phase finishes before any new vector is written, the sparse model is refit
// over the whole current corpus before encoding, and the manifest is saved
// last so a crashed run is simply retried.
type Pipeline struct {
	cfg      Config
	loaders  *LoaderRegistry
	scanner  *Scanner
	chunker  *chunker.Chunker
	store    vector.Store
	writer   *vector.Writer
	registry *embed.Registry
	lineage  graph.Lineage // optional
}

// NewPipeline wires an ingestion pipeline. lineage may be nil.
func NewPipeline(cfg Config, ch *chunker.Chunker, store vector.Store, registry *embed.Registry, lineage graph.Lineage) *Pipeline {
	loaders := NewLoaderRegistry()
	return &Pipeline{
		cfg:      cfg,
		loaders:  loaders,
		scanner:  NewScanner(loaders),
		chunker:  ch,
		store:    store,
		writer:   vector.NewWriter(store),
		registry: registry,
		lineage:  lineage,
	}
}

// Run executes one incremental ingestion pass.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	started := time.Now()

	mf := manifest.Load(p.cfg.ManifestPath)
	working := mf.Clone()

	_, scanSpan := observability.StartIngestSpan(ctx, "scan")
	scanned, err := p.scanner.Scan(p.cfg.CorpusDir)
	if err != nil {
		observability.RecordError(scanSpan, err)
		scanSpan.End()
		observability.Audit().LogIngestError(err)
		return stats, err
	}
	scanSpan.End()
	stats.Scanned = len(scanned)
	observability.Audit().LogIngestStart(p.cfg.CorpusDir, stats.Scanned)

	delta := DetectChanges(mf, scanned)
	stats.Unchanged = len(delta.Unchanged)
	if delta.Empty() {
		slog.Info("corpus unchanged, nothing to do")
		return stats, nil
	}

	if err := p.deletePhase(ctx, delta.ToDelete, working); err != nil {
		observability.Audit().LogIngestError(err)
		return stats, err
	}
	stats.Deleted = len(delta.ToDelete)

	changedDocs, skipped := p.loadAll(delta.ToProcess)
	stats.Skipped = skipped

	unchangedDocs, _ := p.loadAll(delta.Unchanged)
	corpusDocs := append(append([]chunker.Document{}, changedDocs...), unchangedDocs...)

	_, chunkSpan := observability.StartIngestSpan(ctx, "chunk")
	changedChunks := p.chunker.Chunk(changedDocs)
	corpusChunks := p.chunker.Chunk(corpusDocs)
	chunkSpan.End()

	bm25, err := p.fitSparse(ctx, corpusChunks)
	if err != nil {
		observability.Audit().LogIngestError(err)
		return stats, err
	}

	indexed, err := p.buildIndex(ctx, bm25, changedChunks)
	if err != nil {
		observability.Audit().LogIngestError(err)
		return stats, err
	}
	stats.Indexed = indexed

	if p.lineage != nil {
		if err := p.lineage.StoreLineage(ctx, changedDocs, changedChunks); err != nil {
			// Lineage is a supporting view, not the index of record.
			slog.Warn("storing chunk lineage failed", "error", err)
		}
	}

	for _, doc := range changedDocs {
		working.Files[doc.FilePath] = scanned[doc.FilePath]
		working.DocIDs[doc.FilePath] = doc.DocID
		observability.Audit().LogFileProcessed(doc.FilePath, doc.DocID)
	}
	stats.Processed = len(changedDocs)

	_, manifestSpan := observability.StartIngestSpan(ctx, "manifest")
	err = working.Save(p.cfg.ManifestPath)
	observability.RecordError(manifestSpan, err)
	manifestSpan.End()
	if err != nil {
		observability.Audit().LogIngestError(err)
		return stats, fmt.Errorf("saving manifest: %w", err)
	}

	observability.Audit().LogIngestComplete(time.Since(started),
		stats.Processed, stats.Skipped, stats.Deleted, stats.Indexed)
	slog.Info("ingestion complete",
		"processed", stats.Processed,
		"deleted", stats.Deleted,
		"unchanged", stats.Unchanged,
		"indexed_chunks", stats.Indexed)
	return stats, nil
}

// deletePhase removes vectors and lineage for every stale document and drops
// them from the working manifest. It completes before the build phase so a
// modified document is never partially duplicated.
func (p *Pipeline) deletePhase(ctx context.Context, paths []string, working *manifest.Manifest) error {
	if len(paths) == 0 {
		return nil
	}

	ctx, span := observability.StartIngestSpan(ctx, "delete")
	defer span.End()

	var docIDs []string
	for _, path := range paths {
		docID, ok := working.DocID(path)
		if !ok {
			slog.Warn("no document id recorded for stale file", "path", path)
			continue
		}
		docIDs = append(docIDs, docID)
	}

	if err := p.writer.DeleteDocs(ctx, docIDs); err != nil {
		observability.RecordError(span, err)
		return err
	}
	for _, path := range paths {
		if docID, ok := working.DocID(path); ok {
			observability.Audit().LogFileDeleted(path, docID)
		}
	}
	if p.lineage != nil {
		for _, docID := range docIDs {
			if err := p.lineage.DeleteDocument(ctx, docID); err != nil {
				slog.Warn("deleting chunk lineage failed", "doc_id", docID, "error", err)
			}
		}
	}

	for _, path := range paths {
		delete(working.Files, path)
		delete(working.DocIDs, path)
	}
	return nil
}

// loadAll loads the given files, skipping (with a logged error) any that
// fail. A skipped file stays out of the manifest and is retried next run.
func (p *Pipeline) loadAll(paths []string) ([]chunker.Document, int) {
	docs := make([]chunker.Document, 0, len(paths))
	skipped := 0
	for _, path := range paths {
		doc, err := p.loaders.Load(path, p.cfg.Subject)
		if err != nil {
			slog.Error("loading document failed, skipping", "path", path, "error", err)
			observability.Audit().LogFileSkipped(path, err)
			skipped++
			continue
		}
		docs = append(docs, doc)
	}
	return docs, skipped
}

// fitSparse refits the BM25 model over every coarse chunk of the current
// corpus and persists the artifact queries will load.
func (p *Pipeline) fitSparse(ctx context.Context, corpusChunks map[int][]chunker.Chunk) (*sparse.Encoder, error) {
	_, span := observability.StartIngestSpan(ctx, "sparse_fit")
	defer span.End()

	coarse := corpusChunks[p.chunker.CoarsestLevel()]
	texts := make([]string, len(coarse))
	for i, c := range coarse {
		texts[i] = c.Text
	}

	bm25 := sparse.NewEncoder()
	if err := bm25.Fit(texts); err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("fitting sparse model: %w", err)
	}
	if err := bm25.Save(p.cfg.SparseArtifact); err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("saving sparse artifact: %w", err)
	}

	slog.Info("refit sparse model", "corpus_chunks", len(texts), "artifact", p.cfg.SparseArtifact)
	return bm25, nil
}

// buildIndex encodes and writes every changed chunk once per embedding
// model. All models share one collection, so their dimensions must agree;
// EnsureSchema rejects the run otherwise.
func (p *Pipeline) buildIndex(ctx context.Context, bm25 *sparse.Encoder, changedChunks map[int][]chunker.Chunk) (int, error) {
	var all []chunker.Chunk
	for _, level := range p.chunker.Levels() {
		all = append(all, changedChunks[level]...)
	}
	if len(all) == 0 {
		return 0, nil
	}

	texts := make([]string, len(all))
	for i, c := range all {
		texts[i] = c.Text
	}

	sparseVecs, err := bm25.EncodeDocuments(texts)
	if err != nil {
		return 0, fmt.Errorf("sparse-encoding chunks: %w", err)
	}

	indexed := 0
	for _, model := range p.cfg.Models {
		encoder, err := p.registry.Encoder(model)
		if err != nil {
			return indexed, err
		}
		if err := p.store.EnsureSchema(ctx, encoder.Dimension()); err != nil {
			return indexed, err
		}

		embedCtx, embedSpan := observability.StartEmbedSpan(ctx, model, len(texts))
		dense, err := encoder.EncodeBatch(embedCtx, texts)
		observability.RecordError(embedSpan, err)
		embedSpan.End()
		if err != nil {
			return indexed, err
		}

		namespace := vector.SanitizeNamespace(model)
		records := make([]vector.Record, len(all))
		for i, c := range all {
			records[i] = vector.Record{
				ID:     c.ID,
				Dense:  dense[i],
				Sparse: sparseVecs[i],
				Meta: vector.Meta{
					Namespace:     namespace,
					Text:          c.Text,
					Source:        c.Source,
					DocID:         c.DocID,
					Level:         c.Level,
					SeqIndex:      c.Index,
					ParentChunkID: c.ParentChunkID,
					Subject:       c.Subject,
					FilePath:      c.FilePath,
				},
			}
		}

		upsertCtx, upsertSpan := observability.StartIngestSpan(ctx, "upsert")
		written, err := p.writer.Write(upsertCtx, records)
		observability.RecordError(upsertSpan, err)
		upsertSpan.End()
		if err != nil {
			return indexed, fmt.Errorf("indexing with model %q: %w", model, err)
		}
		indexed += written
	}
	return indexed, nil
}
