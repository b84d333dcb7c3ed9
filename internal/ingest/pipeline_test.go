package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/efebarandurmaz/sage/internal/chunker"
	"github.com/efebarandurmaz/sage/internal/embed"
	"github.com/efebarandurmaz/sage/internal/llm"
	"github.com/efebarandurmaz/sage/internal/manifest"
	"github.com/efebarandurmaz/sage/internal/sparse"
	"github.com/efebarandurmaz/sage/internal/vector"
)

type fakeStore struct {
	ensuredDims []int
	upserted    [][]vector.Record
	deletedDocs []string
	upsertErr   error
}

var _ vector.Store = (*fakeStore)(nil)

func (f *fakeStore) EnsureSchema(_ context.Context, dim int) error {
	f.ensuredDims = append(f.ensuredDims, dim)
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, records []vector.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, records)
	return nil
}

func (f *fakeStore) DeleteByDoc(_ context.Context, docID string) error {
	f.deletedDocs = append(f.deletedDocs, docID)
	return nil
}

func (f *fakeStore) Query(context.Context, vector.Query) ([]vector.Match, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) records() []vector.Record {
	var all []vector.Record
	for _, batch := range f.upserted {
		all = append(all, batch...)
	}
	return all
}

type fakeLineage struct {
	storedDocs  int
	deletedDocs []string
}

func (f *fakeLineage) StoreLineage(_ context.Context, docs []chunker.Document, _ map[int][]chunker.Chunk) error {
	f.storedDocs += len(docs)
	return nil
}

func (f *fakeLineage) DeleteDocument(_ context.Context, docID string) error {
	f.deletedDocs = append(f.deletedDocs, docID)
	return nil
}

func (f *fakeLineage) Children(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeLineage) Close(context.Context) error { return nil }

type fakeProvider struct{ dim int }

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(context.Context, *llm.Prompt, *llm.RequestOptions) (*llm.Response, error) {
	return nil, errors.New("not a completion provider")
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func testRegistry(t *testing.T) *embed.Registry {
	t.Helper()
	factory := llm.NewFactory()
	factory.Register("fake", func(llm.ProviderConfig) (llm.Provider, error) {
		return &fakeProvider{dim: 4}, nil
	})
	r := embed.NewRegistry(factory)
	r.Register(embed.ModelConfig{
		Name:      "fake-model",
		Dimension: 4,
		Provider:  llm.ProviderConfig{Provider: "fake"},
	})
	return r
}

type testEnv struct {
	corpus   string
	pipeline *Pipeline
	store    *fakeStore
	lineage  *fakeLineage
	cfg      Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	corpus := filepath.Join(root, "corpus")
	if err := os.MkdirAll(corpus, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := Config{
		CorpusDir:      corpus,
		ManifestPath:   filepath.Join(root, "manifest.json"),
		SparseArtifact: filepath.Join(root, "bm25.json"),
		Subject:        "Earth Science",
		Models:         []string{"fake-model"},
	}
	store := &fakeStore{}
	lineage := &fakeLineage{}
	ch := chunker.New(chunker.DefaultConfig())
	return &testEnv{
		corpus:   corpus,
		pipeline: NewPipeline(cfg, ch, store, testRegistry(t), lineage),
		store:    store,
		lineage:  lineage,
		cfg:      cfg,
	}
}

func TestRun_FirstIngest(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, env.corpus, "tectonics.txt", "plate tectonics describes how crustal plates drift over the mantle.")
	writeFile(t, env.corpus, "cycle.txt", "the rock cycle transforms igneous rock into sedimentary rock over time.")

	stats, err := env.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Scanned != 2 || stats.Processed != 2 || stats.Deleted != 0 {
		t.Errorf("stats = %+v", stats)
	}

	records := env.store.records()
	if len(records) == 0 {
		t.Fatal("no records upserted")
	}
	if stats.Indexed != len(records) {
		t.Errorf("Indexed = %d, upserted %d", stats.Indexed, len(records))
	}
	for _, rec := range records {
		if rec.Meta.Namespace != "fake-model" {
			t.Fatalf("record namespace = %q", rec.Meta.Namespace)
		}
		if len(rec.Dense) != 4 {
			t.Fatalf("dense width = %d", len(rec.Dense))
		}
		if rec.Sparse.IsEmpty() {
			t.Fatalf("chunk %s has an empty sparse vector", rec.ID)
		}
	}

	if len(env.store.ensuredDims) != 1 || env.store.ensuredDims[0] != 4 {
		t.Errorf("ensured dims = %v", env.store.ensuredDims)
	}
	if env.lineage.storedDocs != 2 {
		t.Errorf("lineage stored %d docs, want 2", env.lineage.storedDocs)
	}

	m := manifest.Load(env.cfg.ManifestPath)
	if len(m.Files) != 2 || len(m.DocIDs) != 2 {
		t.Errorf("manifest has %d files, %d doc ids", len(m.Files), len(m.DocIDs))
	}

	if _, err := sparse.Load(env.cfg.SparseArtifact); err != nil {
		t.Errorf("sparse artifact unusable: %v", err)
	}
}

func TestRun_UnchangedCorpusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, env.corpus, "a.txt", "plate tectonics describes crustal plate drift.")

	if _, err := env.pipeline.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	upsertsAfterFirst := len(env.store.upserted)

	stats, err := env.pipeline.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Processed != 0 || stats.Deleted != 0 || stats.Unchanged != 1 {
		t.Errorf("second run stats = %+v", stats)
	}
	if len(env.store.upserted) != upsertsAfterFirst {
		t.Error("second run wrote vectors for an unchanged corpus")
	}
}

func TestRun_ModifiedFileDeletedThenReindexed(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, env.corpus, "a.txt", "original text about plate tectonics and crustal drift.")

	if _, err := env.pipeline.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	m := manifest.Load(env.cfg.ManifestPath)
	var docID string
	for _, id := range m.DocIDs {
		docID = id
	}

	writeFile(t, env.corpus, "a.txt", "revised text about subduction zones and ocean trenches.")
	stats, err := env.pipeline.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if stats.Deleted != 1 || stats.Processed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(env.store.deletedDocs) != 1 || env.store.deletedDocs[0] != docID {
		t.Errorf("deleted docs = %v, want [%s]", env.store.deletedDocs, docID)
	}
	if len(env.lineage.deletedDocs) != 1 {
		t.Errorf("lineage deletions = %v", env.lineage.deletedDocs)
	}
}

func TestRun_RemovedFileCleansUp(t *testing.T) {
	env := newTestEnv(t)
	keep := writeFile(t, env.corpus, "keep.txt", "the rock cycle transforms igneous rock into sedimentary rock.")
	gone := writeFile(t, env.corpus, "gone.txt", "this document will be removed from the corpus.")

	if _, err := env.pipeline.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	goneID, ok := manifest.Load(env.cfg.ManifestPath).DocID(gone)
	if !ok {
		t.Fatal("removed file never made it into the manifest")
	}

	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	stats, err := env.pipeline.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if stats.Deleted != 1 || stats.Processed != 0 || stats.Unchanged != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(env.store.deletedDocs) != 1 || env.store.deletedDocs[0] != goneID {
		t.Errorf("deleted docs = %v, want [%s]", env.store.deletedDocs, goneID)
	}

	m := manifest.Load(env.cfg.ManifestPath)
	if _, stillThere := m.Files[gone]; stillThere {
		t.Error("removed file still in manifest")
	}
	if _, kept := m.Files[keep]; !kept {
		t.Error("unchanged file dropped from manifest")
	}
}

func TestRun_UnreadableFileReplacedAndRetried(t *testing.T) {
	env := newTestEnv(t)
	path := writeFile(t, env.corpus, "a.txt", "plate tectonics describes crustal plate drift.")
	writeFile(t, env.corpus, "keep.txt", "the rock cycle transforms igneous rock into sedimentary rock.")

	if _, err := env.pipeline.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	docID, ok := manifest.Load(env.cfg.ManifestPath).DocID(path)
	if !ok {
		t.Fatal("ingested file missing from manifest")
	}

	// Replace the file with a dangling symlink so the scan sees it but
	// cannot read it.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(env.corpus, "missing-target"), path); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	stats, err := env.pipeline.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// The stale vectors go away and the unreadable file is skipped, not
	// treated as unchanged.
	if stats.Deleted != 1 || stats.Skipped != 1 || stats.Processed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(env.store.deletedDocs) != 1 || env.store.deletedDocs[0] != docID {
		t.Errorf("deleted docs = %v, want [%s]", env.store.deletedDocs, docID)
	}

	// The file stays out of the manifest, so the next run retries it.
	m := manifest.Load(env.cfg.ManifestPath)
	if _, stillThere := m.Files[path]; stillThere {
		t.Error("unreadable file still in manifest")
	}

	stats, err = env.pipeline.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 {
		t.Errorf("second run stats = %+v, want the unreadable file skipped again", stats)
	}
}

func TestRun_UpsertFailureLeavesManifestUntouched(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, env.corpus, "a.txt", "plate tectonics describes crustal plate drift.")
	env.store.upsertErr = errors.New("collection unavailable")

	if _, err := env.pipeline.Run(context.Background()); err == nil {
		t.Fatal("expected error when upsert fails")
	}
	if _, err := os.Stat(env.cfg.ManifestPath); !os.IsNotExist(err) {
		t.Error("manifest written despite a failed build phase")
	}
}

func TestRun_NilLineageIsOptional(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.lineage = nil
	writeFile(t, env.corpus, "a.txt", "plate tectonics describes crustal plate drift.")

	if _, err := env.pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run without lineage: %v", err)
	}
}
