package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/efebarandurmaz/sage/internal/llm"
)

// fakeEmbedder returns fixed-width vectors and records batch sizes.
type fakeEmbedder struct {
	dim     int
	batches []int
	fail    error
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Complete(context.Context, *llm.Prompt, *llm.RequestOptions) (*llm.Response, error) {
	return nil, errors.New("not a completion provider")
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.batches = append(f.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(i)
	}
	return out, nil
}

func testRegistry(t *testing.T, fake *fakeEmbedder, dim int) *Registry {
	t.Helper()
	factory := llm.NewFactory()
	factory.Register("fake", func(llm.ProviderConfig) (llm.Provider, error) {
		return fake, nil
	})
	r := NewRegistry(factory)
	r.Register(ModelConfig{
		Name:      "minilm",
		Dimension: dim,
		Provider:  llm.ProviderConfig{Provider: "fake"},
	})
	return r
}

func TestEncoder_UnknownModel(t *testing.T) {
	r := testRegistry(t, &fakeEmbedder{dim: 4}, 4)

	_, err := r.Encoder("nonexistent")
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Encoder(nonexistent): err = %v, want ErrUnknownModel", err)
	}
	if _, err := r.Dimension("nonexistent"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Dimension(nonexistent): err = %v, want ErrUnknownModel", err)
	}
}

func TestEncoder_Memoized(t *testing.T) {
	r := testRegistry(t, &fakeEmbedder{dim: 4}, 4)

	a, err := r.Encoder("minilm")
	if err != nil {
		t.Fatalf("Encoder: %v", err)
	}
	b, err := r.Encoder("minilm")
	if err != nil {
		t.Fatalf("Encoder: %v", err)
	}
	if a != b {
		t.Error("repeated lookups should return the same encoder")
	}
}

func TestEncodeBatch_SplitsIntoBatches(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	r := testRegistry(t, fake, 4)

	enc, err := r.Encoder("minilm")
	if err != nil {
		t.Fatalf("Encoder: %v", err)
	}

	texts := make([]string, BatchSize*2+5)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	vecs, err := enc.EncodeBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors for %d texts", len(vecs), len(texts))
	}

	want := []int{BatchSize, BatchSize, 5}
	if len(fake.batches) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", fake.batches, want)
	}
	for i := range want {
		if fake.batches[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, fake.batches[i], want[i])
		}
	}
}

func TestEncodeBatch_DimensionMismatch(t *testing.T) {
	r := testRegistry(t, &fakeEmbedder{dim: 8}, 4) // endpoint serves 8, configured 4

	enc, err := r.Encoder("minilm")
	if err != nil {
		t.Fatalf("Encoder: %v", err)
	}
	if _, err := enc.EncodeBatch(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error on dimension mismatch")
	}
}

func TestEncodeBatch_ProviderError(t *testing.T) {
	providerErr := errors.New("endpoint down")
	r := testRegistry(t, &fakeEmbedder{dim: 4, fail: providerErr}, 4)

	enc, err := r.Encoder("minilm")
	if err != nil {
		t.Fatalf("Encoder: %v", err)
	}
	if _, err := enc.EncodeBatch(context.Background(), []string{"a"}); !errors.Is(err, providerErr) {
		t.Errorf("EncodeBatch: err = %v, want wrapped provider error", err)
	}
}

func TestRegister_ReplacesDropsMemoized(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	r := testRegistry(t, fake, 4)

	before, err := r.Encoder("minilm")
	if err != nil {
		t.Fatalf("Encoder: %v", err)
	}

	r.Register(ModelConfig{
		Name:      "minilm",
		Dimension: 4,
		Provider:  llm.ProviderConfig{Provider: "fake"},
	})

	after, err := r.Encoder("minilm")
	if err != nil {
		t.Fatalf("Encoder: %v", err)
	}
	if before == after {
		t.Error("re-registering a model should rebuild its encoder")
	}
}

func TestNames_Sorted(t *testing.T) {
	r := testRegistry(t, &fakeEmbedder{dim: 4}, 4)
	r.Register(ModelConfig{Name: "ada", Provider: llm.ProviderConfig{Provider: "fake"}})

	names := r.Names()
	if len(names) != 2 || names[0] != "ada" || names[1] != "minilm" {
		t.Errorf("Names = %v", names)
	}
}
