// Package embed manages named dense embedding models. A model name selects a
// provider endpoint, an embedding model identifier, and an expected vector
// dimension; the registry memoizes the constructed provider so repeated
// lookups share one client.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/efebarandurmaz/sage/internal/llm"
)

// ErrUnknownModel is returned when a model name has no registered
// configuration. Callers treat this as a configuration error, not a skippable
// condition.
var ErrUnknownModel = errors.New("embed: unknown model")

// BatchSize is the number of texts sent per embedding request.
const BatchSize = 32

// ModelConfig describes one named embedding model.
type ModelConfig struct {
	Name      string
	Dimension int // expected vector width; every index using this model shares it
	Provider  llm.ProviderConfig
}

// Registry maps model names to lazily constructed encoders.
type Registry struct {
	factory *llm.ProviderFactory

	mu      sync.Mutex
	configs map[string]ModelConfig
	loaded  map[string]*Encoder
}

// NewRegistry creates a registry that builds providers through factory.
func NewRegistry(factory *llm.ProviderFactory) *Registry {
	return &Registry{
		factory: factory,
		configs: make(map[string]ModelConfig),
		loaded:  make(map[string]*Encoder),
	}
}

// Register adds or replaces a model configuration. Replacing drops any
// memoized encoder for that name.
func (r *Registry) Register(cfg ModelConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	delete(r.loaded, cfg.Name)
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dimension returns the configured vector width for a model.
func (r *Registry) Dimension(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return cfg.Dimension, nil
}

// Encoder returns the encoder for a model name, constructing and memoizing it
// on first use.
func (r *Registry) Encoder(name string) (*Encoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enc, ok := r.loaded[name]; ok {
		return enc, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	provider, err := r.factory.Create(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("building provider for model %q: %w", name, err)
	}
	if provider == nil {
		return nil, fmt.Errorf("model %q has no provider configured", name)
	}

	slog.Info("loaded embedding model", "model", name, "provider", provider.Name(), "dimension", cfg.Dimension)

	enc := &Encoder{
		name:      name,
		dimension: cfg.Dimension,
		provider:  provider,
	}
	r.loaded[name] = enc
	return enc, nil
}

// Encoder embeds texts with one named model.
type Encoder struct {
	name      string
	dimension int
	provider  llm.Provider
}

// Name returns the model name.
func (e *Encoder) Name() string { return e.name }

// Dimension returns the expected vector width.
func (e *Encoder) Dimension() int { return e.dimension }

// EncodeBatch embeds texts in request batches, preserving input order. Every
// returned vector is checked against the configured dimension; a mismatch
// means the endpoint serves a different model than configured and is fatal.
func (e *Encoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += BatchSize {
		end := start + BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := e.provider.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d with model %q: %w", start, end, e.name, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("model %q returned %d vectors for %d texts", e.name, len(vecs), end-start)
		}
		for i, v := range vecs {
			if e.dimension > 0 && len(v) != e.dimension {
				return nil, fmt.Errorf("model %q returned %d-dim vector at %d, configured %d",
					e.name, len(v), start+i, e.dimension)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EncodeQuery embeds a single query text.
func (e *Encoder) EncodeQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
