package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/sage/internal/chunker"
	"github.com/efebarandurmaz/sage/internal/config"
	"github.com/efebarandurmaz/sage/internal/embed"
	"github.com/efebarandurmaz/sage/internal/graph"
	neo4jgraph "github.com/efebarandurmaz/sage/internal/graph/neo4j"
	"github.com/efebarandurmaz/sage/internal/ingest"
	"github.com/efebarandurmaz/sage/internal/llm"
	"github.com/efebarandurmaz/sage/internal/llm/openai"
	"github.com/efebarandurmaz/sage/internal/observability"
	"github.com/efebarandurmaz/sage/internal/rerank"
	"github.com/efebarandurmaz/sage/internal/retrieve"
	"github.com/efebarandurmaz/sage/internal/secrets"
	"github.com/efebarandurmaz/sage/internal/sparse"
	"github.com/efebarandurmaz/sage/internal/vector"
)

func main() {
	var (
		configPath string
		model      string
	)

	rootCmd := &cobra.Command{
		Use:   "sage",
		Short: "Hybrid-retrieval question answering over a document corpus",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/sage.yaml", "Config file path")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one incremental ingestion pass over the corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), configPath)
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve and rerank passages for a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), configPath, model, args[0])
		},
	}
	queryCmd.Flags().StringVar(&model, "model", "", "Embedding model to query with (default: first configured)")

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question grounded in retrieved passages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), configPath, model, args[0])
		},
	}
	askCmd.Flags().StringVar(&model, "model", "", "Embedding model to retrieve with (default: first configured)")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List configured embedding models and known LLM providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(configPath)
		},
	}

	rootCmd.AddCommand(ingestCmd, queryCmd, askCmd, modelsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the shared wiring every subcommand needs.
type app struct {
	cfg      *config.Config
	factory  *llm.ProviderFactory
	registry *embed.Registry
	store    vector.Store
	tracer   *observability.TracerProvider
}

// newApp loads config and wires the provider factory, embedding registry and
// vector store. withStore controls whether a Qdrant connection is opened.
func newApp(ctx context.Context, configPath string, withStore bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.Log)

	if err := secrets.Init(secretsConfig(cfg)); err != nil {
		return nil, fmt.Errorf("initializing secrets: %w", err)
	}
	cfg.LLM.APIKey = secrets.Resolve(ctx, secrets.SecretLLMAPIKey, cfg.LLM.APIKey)
	cfg.Rerank.APIKey = secrets.Resolve(ctx, secrets.SecretRerankAPIKey, cfg.Rerank.APIKey)
	cfg.Graph.Password = secrets.Resolve(ctx, secrets.SecretGraphPassword, cfg.Graph.Password)

	tracer, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  cfg.Observability.ServiceName,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	if cfg.Observability.AuditLog != "" {
		if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Observability.AuditLog,
		}); err != nil {
			return nil, fmt.Errorf("initializing audit log: %w", err)
		}
	}

	factory := newProviderFactory()
	registry := embed.NewRegistry(factory)
	for _, m := range cfg.Embedding.Models {
		resolved := m.Resolve(cfg.LLM)
		registry.Register(embed.ModelConfig{
			Name:      resolved.Name,
			Dimension: resolved.Dimension,
			Provider: llm.ProviderConfig{
				Provider:   resolved.Provider,
				APIKey:     secrets.Resolve(ctx, secrets.SecretEmbedAPIKey, resolved.APIKey),
				BaseURL:    resolved.BaseURL,
				EmbedModel: resolved.Name,
			},
		})
	}

	a := &app{cfg: cfg, factory: factory, registry: registry, tracer: tracer}

	if withStore {
		store, err := vector.NewQdrant(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
		if err != nil {
			return nil, fmt.Errorf("connecting to vector store: %w", err)
		}
		a.store = store
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing vector store", "error", err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			slog.Warn("shutting down tracer", "error", err)
		}
	}
	if err := observability.Audit().Close(); err != nil {
		slog.Warn("closing audit log", "error", err)
	}
}

// embeddingModel picks the model to use: the --model flag when given,
// otherwise the first configured model.
func (a *app) embeddingModel(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	names := a.cfg.ModelNames()
	if len(names) == 0 {
		return "", fmt.Errorf("no embedding models configured")
	}
	return names[0], nil
}

// newProviderFactory registers the OpenAI-compatible constructor. The
// factory routes every known preset (groq, ollama, together, deepseek)
// through it with the preset's base URL.
func newProviderFactory() *llm.ProviderFactory {
	factory := llm.NewFactory()
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	factory.Register("custom", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	return factory
}

func secretsConfig(cfg *config.Config) *secrets.Config {
	sc := &secrets.Config{Provider: cfg.Secrets.Provider, EnvPrefix: "SAGE_"}
	switch cfg.Secrets.Provider {
	case "vault":
		sc.VaultConfig = &secrets.VaultConfig{
			Address: cfg.Secrets.VaultAddress,
			Token:   cfg.Secrets.VaultToken,
		}
	case "file":
		sc.FileConfig = &secrets.FileConfig{Path: cfg.Secrets.FilePath}
	}
	return sc
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runIngest(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	var lineage graph.Lineage
	if a.cfg.Graph.Enabled {
		store, err := neo4jgraph.New(ctx, a.cfg.Graph.URI, a.cfg.Graph.Username, a.cfg.Graph.Password)
		if err != nil {
			// Lineage is a supporting view; ingestion proceeds without it.
			slog.Warn("lineage store unavailable, continuing without it", "error", err)
		} else {
			lineage = store
			defer store.Close(ctx)
		}
	}

	pipeline := ingest.NewPipeline(ingest.Config{
		CorpusDir:      a.cfg.Corpus.Dir,
		ManifestPath:   a.cfg.Corpus.ManifestPath,
		SparseArtifact: a.cfg.Corpus.SparseArtifact,
		Subject:        a.cfg.Corpus.Subject,
		Models:         a.cfg.ModelNames(),
	}, chunker.New(chunker.DefaultConfig()), a.store, a.registry, lineage)

	started := time.Now()
	stats, err := pipeline.Run(ctx)
	observability.Metrics().RecordIngestRun(time.Since(started),
		stats.Processed, stats.Skipped, stats.Deleted, stats.Indexed, err)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("Scanned:   %d\n", stats.Scanned)
	fmt.Printf("Processed: %d\n", stats.Processed)
	fmt.Printf("Skipped:   %d\n", stats.Skipped)
	fmt.Printf("Deleted:   %d\n", stats.Deleted)
	fmt.Printf("Unchanged: %d\n", stats.Unchanged)
	fmt.Printf("Indexed:   %d chunks\n", stats.Indexed)
	return nil
}

// newRetriever builds the two-stage retriever from the persisted sparse
// artifact and the configured cross-encoder (nil when unconfigured).
func (a *app) newRetriever() (*retrieve.Retriever, error) {
	bm25, err := sparse.Load(a.cfg.Corpus.SparseArtifact)
	if err != nil {
		return nil, fmt.Errorf("loading sparse model (run ingest first): %w", err)
	}

	var scorer rerank.Scorer
	if a.cfg.Rerank.Endpoint != "" {
		scorer = rerank.NewCrossEncoder(rerank.Config{
			Model:    a.cfg.Rerank.Model,
			Endpoint: a.cfg.Rerank.Endpoint,
			APIKey:   a.cfg.Rerank.APIKey,
		})
	}

	ch := chunker.New(chunker.DefaultConfig())
	return retrieve.New(a.store, a.registry, bm25, scorer, ch.CoarsestLevel()), nil
}

func runQuery(ctx context.Context, configPath, modelFlag, question string) error {
	a, err := newApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	model, err := a.embeddingModel(modelFlag)
	if err != nil {
		return err
	}
	retriever, err := a.newRetriever()
	if err != nil {
		return err
	}

	started := time.Now()
	results, err := retriever.SearchAndRerank(ctx, model, model, question)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	wasReranked := len(results) > 0 && results[0].Reranked
	observability.Audit().LogQuery(model, question, len(results), wasReranked, time.Since(started))

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("--- [%d] score=%.4f", i+1, r.Score)
		if r.Reranked {
			fmt.Printf(" rerank=%.4f", r.RerankScore)
		}
		fmt.Printf(" source=%s\n%s\n\n", r.Meta.Source, r.Text)
	}
	return nil
}

func runAsk(ctx context.Context, configPath, modelFlag, question string) error {
	a, err := newApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	provider, err := a.factory.Create(llm.ProviderConfig{
		Provider: a.cfg.LLM.Provider,
		APIKey:   a.cfg.LLM.APIKey,
		Model:    a.cfg.LLM.Model,
		BaseURL:  a.cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	if provider == nil {
		return fmt.Errorf("ask requires an LLM provider; configure llm.provider")
	}

	model, err := a.embeddingModel(modelFlag)
	if err != nil {
		return err
	}
	retriever, err := a.newRetriever()
	if err != nil {
		return err
	}

	results, err := retriever.SearchAndRerank(ctx, model, model, question)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No passages retrieved; cannot answer.")
		return nil
	}

	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = fmt.Sprintf("(%s) %s", r.Meta.Source, r.Text)
	}

	opts := &llm.RequestOptions{}
	if a.cfg.LLM.Temperature > 0 {
		t := a.cfg.LLM.Temperature
		opts.Temperature = &t
	}
	if a.cfg.LLM.MaxTokens > 0 {
		mt := a.cfg.LLM.MaxTokens
		opts.MaxTokens = &mt
	}

	llmCtx, span := observability.StartLLMSpan(ctx, provider.Name(), a.cfg.LLM.Model)
	started := time.Now()
	resp, err := provider.Complete(llmCtx, llm.NewAnswerPrompt(question, passages), opts)
	if err != nil {
		observability.RecordError(span, err)
		span.End()
		return fmt.Errorf("completion failed: %w", err)
	}
	observability.RecordLLMMetrics(span, resp.InputTokens, resp.OutputTokens, time.Since(started))
	span.End()
	observability.Audit().LogAnswer(a.cfg.LLM.Model, question, len(passages), resp.OutputTokens, time.Since(started))

	fmt.Println(llm.StripThinkingTags(resp.Content))
	return nil
}

func runModels(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Println("Configured embedding models:")
	if len(cfg.Embedding.Models) == 0 {
		fmt.Println("  (none)")
	}
	for _, m := range cfg.Embedding.Models {
		resolved := m.Resolve(cfg.LLM)
		fmt.Printf("  %-28s dim=%-5d provider=%s\n", resolved.Name, resolved.Dimension, resolved.Provider)
	}

	fmt.Println()
	fmt.Println("Known LLM providers:")
	for name, url := range llm.KnownProviders {
		fmt.Printf("  %-10s %s\n", name, url)
	}
	fmt.Println("  custom     (set base_url to any OpenAI-compatible endpoint)")
	fmt.Println("  none       (ingest and query only; ask is unavailable)")
	fmt.Println()
	fmt.Println("Configure in sage.yaml or via environment:")
	fmt.Println("  SAGE_LLM_PROVIDER=groq")
	fmt.Println("  SAGE_LLM_API_KEY=gsk_...")
	fmt.Println("  SAGE_LLM_MODEL=llama-3.3-70b-versatile")
	return nil
}
