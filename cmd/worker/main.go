package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/sage/internal/chunker"
	"github.com/efebarandurmaz/sage/internal/config"
	"github.com/efebarandurmaz/sage/internal/embed"
	"github.com/efebarandurmaz/sage/internal/graph"
	neo4jgraph "github.com/efebarandurmaz/sage/internal/graph/neo4j"
	"github.com/efebarandurmaz/sage/internal/ingest"
	"github.com/efebarandurmaz/sage/internal/llm"
	"github.com/efebarandurmaz/sage/internal/llm/openai"
	"github.com/efebarandurmaz/sage/internal/observability"
	"github.com/efebarandurmaz/sage/internal/secrets"
	"github.com/efebarandurmaz/sage/internal/server"
	"github.com/efebarandurmaz/sage/internal/temporal"
	"github.com/efebarandurmaz/sage/internal/vector"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sage-worker",
		Short: "Temporal worker running scheduled corpus ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "configs/sage.yaml", "Config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	if err := secrets.Init(secretsConfig(cfg)); err != nil {
		return fmt.Errorf("initializing secrets: %w", err)
	}
	cfg.LLM.APIKey = secrets.Resolve(ctx, secrets.SecretLLMAPIKey, cfg.LLM.APIKey)
	cfg.Graph.Password = secrets.Resolve(ctx, secrets.SecretGraphPassword, cfg.Graph.Password)

	tracer, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  cfg.Observability.ServiceName,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	if cfg.Observability.AuditLog != "" {
		if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Observability.AuditLog,
		}); err != nil {
			return fmt.Errorf("initializing audit log: %w", err)
		}
	}

	factory := llm.NewFactory()
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	factory.Register("custom", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})

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

	store, err := vector.NewQdrant(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
	if err != nil {
		return fmt.Errorf("connecting to vector store: %w", err)
	}

	var lineage graph.Lineage
	if cfg.Graph.Enabled {
		ls, err := neo4jgraph.New(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
		if err != nil {
			slog.Warn("lineage store unavailable, continuing without it", "error", err)
		} else {
			lineage = ls
		}
	}

	pipeline := ingest.NewPipeline(ingest.Config{
		CorpusDir:      cfg.Corpus.Dir,
		ManifestPath:   cfg.Corpus.ManifestPath,
		SparseArtifact: cfg.Corpus.SparseArtifact,
		Subject:        cfg.Corpus.Subject,
		Models:         cfg.ModelNames(),
	}, chunker.New(chunker.DefaultConfig()), store, registry, lineage)
	temporal.SetDependencies(&temporal.Dependencies{Pipeline: pipeline})

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("connecting to temporal: %w", err)
	}

	w, err := temporal.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		c.Close()
		return err
	}
	observability.Metrics().ActiveWorkers.Inc()

	g := server.NewGracefulServer(&server.HealthConfig{Version: "1.0.0"}, server.DefaultShutdownConfig())
	g.Health.RegisterCheck("vector-store", server.VectorStoreHealthChecker(store.Health))
	g.Health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &client.CheckHealthRequest{})
		return err
	}))
	g.Health.RegisterCheck("sparse-artifact", server.SparseArtifactHealthChecker(func(ctx context.Context) error {
		_, err := os.Stat(cfg.Corpus.SparseArtifact)
		return err
	}))
	g.Health.Mount("/metrics", observability.Metrics().Handler())

	g.RegisterHook("worker", 10, func(ctx context.Context) error {
		w.Stop()
		observability.Metrics().ActiveWorkers.Dec()
		return nil
	})
	g.RegisterHook("temporal-client", 20, func(ctx context.Context) error {
		c.Close()
		return nil
	})
	if lineage != nil {
		g.RegisterHook("lineage", 30, func(ctx context.Context) error {
			return lineage.Close(ctx)
		})
	}
	g.RegisterHook("vector-store", 40, func(ctx context.Context) error {
		return store.Close()
	})
	g.RegisterHook("tracing", 50, func(ctx context.Context) error {
		return tracer.Shutdown(ctx)
	})
	g.RegisterHook("audit", 60, func(ctx context.Context) error {
		return observability.Audit().Close()
	})

	if err := g.Start(cfg.Server.Addr); err != nil {
		return err
	}
	slog.Info("worker started",
		"task_queue", cfg.Temporal.TaskQueue,
		"namespace", cfg.Temporal.Namespace,
		"http", cfg.Server.Addr)

	g.Wait()
	slog.Info("worker stopped")
	return nil
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
