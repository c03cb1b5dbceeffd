package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"vaultrag/config"
	"vaultrag/internal/adapter/cache"
	"vaultrag/internal/adapter/chunker"
	"vaultrag/internal/adapter/embedding"
	"vaultrag/internal/adapter/llm"
	"vaultrag/internal/adapter/memstore"
	"vaultrag/internal/adapter/retriever"
	"vaultrag/internal/adapter/sqlite"
	"vaultrag/internal/adapter/store"
	"vaultrag/internal/adapter/transport"
	"vaultrag/internal/adapter/vectordb"
	"vaultrag/internal/port"
	"vaultrag/internal/usecase"
)

// app is the composition root for one vault. Every adapter is constructed
// here once and handed to the use cases as a port.
type app struct {
	cfg   *config.Config
	vault string

	http     *transport.Client
	bolt     *store.BoltStore
	metadata port.MetadataStore
	vectors  port.VectorStore
	embedder port.Embedder
	llm      port.LLM

	closers []func() error
}

func openApp(ctx context.Context, cfg *config.Config, vault string) (*app, error) {
	a := &app{
		cfg:   cfg,
		vault: vault,
		http: transport.New(transport.Options{
			ConnectTimeout: cfg.HTTP.ConnectTimeout,
			ReadTimeout:    cfg.HTTP.ReadTimeout,
			WriteTimeout:   cfg.HTTP.WriteTimeout,
			MaxRetries:     cfg.HTTP.MaxRetries,
			RetryDelay:     cfg.HTTP.RetryDelay,
		}),
	}

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	embedder, err := newEmbedder(a.http, a.cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	a.embedder = embedder

	if err := config.EnsureDataDir(a.vault); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	a.bolt, err = store.NewBoltStore(config.IndexDBPath(a.vault))
	if err != nil {
		return fmt.Errorf("failed to open index store: %w", err)
	}
	a.closers = append(a.closers, a.bolt.Close)
	a.metadata = a.bolt

	vs := a.cfg.VectorStore
	switch vs.Backend {
	case "", "bolt":
		a.vectors, err = store.NewBoltVectorStore(a.bolt.DB(), a.embedder.Dimension())
	case "memory":
		// Vectors do not outlive the process, so neither may the hashes.
		mem := memstore.NewMemoryStore()
		a.vectors, a.metadata = mem, mem
	case "qdrant":
		var q *vectordb.QdrantStore
		q, err = vectordb.NewQdrantStore(ctx, vectordb.QdrantOptions{
			Host:       vs.QdrantHost,
			Port:       vs.QdrantPort,
			APIKey:     envOrEmpty(vs.QdrantAPIKeyEnv),
			Collection: vs.QdrantCollection,
			Dimension:  a.embedder.Dimension(),
		})
		if err == nil {
			a.vectors = q
			a.closers = append(a.closers, q.Close)
		}
	case "pgvector":
		dsn := envOrEmpty(vs.PostgresDSNEnv)
		if dsn == "" {
			return fmt.Errorf("postgres DSN not found. Set %s environment variable", vs.PostgresDSNEnv)
		}
		var pg *vectordb.PostgresStore
		pg, err = vectordb.NewPostgresStore(ctx, dsn, vs.PostgresTable, a.embedder.Dimension())
		if err == nil {
			a.vectors = pg
			a.closers = append(a.closers, pg.Close)
		}
	default:
		return fmt.Errorf("unsupported vector store backend: %s", vs.Backend)
	}
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	return nil
}

func newEmbedder(http *transport.Client, ec config.EmbeddingConfig) (port.Embedder, error) {
	var embedder port.Embedder
	var err error

	switch ec.Provider {
	case "ollama":
		embedder = embedding.NewOllamaEmbedder(http, embedding.OllamaOptions{
			BaseURL:        ec.BaseURL,
			APIPath:        ec.APIPath,
			Model:          ec.Model,
			Dimension:      ec.Dimension,
			BatchSize:      ec.BatchSize,
			MaxConcurrent:  ec.MaxConcurrentEmbeds,
			DocumentPrefix: ec.DocumentPrefix,
			QueryPrefix:    ec.QueryPrefix,
		})
	case "openai":
		if ec.BaseURL != "" {
			embedder, err = embedding.NewOpenAICompatibleEmbedder(http, ec.APIKeyEnv, ec.Model, ec.BaseURL, ec.BatchSize)
		} else {
			embedder, err = embedding.NewOpenAIEmbedder(http, ec.APIKeyEnv, ec.Model, ec.BatchSize)
		}
	case "mock":
		embedder = embedding.NewMockEmbedder(ec.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}
	if err != nil {
		return nil, err
	}

	if ec.CacheSize > 0 {
		embedder = cache.NewQueryEmbeddingCache(embedder, ec.CacheSize, ec.CacheTTL)
	}
	return embedder, nil
}

// chatModel returns the shared LLM client, creating it on first use.
func (a *app) chatModel() (port.LLM, error) {
	if a.llm != nil {
		return a.llm, nil
	}
	client, err := llm.NewClient(a.http, a.cfg.LLM.BaseURL, a.cfg.LLM.Model, a.cfg.LLM.APIKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.llm = client
	return client, nil
}

func (a *app) indexUseCase(progress usecase.ProgressFunc) (*usecase.IndexUseCase, error) {
	chk, err := chunker.NewTokenChunker(a.cfg.Chunking)
	if err != nil {
		return nil, err
	}
	return usecase.NewIndexUseCase(
		usecase.NewVaultIndexCache(a.metadata),
		chk,
		a.embedder,
		a.vectors,
		usecase.IndexOptions{
			UpsertBatchSize:      a.cfg.Embedding.BatchSize,
			MaxConcurrentUpserts: a.cfg.Embedding.MaxConcurrentUpserts,
			Progress:             progress,
		},
	), nil
}

func (a *app) retrieveUseCase() (*usecase.RetrieveUseCase, error) {
	rc := a.cfg.Retrieval

	var pre port.QueryPreprocessor
	if rc.QueryRewritingEnabled || rc.MultiQueryEnabled {
		model, err := a.chatModel()
		if err != nil {
			return nil, err
		}
		var hyde *retriever.HyDERewriter
		if rc.RewriteStrategy == "hyde" {
			hyde = retriever.NewHyDERewriter(model)
		}
		pre = retriever.NewQueryExpander(model, rc.MaxAlternativeQueries, hyde)
	}

	var rr port.Reranker
	if rc.RerankingEnabled {
		var err error
		rr, err = a.reranker()
		if err != nil {
			return nil, err
		}
	}

	return usecase.NewRetrieveUseCase(a.embedder, a.vectors, rr, pre, retrievalSettings(rc)), nil
}

func (a *app) reranker() (port.Reranker, error) {
	rc := a.cfg.Reranker
	switch rc.Strategy {
	case "", "none":
		return retriever.NoopReranker{}, nil
	case "lexical":
		return retriever.NewLexicalReranker(), nil
	case "llm":
		model, err := a.chatModel()
		if err != nil {
			return nil, err
		}
		return retriever.NewLLMReranker(model, rc.MaxChars), nil
	case "cohere":
		return retriever.NewCohereReranker(a.http, rc.APIKeyEnv, rc.Model, rc.BaseURL)
	}
	return nil, fmt.Errorf("unsupported reranker strategy: %s", rc.Strategy)
}

func retrievalSettings(rc config.RetrievalConfig) usecase.RetrievalSettings {
	return usecase.RetrievalSettings{
		RetrievalConfig:       rc.Domain(),
		RerankingEnabled:      rc.RerankingEnabled,
		QueryRewritingEnabled: rc.QueryRewritingEnabled,
		MultiQueryEnabled:     rc.MultiQueryEnabled,
	}
}

// openHistory opens the sqlite conversation store for the vault.
func openHistory(ctx context.Context, cfg *config.Config, vault string) (*sqlite.ConversationStore, error) {
	st, err := sqlite.OpenConversationStore(ctx, cfg.HistoryDBPath(vault))
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation history: %w", err)
	}
	return st, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
