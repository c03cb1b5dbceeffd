package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"vaultrag/internal/domain"
)

// Config holds all configuration for vaultrag.
type Config struct {
	Index       IndexConfig       `yaml:"index"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	HTTP        HTTPConfig        `yaml:"http"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Reranker    RerankerConfig    `yaml:"reranker"`
	LLM         LLMConfig         `yaml:"llm"`
	Memory      MemoryConfig      `yaml:"memory"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// IndexConfig holds vault walking configuration.
type IndexConfig struct {
	Includes         []string `yaml:"includes"`
	Excludes         []string `yaml:"excludes"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
}

// ChunkingConfig mirrors domain.ChunkingConfig.
type ChunkingConfig = domain.ChunkingConfig

// RetrievalConfig holds retrieval knobs and the runtime toggles.
type RetrievalConfig struct {
	TopK                  int     `yaml:"top_k"`
	MaxK                  int     `yaml:"max_k"`
	DisplayK              int     `yaml:"display_k"`
	SimilarityThreshold   float64 `yaml:"similarity_threshold"`
	RerankingEnabled      bool    `yaml:"reranking_enabled"`
	QueryRewritingEnabled bool    `yaml:"query_rewriting_enabled"`
	MultiQueryEnabled     bool    `yaml:"multi_query_enabled"`
	RewriteStrategy       string  `yaml:"rewrite_strategy"` // "rephrase", "hyde"
	MaxAlternativeQueries int     `yaml:"max_alternative_queries"`
}

// Domain returns the domain retrieval config.
func (r RetrievalConfig) Domain() domain.RetrievalConfig {
	return domain.RetrievalConfig{
		TopK:                r.TopK,
		MaxK:                r.MaxK,
		DisplayK:            r.DisplayK,
		SimilarityThreshold: r.SimilarityThreshold,
	}
}

// HTTPConfig is shared by every outbound HTTP client.
type HTTPConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider             string        `yaml:"provider"` // "ollama", "openai", "mock"
	Model                string        `yaml:"model"`
	BaseURL              string        `yaml:"base_url"`
	APIPath              string        `yaml:"api_path"`
	APIKeyEnv            string        `yaml:"api_key_env"`
	Dimension            int           `yaml:"dimension"`
	BatchSize            int           `yaml:"batch_size"`
	MaxConcurrentEmbeds  int           `yaml:"max_concurrent_embeds"`
	MaxConcurrentUpserts int           `yaml:"max_concurrent_upserts"`
	DocumentPrefix       string        `yaml:"document_prefix"`
	QueryPrefix          string        `yaml:"query_prefix"`
	CacheSize            int           `yaml:"cache_size"` // query embeddings kept in memory (0 = off)
	CacheTTL             time.Duration `yaml:"cache_ttl"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	Backend          string `yaml:"backend"` // "bolt", "qdrant", "pgvector", "memory"
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection"`
	QdrantAPIKeyEnv  string `yaml:"qdrant_api_key_env"`
	PostgresDSNEnv   string `yaml:"postgres_dsn_env"`
	PostgresTable    string `yaml:"postgres_table"`
}

// RerankerConfig holds reranker configuration.
type RerankerConfig struct {
	Strategy  string `yaml:"strategy"` // "none", "lexical", "llm", "cohere"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxChars  int    `yaml:"max_chars"` // per-candidate text in the LLM prompt
}

// LLMConfig configures the OpenAI-compatible chat endpoint used for query
// preprocessing and LLM reranking.
type LLMConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// MemoryConfig holds conversation memory configuration.
type MemoryConfig struct {
	MaxMessages int    `yaml:"max_messages"`
	MaxChars    int    `yaml:"max_chars"`
	DBPath      string `yaml:"db_path"` // empty = .vaultrag/history.db in the vault
}

// Policy returns the domain memory policy.
func (m MemoryConfig) Policy() domain.ConversationMemoryPolicy {
	return domain.ConversationMemoryPolicy{MaxMessages: m.MaxMessages, MaxChars: m.MaxChars}
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Includes:         []string{"**/*.md", "**/*.txt", "**/*.markdown", "**/*.org"},
			Excludes:         []string{"**/.git/**", "**/.obsidian/**", "**/.trash/**", "**/.vaultrag/**", "**/node_modules/**"},
			RespectGitignore: true,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  400,
			MinTokens:     100,
			MaxTokens:     600,
			OverlapTokens: 50,
			CharsPerToken: 4,
		},
		Retrieval: RetrievalConfig{
			TopK:                  10,
			MaxK:                  20,
			DisplayK:              5,
			SimilarityThreshold:   0.25,
			RerankingEnabled:      false,
			QueryRewritingEnabled: false,
			MultiQueryEnabled:     false,
			RewriteStrategy:       "rephrase",
			MaxAlternativeQueries: 3,
		},
		HTTP: HTTPConfig{
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxRetries:     2,
			RetryDelay:     500 * time.Millisecond,
		},
		Embedding: EmbeddingConfig{
			Provider:             "ollama",
			Model:                "nomic-embed-text",
			BaseURL:              "http://localhost:11434",
			APIPath:              "/api/embeddings",
			APIKeyEnv:            "OPENAI_API_KEY",
			Dimension:            768,
			BatchSize:            32,
			MaxConcurrentEmbeds:  4,
			MaxConcurrentUpserts: 2,
			DocumentPrefix:       "search_document: ",
			QueryPrefix:          "search_query: ",
			CacheSize:            256,
			CacheTTL:             10 * time.Minute,
		},
		VectorStore: VectorStoreConfig{
			Backend:          "bolt",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "vaultrag_chunks",
			QdrantAPIKeyEnv:  "QDRANT_API_KEY",
			PostgresDSNEnv:   "VAULTRAG_POSTGRES_DSN",
			PostgresTable:    "vaultrag_chunks",
		},
		Reranker: RerankerConfig{
			Strategy:  "llm",
			Model:     "rerank-english-v3.0",
			BaseURL:   "https://api.cohere.ai/v1",
			APIKeyEnv: "COHERE_API_KEY",
			MaxChars:  500,
		},
		LLM: LLMConfig{
			BaseURL:   "http://localhost:11434/v1",
			Model:     "llama3.1",
			APIKeyEnv: "",
		},
		Memory: MemoryConfig{
			MaxMessages: 20,
			MaxChars:    8000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate enforces the chunking and retrieval invariants.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Chunking.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chunking: %w", err))
	}
	if err := c.Retrieval.Domain().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retrieval: %w", err))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding: %w: batch_size must be positive", domain.ErrInvalidConfig))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("http: %w: max_retries must not be negative", domain.ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for vaultrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "vaultrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".vaultrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DataDir returns the per-vault data directory.
func DataDir(vault string) string {
	return filepath.Join(vault, ".vaultrag")
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(vault string) string {
	return filepath.Join(DataDir(vault), "index.db")
}

// HistoryDBPath returns the conversation history database path.
func (c *Config) HistoryDBPath(vault string) string {
	if c.Memory.DBPath != "" {
		return c.Memory.DBPath
	}
	return filepath.Join(DataDir(vault), "history.db")
}

// EnsureDataDir ensures the .vaultrag directory exists.
func EnsureDataDir(vault string) error {
	return os.MkdirAll(DataDir(vault), 0755)
}
