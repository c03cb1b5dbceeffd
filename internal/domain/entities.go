package domain

import (
	"fmt"
	"strings"
	"time"
)

// Metadata keys populated by the chunker and consumed by prompt assembly.
const (
	MetaFilePath     = "filePath"
	MetaSectionTitle = "sectionTitle"
	MetaStartLine    = "startLine"
	MetaEndLine      = "endLine"
	MetaChunkIndex   = "chunkIndex"
)

type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// FilePath returns the source file the chunk was cut from.
func (c Chunk) FilePath() string {
	return c.Metadata[MetaFilePath]
}

// EmbeddedChunk is a chunk paired with its document vector, ready for upsert.
type EmbeddedChunk struct {
	Chunk  Chunk
	Vector []float32
}

type SearchResult struct {
	Chunk      Chunk
	Similarity float64
}

// RetrievedChunk is the projection of a SearchResult handed to rerankers and
// prompt assembly.
type RetrievedChunk struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ToRetrieved projects a search result.
func (r SearchResult) ToRetrieved() RetrievedChunk {
	return RetrievedChunk{
		ID:         r.Chunk.ID,
		Text:       r.Chunk.Text,
		Similarity: r.Similarity,
		Metadata:   r.Chunk.Metadata,
	}
}

// VaultIndexMetadata records what has been indexed for one vault. Hashes are
// keyed by vault-relative path.
type VaultIndexMetadata struct {
	VaultPath         string            `json:"vault_path"`
	LastIndexedTime   time.Time         `json:"last_indexed_time"`
	IndexedFileHashes map[string]string `json:"indexed_file_hashes"`
}

// Clone returns a deep copy so callers can mutate the hash map freely.
func (m *VaultIndexMetadata) Clone() *VaultIndexMetadata {
	if m == nil {
		return nil
	}
	hashes := make(map[string]string, len(m.IndexedFileHashes))
	for k, v := range m.IndexedFileHashes {
		hashes[k] = v
	}
	return &VaultIndexMetadata{
		VaultPath:         m.VaultPath,
		LastIndexedTime:   m.LastIndexedTime,
		IndexedFileHashes: hashes,
	}
}

// NewVaultIndexMetadata returns empty metadata for a vault that was never indexed.
func NewVaultIndexMetadata(vaultPath string) *VaultIndexMetadata {
	return &VaultIndexMetadata{
		VaultPath:         vaultPath,
		IndexedFileHashes: make(map[string]string),
	}
}

type ChunkingConfig struct {
	TargetTokens  int     `yaml:"target_tokens"`
	MinTokens     int     `yaml:"min_tokens"`
	MaxTokens     int     `yaml:"max_tokens"`
	OverlapTokens int     `yaml:"overlap_tokens"`
	CharsPerToken float64 `yaml:"chars_per_token"`
}

// Validate checks min <= target <= max and overlap < target.
func (c ChunkingConfig) Validate() error {
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("%w: chars_per_token must be positive", ErrInvalidConfig)
	}
	if c.MinTokens <= 0 {
		return fmt.Errorf("%w: min_tokens must be positive", ErrInvalidConfig)
	}
	if c.MinTokens > c.TargetTokens || c.TargetTokens > c.MaxTokens {
		return fmt.Errorf("%w: require min_tokens <= target_tokens <= max_tokens (got %d, %d, %d)",
			ErrInvalidConfig, c.MinTokens, c.TargetTokens, c.MaxTokens)
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.TargetTokens {
		return fmt.Errorf("%w: overlap_tokens must be in [0, target_tokens)", ErrInvalidConfig)
	}
	return nil
}

type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	MaxK                int     `yaml:"max_k"`
	DisplayK            int     `yaml:"display_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

func (c RetrievalConfig) Validate() error {
	if c.MaxK <= 0 || c.DisplayK <= 0 {
		return fmt.Errorf("%w: max_k and display_k must be positive", ErrInvalidConfig)
	}
	if c.DisplayK > c.MaxK {
		return fmt.Errorf("%w: display_k (%d) exceeds max_k (%d)", ErrInvalidConfig, c.DisplayK, c.MaxK)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// ConversationMemoryPolicy bounds the chat history forwarded to the generator.
// A non-positive value disables that bound.
type ConversationMemoryPolicy struct {
	MaxMessages int `yaml:"max_messages"`
	MaxChars    int `yaml:"max_chars"`
}

type TaskType int

const (
	TaskDocument TaskType = iota
	TaskQuery
)

func (t TaskType) String() string {
	if t == TaskQuery {
		return "query"
	}
	return "document"
}

type RetrievalMode string

const (
	ModeNone   RetrievalMode = "none"
	ModeLocal  RetrievalMode = "local"
	ModeWeb    RetrievalMode = "web"
	ModeHybrid RetrievalMode = "hybrid"
)

// ParseRetrievalMode accepts the mode names case-insensitively.
func ParseRetrievalMode(s string) (RetrievalMode, error) {
	switch RetrievalMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNone:
		return ModeNone, nil
	case ModeLocal, "":
		return ModeLocal, nil
	case ModeWeb:
		return ModeWeb, nil
	case ModeHybrid:
		return ModeHybrid, nil
	}
	return "", fmt.Errorf("unknown retrieval mode: %q", s)
}

// UsesLocal reports whether the mode needs vault retrieval.
func (m RetrievalMode) UsesLocal() bool {
	return m == ModeLocal || m == ModeHybrid
}

// UsesWeb reports whether the mode needs web snippets.
func (m RetrievalMode) UsesWeb() bool {
	return m == ModeWeb || m == ModeHybrid
}

type WebSnippet struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// HybridContext is the pair of context lists handed to the prompt builder.
type HybridContext struct {
	Mode  RetrievalMode    `json:"mode"`
	Local []RetrievedChunk `json:"local"`
	Web   []WebSnippet     `json:"web"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
