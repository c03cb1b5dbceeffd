package port

import (
	"context"

	"vaultrag/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in input order. A text that
	// yields no vector fails the whole call with *domain.EmbeddingError.
	Embed(ctx context.Context, texts []string, task domain.TaskType) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorStore stores chunk vectors and answers nearest-neighbor queries.
type VectorStore interface {
	// Search returns at most k results sorted by similarity descending.
	// Similarity is normalized into [0, 1].
	Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error)

	// Upsert adds or replaces chunks by id.
	Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error

	// DeleteByFilePath removes every chunk whose filePath metadata matches.
	DeleteByFilePath(ctx context.Context, filePath string) error

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}
