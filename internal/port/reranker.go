package port

import (
	"context"

	"vaultrag/internal/domain"
)

// Reranker reorders candidates by relevance to the query. The result holds
// exactly the input ids; Similarity carries the reranker's relevance score.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RetrievedChunk) ([]domain.RetrievedChunk, error)

	// Name identifies the strategy in logs.
	Name() string
}
