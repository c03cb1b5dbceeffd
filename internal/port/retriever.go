package port

import (
	"context"

	"vaultrag/internal/domain"
)

// Retriever defines the interface for searching indexed content.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]domain.RetrievedChunk, error)
}

// WebSearcher supplies web snippets for web and hybrid modes.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]domain.WebSnippet, error)
}
