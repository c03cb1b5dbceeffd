package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"vaultrag/internal/domain"
)

// SnippetFile serves web snippets saved as a JSON array by an external
// search step. It ignores the query.
type SnippetFile struct {
	path string
}

func NewSnippetFile(path string) *SnippetFile {
	return &SnippetFile{path: path}
}

func (s *SnippetFile) Search(ctx context.Context, _ string) ([]domain.WebSnippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read web results: %w", err)
	}
	var snippets []domain.WebSnippet
	if err := json.Unmarshal(data, &snippets); err != nil {
		return nil, fmt.Errorf("parse web results %s: %w", s.path, err)
	}
	if snippets == nil {
		snippets = []domain.WebSnippet{}
	}
	return snippets, nil
}
