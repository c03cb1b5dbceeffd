package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vaultrag/internal/port"
)

// HyDERewriter replaces a question with a hypothetical note passage that
// would answer it. The passage embeds closer to real notes than the bare
// question does.
type HyDERewriter struct {
	llm port.LLM
}

func NewHyDERewriter(llm port.LLM) *HyDERewriter {
	return &HyDERewriter{llm: llm}
}

func (r *HyDERewriter) Rewrite(ctx context.Context, query string) (string, error) {
	systemPrompt := `You are a note-taking assistant. Given a question, write a short passage
that might appear in a personal knowledge base and would answer the question.
Keep it concise (100-200 words max). Do not explain - just write the hypothetical note.`

	userPrompt := fmt.Sprintf("Question: %s\n\nWrite a hypothetical note that answers this:", query)

	passage, err := r.llm.GenerateWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate hypothetical: %w", err)
	}
	passage = strings.TrimSpace(passage)
	if passage == "" {
		return "", errors.New("empty hypothetical passage")
	}
	return passage, nil
}
