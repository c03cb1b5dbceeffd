package port

import "context"

// LLM represents a language model for text generation.
type LLM interface {
	// Generate generates text based on the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateWithSystem generates text with a system prompt.
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// QueryPreprocessor rewrites and expands questions before embedding. Callers
// fall back to the original question on any error.
type QueryPreprocessor interface {
	RewriteQuery(ctx context.Context, query string) (string, error)

	GenerateAlternativeQueries(ctx context.Context, query string) ([]string, error)
}
