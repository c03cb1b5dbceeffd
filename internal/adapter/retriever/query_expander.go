package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vaultrag/internal/port"
)

// QueryExpander rewrites and expands questions with an LLM. It implements
// port.QueryPreprocessor; callers keep the original question on error.
type QueryExpander struct {
	llm             port.LLM
	maxAlternatives int
	hyde            *HyDERewriter
}

// NewQueryExpander creates an expander. A non-nil hyde replaces rephrasing
// with a hypothetical answer passage.
func NewQueryExpander(llm port.LLM, maxAlternatives int, hyde *HyDERewriter) *QueryExpander {
	if maxAlternatives <= 0 {
		maxAlternatives = 3
	}
	return &QueryExpander{llm: llm, maxAlternatives: maxAlternatives, hyde: hyde}
}

func (e *QueryExpander) RewriteQuery(ctx context.Context, query string) (string, error) {
	if e.hyde != nil {
		return e.hyde.Rewrite(ctx, query)
	}

	systemPrompt := `You rewrite questions for semantic search over a personal note collection.
Rewrite the user's question as one clear, self-contained search query.
Expand abbreviations and drop filler words. Output ONLY the rewritten query on a single line.`

	response, err := e.llm.GenerateWithSystem(ctx, systemPrompt, fmt.Sprintf("Question: %s", query))
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(response, "\n") {
		if line = cleanQueryLine(line); line != "" {
			return line, nil
		}
	}
	return "", errors.New("empty rewrite")
}

// GenerateAlternativeQueries returns up to maxAlternatives variants, none of
// them equal to the original question.
func (e *QueryExpander) GenerateAlternativeQueries(ctx context.Context, query string) ([]string, error) {
	systemPrompt := fmt.Sprintf(`You are a search query expansion assistant for a personal knowledge base.
Given a user's question, generate %d alternative search queries that might find relevant notes.
Focus on:
- Synonyms and related terms
- Different ways to phrase the same concept
- More specific or more general formulations

Output ONLY the alternative queries, one per line. Do not include explanations or numbering.`, e.maxAlternatives)

	userPrompt := fmt.Sprintf("Original query: %s\n\nGenerate alternative search queries:", query)

	response, err := e.llm.GenerateWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	queries := ParseQueryLines(response, query, e.maxAlternatives)
	if len(queries) == 0 {
		return nil, errors.New("no alternative queries in response")
	}
	return queries, nil
}

// ParseQueryLines extracts one query per line, dropping numbering, bullets,
// quotes, preamble lines ending in ':' and duplicates of the original.
func ParseQueryLines(response, original string, limit int) []string {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	var queries []string

	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ":") {
			continue
		}
		line = cleanQueryLine(trimmed)
		key := strings.ToLower(line)
		if line == "" || seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, line)
		if len(queries) == limit {
			break
		}
	}
	return queries
}

func cleanQueryLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*•> \t")
	// "1." / "2)" numbering
	if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
		line = line[i+1:]
	}
	line = strings.TrimSpace(line)
	line = strings.Trim(line, "\"'`")
	return strings.TrimSpace(line)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
