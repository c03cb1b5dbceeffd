package retriever

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"vaultrag/internal/adapter/transport"
	"vaultrag/internal/domain"
)

const defaultCohereURL = "https://api.cohere.ai/v1"

// CohereReranker implements cross-encoder reranking using Cohere's API.
type CohereReranker struct {
	http    *transport.Client
	baseURL string
	apiKey  string
	model   string
}

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// NewCohereReranker creates a new Cohere reranker. An empty baseURL targets
// the public API.
func NewCohereReranker(http *transport.Client, apiKeyEnv, model, baseURL string) (*CohereReranker, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if model == "" {
		model = "rerank-english-v3.0"
	}
	if baseURL == "" {
		baseURL = defaultCohereURL
	}

	return &CohereReranker{
		http:    http,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}, nil
}

func (r *CohereReranker) Name() string {
	return "cohere:" + r.model
}

// Rerank scores every candidate. Candidates missing from the response keep
// their vector similarity.
func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []domain.RetrievedChunk) ([]domain.RetrievedChunk, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	// Cohere has a limit of 1000 documents per request
	const maxDocs = 1000
	scored := candidates
	if len(scored) > maxDocs {
		scored = scored[:maxDocs]
	}

	docs := make([]string, len(scored))
	for i, c := range scored {
		docs[i] = c.Text
	}

	req := cohereRerankRequest{Query: query, Documents: docs, Model: r.model}
	headers := map[string]string{"Authorization": "Bearer " + r.apiKey}

	var resp cohereRerankResponse
	if err := r.http.PostJSON(ctx, r.baseURL+"/rerank", headers, req, &resp); err != nil {
		return nil, fmt.Errorf("cohere rerank: %w", err)
	}

	scores := make(map[string]float64, len(resp.Results))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(scored) {
			continue
		}
		scores[scored[res.Index].ID] = domain.NormalizeSimilarity(res.RelevanceScore)
	}
	return applyScores(candidates, scores), nil
}

// LexicalReranker scores candidates by the fraction of query terms they
// contain. It needs no external service.
type LexicalReranker struct{}

func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

func (r *LexicalReranker) Name() string {
	return "lexical"
}

func (r *LexicalReranker) Rerank(_ context.Context, query string, candidates []domain.RetrievedChunk) ([]domain.RetrievedChunk, error) {
	queryTerms := tokenizeSimple(query)
	if len(queryTerms) == 0 || len(candidates) == 0 {
		return candidates, nil
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.ID] = calculateTermOverlap(queryTerms, c.Text)
	}
	return applyScores(candidates, scores), nil
}

// NoopReranker keeps the vector order.
type NoopReranker struct{}

func (NoopReranker) Name() string {
	return "none"
}

func (NoopReranker) Rerank(_ context.Context, _ string, candidates []domain.RetrievedChunk) ([]domain.RetrievedChunk, error) {
	return candidates, nil
}

// tokenizeSimple lowercases and splits on anything that is not a letter,
// digit or underscore. Terms shorter than two runes are dropped.
func tokenizeSimple(text string) map[string]int {
	terms := make(map[string]int)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			terms[f]++
		}
	}
	return terms
}

// calculateTermOverlap calculates overlap between query terms and document.
func calculateTermOverlap(queryTerms map[string]int, doc string) float64 {
	docTerms := tokenizeSimple(doc)
	if len(docTerms) == 0 {
		return 0
	}

	matches := 0
	for term := range queryTerms {
		if _, exists := docTerms[term]; exists {
			matches++
		}
	}

	return float64(matches) / float64(len(queryTerms))
}
