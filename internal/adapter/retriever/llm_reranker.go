package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"vaultrag/internal/domain"
	"vaultrag/internal/logging"
	"vaultrag/internal/port"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// LLMReranker asks a chat model to score each candidate in [0, 1] and
// reorders by that score.
type LLMReranker struct {
	llm      port.LLM
	maxChars int
}

func NewLLMReranker(llm port.LLM, maxChars int) *LLMReranker {
	if maxChars <= 0 {
		maxChars = 500
	}
	return &LLMReranker{llm: llm, maxChars: maxChars}
}

func (r *LLMReranker) Name() string {
	return "llm"
}

// Rerank returns the candidates ordered by model score. Candidates the model
// did not score keep their vector similarity. A response with no usable
// scores leaves the input untouched.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []domain.RetrievedChunk) ([]domain.RetrievedChunk, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	systemPrompt := `You are a relevance judge for a personal note search engine.
Score how well each passage answers the question, from 0.0 (irrelevant) to 1.0 (directly answers it).
Respond ONLY with a JSON object mapping passage id to score, e.g. {"a1b2": 0.8, "c3d4": 0.1}.`

	response, err := r.llm.GenerateWithSystem(ctx, systemPrompt, r.buildPrompt(query, candidates))
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	scores, err := ParseRelevanceScores(response)
	if err != nil {
		logger := logging.NewModuleLogger("retriever", "llm-rerank")
		logger.Warn("unparseable rerank response", "error", err)
		return candidates, nil
	}
	return applyScores(candidates, scores), nil
}

func (r *LLMReranker) buildPrompt(query string, candidates []domain.RetrievedChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPassages:\n", query)
	for _, c := range candidates {
		text := c.Text
		if runes := []rune(text); len(runes) > r.maxChars {
			text = string(runes[:r.maxChars]) + "..."
		}
		fmt.Fprintf(&b, "\n[id=%s]", c.ID)
		if meta := flattenMetadata(c.Metadata); meta != "" {
			fmt.Fprintf(&b, " (%s)", meta)
		}
		fmt.Fprintf(&b, "\n%s\n", text)
	}
	return b.String()
}

func flattenMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, "; ")
}

// ParseRelevanceScores extracts an id-to-score object from a model response.
// It tolerates prose around the object, trailing commas and numbers encoded
// as strings. Scores are clamped into [0, 1].
func ParseRelevanceScores(response string) (map[string]float64, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in response")
	}
	raw := trailingComma.ReplaceAllString(response[start:end+1], "$1")

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}

	scores := make(map[string]float64, len(decoded))
	for id, v := range decoded {
		var f float64
		switch val := v.(type) {
		case float64:
			f = val
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		scores[id] = domain.NormalizeSimilarity(f)
	}
	return scores, nil
}

func applyScores(candidates []domain.RetrievedChunk, scores map[string]float64) []domain.RetrievedChunk {
	if len(scores) == 0 {
		return candidates
	}
	out := make([]domain.RetrievedChunk, len(candidates))
	for i, c := range candidates {
		if s, ok := scores[c.ID]; ok {
			c.Similarity = s
		}
		out[i] = c
	}
	domain.SortRetrieved(out)
	return out
}
