package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"vaultrag/internal/domain"
	"vaultrag/internal/logging"
	"vaultrag/internal/port"
)

var errNoVector = errors.New("no vector returned")

// RetrievalSettings is the snapshot read once at the start of every
// retrieval call.
type RetrievalSettings struct {
	domain.RetrievalConfig
	RerankingEnabled      bool
	QueryRewritingEnabled bool
	MultiQueryEnabled     bool
}

// RetrieveUseCase handles search and retrieval operations.
type RetrieveUseCase struct {
	embedder     port.Embedder
	vectors      port.VectorStore
	reranker     port.Reranker
	preprocessor port.QueryPreprocessor
	settings     atomic.Pointer[RetrievalSettings]
	logger       *slog.Logger
}

// NewRetrieveUseCase creates a new retrieve use case. reranker and
// preprocessor may be nil.
func NewRetrieveUseCase(
	embedder port.Embedder,
	vectors port.VectorStore,
	reranker port.Reranker,
	preprocessor port.QueryPreprocessor,
	settings RetrievalSettings,
) *RetrieveUseCase {
	u := &RetrieveUseCase{
		embedder:     embedder,
		vectors:      vectors,
		reranker:     reranker,
		preprocessor: preprocessor,
		logger:       logging.NewModuleLogger("usecase", "retrieve"),
	}
	u.settings.Store(&settings)
	return u
}

// UpdateSettings swaps the settings used by subsequent calls. Calls already
// in flight keep the snapshot they started with.
func (u *RetrieveUseCase) UpdateSettings(s RetrievalSettings) {
	u.settings.Store(&s)
}

func (u *RetrieveUseCase) Settings() RetrievalSettings {
	return *u.settings.Load()
}

// Retrieve returns at most DisplayK chunks relevant to question, best first.
// An empty question returns nothing without calling any service. Only a
// failure to embed or search the primary query is returned as an error, as
// a *domain.RetrievalError; rewriting, expansion and reranking fall back
// silently.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, question string) ([]domain.RetrievedChunk, error) {
	s := *u.settings.Load()

	query := strings.TrimSpace(question)
	if query == "" {
		return nil, nil
	}

	if s.QueryRewritingEnabled && u.preprocessor != nil {
		query = u.rewrite(ctx, query)
	}

	var alternatives []string
	if s.MultiQueryEnabled && u.preprocessor != nil {
		alternatives = u.alternatives(ctx, query)
	}

	primary, err := u.embedder.Embed(ctx, []string{query}, domain.TaskQuery)
	if err == nil && len(primary) != 1 {
		err = &domain.EmbeddingError{Index: 0, Err: errNoVector}
	}
	if err != nil {
		return nil, &domain.RetrievalError{Kind: domain.RetrievalEmbedFailed, Query: query, Err: err}
	}
	vectors := primary

	if len(alternatives) > 0 {
		alt, err := u.embedder.Embed(ctx, alternatives, domain.TaskQuery)
		if err != nil || len(alt) != len(alternatives) {
			u.logger.Warn("alternative query embedding failed, using primary query only", "error", err)
		} else {
			vectors = append(vectors, alt...)
		}
	}

	merged, err := u.searchAll(ctx, query, vectors, s.MaxK)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, nil
	}

	pool := max(s.TopK, s.DisplayK)
	if len(merged) > pool {
		merged = merged[:pool]
	}

	candidates := make([]domain.RetrievedChunk, len(merged))
	for i, r := range merged {
		candidates[i] = r.ToRetrieved()
	}

	if s.RerankingEnabled && u.reranker != nil {
		candidates = u.rerank(ctx, query, candidates)
	}

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Similarity >= s.SimilarityThreshold {
			filtered = append(filtered, c)
		}
	}
	domain.SortRetrieved(filtered)
	if len(filtered) > s.DisplayK {
		filtered = filtered[:s.DisplayK]
	}
	return filtered, nil
}

func (u *RetrieveUseCase) rewrite(ctx context.Context, query string) string {
	rewritten, err := u.preprocessor.RewriteQuery(ctx, query)
	if err != nil {
		u.logger.Warn("query rewrite failed, using original", "error", err)
		return query
	}
	if rewritten = strings.TrimSpace(rewritten); rewritten == "" {
		return query
	}
	return rewritten
}

func (u *RetrieveUseCase) alternatives(ctx context.Context, query string) []string {
	alts, err := u.preprocessor.GenerateAlternativeQueries(ctx, query)
	if err != nil {
		u.logger.Warn("query expansion failed, using single query", "error", err)
		return nil
	}
	seen := map[string]bool{strings.ToLower(query): true}
	out := make([]string, 0, len(alts))
	for _, a := range alts {
		a = strings.TrimSpace(a)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	return out
}

// searchAll runs one search per vector concurrently and merges the results in
// vector order, keeping the higher similarity for a chunk found twice. Only
// the first vector's search is required to succeed.
func (u *RetrieveUseCase) searchAll(ctx context.Context, query string, vectors [][]float32, k int) ([]domain.SearchResult, error) {
	results := make([][]domain.SearchResult, len(vectors))
	errs := make([]error, len(vectors))

	var g errgroup.Group
	for i, vec := range vectors {
		g.Go(func() error {
			results[i], errs[i] = u.vectors.Search(ctx, vec, k)
			return nil
		})
	}
	_ = g.Wait()

	if errs[0] != nil {
		return nil, &domain.RetrievalError{Kind: domain.RetrievalSearchFailed, Query: query, Err: errs[0]}
	}

	return mergeResults(results, errs, u.logger), nil
}

func mergeResults(results [][]domain.SearchResult, errs []error, logger *slog.Logger) []domain.SearchResult {
	byID := make(map[string]int)
	var merged []domain.SearchResult
	for i, rs := range results {
		if errs[i] != nil {
			logger.Warn("alternative query search failed", "variant", i, "error", errs[i])
			continue
		}
		for _, r := range rs {
			if at, ok := byID[r.Chunk.ID]; ok {
				if r.Similarity > merged[at].Similarity {
					merged[at] = r
				}
				continue
			}
			byID[r.Chunk.ID] = len(merged)
			merged = append(merged, r)
		}
	}
	domain.SortSearchResults(merged)
	return merged
}

func (u *RetrieveUseCase) rerank(ctx context.Context, query string, candidates []domain.RetrievedChunk) []domain.RetrievedChunk {
	reranked, err := u.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		u.logger.Warn("rerank failed, keeping vector order", "reranker", u.reranker.Name(), "error", err)
		return candidates
	}
	if !sameIDs(candidates, reranked) {
		u.logger.Warn("reranker changed the candidate set, keeping vector order", "reranker", u.reranker.Name())
		return candidates
	}
	return reranked
}

func sameIDs(a, b []domain.RetrievedChunk) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, c := range a {
		counts[c.ID]++
	}
	for _, c := range b {
		counts[c.ID]--
		if counts[c.ID] < 0 {
			return false
		}
	}
	return true
}
