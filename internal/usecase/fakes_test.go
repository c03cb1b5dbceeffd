package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vaultrag/internal/domain"
)

// paragraphChunker emits one chunk per blank-line separated paragraph.
type paragraphChunker struct{}

func (paragraphChunker) Chunk(filePath, content string) []domain.Chunk {
	var chunks []domain.Chunk
	for i, p := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ID:       fmt.Sprintf("%s#%d", filePath, i),
			Text:     p,
			Metadata: map[string]string{domain.MetaFilePath: filePath},
		})
	}
	return chunks
}

// recordingEmbedder returns a fixed vector per text and records every text it
// was asked to embed.
type recordingEmbedder struct {
	mu       sync.Mutex
	texts    []string
	calls    int
	failWith string
	delay    time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (e *recordingEmbedder) Embed(ctx context.Context, texts []string, _ domain.TaskType) ([][]float32, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.calls++
	e.texts = append(e.texts, texts...)
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.failWith != "" && strings.Contains(t, e.failWith) {
			return nil, &domain.EmbeddingError{Index: i, Err: errors.New("no vector")}
		}
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *recordingEmbedder) Dimension() int    { return 2 }
func (e *recordingEmbedder) ModelName() string { return "recording" }

func (e *recordingEmbedder) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = nil
	e.calls = 0
}

func (e *recordingEmbedder) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

// scriptedEmbedder maps each known text to a one-element vector carrying a
// key that scriptedVectors uses to pick results.
type scriptedEmbedder struct {
	mu    sync.Mutex
	keys  map[string]float32
	err   error
	texts []string
}

func (e *scriptedEmbedder) Embed(_ context.Context, texts []string, task domain.TaskType) ([][]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, texts...)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	if task != domain.TaskQuery {
		return nil, errors.New("expected query task")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		k, ok := e.keys[t]
		if !ok {
			return nil, &domain.EmbeddingError{Index: i, Err: fmt.Errorf("unknown text %q", t)}
		}
		out[i] = []float32{k}
	}
	return out, nil
}

func (e *scriptedEmbedder) Dimension() int    { return 1 }
func (e *scriptedEmbedder) ModelName() string { return "scripted" }

type scriptedVectors struct {
	mu       sync.Mutex
	results  map[float32][]domain.SearchResult
	errs     map[float32]error
	searches int
	lastK    int
}

func (v *scriptedVectors) Search(_ context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.searches++
	v.lastK = k
	key := vector[0]
	if err := v.errs[key]; err != nil {
		return nil, err
	}
	rs := v.results[key]
	if len(rs) > k {
		rs = rs[:k]
	}
	return append([]domain.SearchResult(nil), rs...), nil
}

func (v *scriptedVectors) Upsert(context.Context, []domain.EmbeddedChunk) error { return nil }
func (v *scriptedVectors) DeleteByFilePath(context.Context, string) error       { return nil }
func (v *scriptedVectors) Count(context.Context) (int, error)                   { return 0, nil }

func result(id string, sim float64) domain.SearchResult {
	return domain.SearchResult{
		Chunk:      domain.Chunk{ID: id, Text: "text " + id, Metadata: map[string]string{domain.MetaFilePath: id + ".md"}},
		Similarity: sim,
	}
}

type fakePreprocessor struct {
	rewrite    string
	rewriteErr error
	alts       []string
	altsErr    error
}

func (p *fakePreprocessor) RewriteQuery(context.Context, string) (string, error) {
	return p.rewrite, p.rewriteErr
}

func (p *fakePreprocessor) GenerateAlternativeQueries(context.Context, string) ([]string, error) {
	return p.alts, p.altsErr
}

// funcReranker adapts a function to port.Reranker.
type funcReranker func([]domain.RetrievedChunk) ([]domain.RetrievedChunk, error)

func (f funcReranker) Rerank(_ context.Context, _ string, c []domain.RetrievedChunk) ([]domain.RetrievedChunk, error) {
	return f(c)
}

func (f funcReranker) Name() string { return "func" }

func ids(chunks []domain.RetrievedChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}
