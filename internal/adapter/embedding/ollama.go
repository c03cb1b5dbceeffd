package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"vaultrag/internal/adapter/transport"
	"vaultrag/internal/domain"
	"vaultrag/internal/logging"
)

// OllamaOptions configures an OllamaEmbedder.
type OllamaOptions struct {
	BaseURL        string
	APIPath        string
	Model          string
	Dimension      int // 0 = learn from the first response
	BatchSize      int
	MaxConcurrent  int
	DocumentPrefix string
	QueryPrefix    string
}

// OllamaEmbedder embeds one text per request against an Ollama-style
// endpoint. Texts are sent in waves of BatchSize with at most MaxConcurrent
// requests in flight.
type OllamaEmbedder struct {
	client    *transport.Client
	url       string
	opts      OllamaOptions
	dimension atomic.Int64
	logger    *slog.Logger
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding  []float32   `json:"embedding"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func NewOllamaEmbedder(client *transport.Client, opts OllamaOptions) *OllamaEmbedder {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.APIPath == "" {
		opts.APIPath = "/api/embeddings"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}

	e := &OllamaEmbedder{
		client: client,
		url:    strings.TrimSuffix(opts.BaseURL, "/") + opts.APIPath,
		opts:   opts,
		logger: logging.NewModuleLogger("embedding", "ollama"),
	}
	e.dimension.Store(int64(opts.Dimension))
	return e
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string, task domain.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prefix := e.opts.DocumentPrefix
	if task == domain.TaskQuery {
		prefix = e.opts.QueryPrefix
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(texts))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.MaxConcurrent)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := e.embedOne(gctx, prefix+texts[i])
				if err != nil {
					return &domain.EmbeddingError{Index: i, Err: err}
				}
				out[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		e.logger.Debug("embedded batch", "task", task.String(), "from", start, "to", end, "total", len(texts))
	}

	return out, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, prompt string) ([]float32, error) {
	var resp ollamaResponse
	if err := e.client.PostJSON(ctx, e.url, nil, ollamaRequest{Model: e.opts.Model, Prompt: prompt}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	vec := resp.Embedding
	if len(vec) == 0 && len(resp.Embeddings) > 0 {
		vec = resp.Embeddings[0]
	}
	if len(vec) == 0 {
		return nil, errors.New("response contained no embedding")
	}

	if !e.dimension.CompareAndSwap(0, int64(len(vec))) {
		if want := e.dimension.Load(); int64(len(vec)) != want {
			return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(vec), want)
		}
	}
	return vec, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return int(e.dimension.Load())
}

func (e *OllamaEmbedder) ModelName() string {
	return e.opts.Model
}
