package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"vaultrag/internal/adapter/transport"
	"vaultrag/internal/domain"
)

type OpenAIEmbedder struct {
	client    *transport.Client
	apiKey    string
	model     string
	baseURL   string
	dimension int
	batchSize int
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIEmbedder(client *transport.Client, apiKeyEnv, model string, batchSize int) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(client, apiKeyEnv, model, "https://api.openai.com/v1", batchSize)
}

func NewOpenAICompatibleEmbedder(client *transport.Client, apiKeyEnv, model, baseURL string, batchSize int) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	dimension := 1536
	switch model {
	case "text-embedding-3-small":
		dimension = 1536
	case "text-embedding-3-large":
		dimension = 3072
	case "text-embedding-ada-002":
		dimension = 1536
	case "jina-embeddings-v3":
		dimension = 1024
	}

	return &OpenAIEmbedder{
		client:    client,
		apiKey:    apiKey,
		model:     model,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		dimension: dimension,
		batchSize: batchSize,
	}, nil
}

// Embed ignores the task type; OpenAI models embed queries and documents alike.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, _ domain.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	allEmbeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		embeddings, err := e.embedBatch(ctx, texts[i:end], i)
		if err != nil {
			return nil, err
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string, offset int) ([][]float32, error) {
	var embResp embeddingResponse
	headers := map[string]string{"Authorization": "Bearer " + e.apiKey}
	if err := e.client.PostJSON(ctx, e.baseURL+"/embeddings", headers, embeddingRequest{Input: texts, Model: e.model}, &embResp); err != nil {
		return nil, &domain.EmbeddingError{Index: -1, Err: err}
	}

	if embResp.Error != nil {
		return nil, &domain.EmbeddingError{Index: -1, Err: fmt.Errorf("API error: %s", embResp.Error.Message)}
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}
	for i, v := range embeddings {
		if len(v) == 0 {
			return nil, &domain.EmbeddingError{Index: offset + i, Err: errors.New("response contained no embedding")}
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// MockEmbedder produces deterministic unit vectors from the text's runes.
// Used for offline runs and tests.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) Embed(ctx context.Context, texts []string, _ domain.TaskType) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, e.dimension)
		for j, r := range []rune(texts[i]) {
			vec[j%e.dimension] += float32(r) / 1000.0
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			inv := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= inv
			}
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
