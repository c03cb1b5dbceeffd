// Package llm is an OpenAI-compatible chat completion client used for query
// preprocessing and LLM reranking.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"vaultrag/internal/adapter/transport"
)

// Client provides a generic OpenAI-compatible LLM client
type Client struct {
	http        *transport.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int

	calls       atomic.Int64
	inputChars  atomic.Int64
	outputChars atomic.Int64
}

// Stats tracks LLM usage statistics
type Stats struct {
	TotalCalls       int64
	TotalInputChars  int64
	TotalOutputChars int64
}

// ChatMessage represents a message in the chat format
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient creates a client for baseURL (e.g. http://localhost:11434/v1).
// apiKeyEnv may be empty for local servers.
func NewClient(http *transport.Client, baseURL, model, apiKeyEnv string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("llm base_url is required")
	}
	var apiKey string
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found. Set %s environment variable", apiKeyEnv)
		}
	}

	return &Client{
		http:        http,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: 0.2,
		maxTokens:   1024,
	}, nil
}

// Chat sends a chat completion request
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	inputChars := 0
	for _, msg := range messages {
		inputChars += len(msg.Content)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp chatResponse
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if err := c.http.PostJSON(ctx, c.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from LLM")
	}

	output := resp.Choices[0].Message.Content

	c.calls.Add(1)
	c.inputChars.Add(int64(inputChars))
	c.outputChars.Add(int64(len(output)))

	return output, nil
}

// Stats returns the current LLM usage statistics
func (c *Client) Stats() Stats {
	return Stats{
		TotalCalls:       c.calls.Load(),
		TotalInputChars:  c.inputChars.Load(),
		TotalOutputChars: c.outputChars.Load(),
	}
}

// Generate implements single-turn generation
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []ChatMessage{{Role: "user", Content: prompt}})
}

// GenerateWithSystem implements generation with system prompt
func (c *Client) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.Chat(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
}

func (c *Client) ModelName() string {
	return c.model
}
