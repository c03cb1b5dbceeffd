package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultrag/internal/adapter/transport"
)

func newTransport() *transport.Client {
	return transport.New(transport.Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second})
}

func TestClient_GenerateWithSystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "llama3.1", req.Model)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(newTransport(), srv.URL+"/v1/", "llama3.1", "")
	require.NoError(t, err)

	out, err := c.GenerateWithSystem(context.Background(), "be terse", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(len("be terse")+len("ping")), stats.TotalInputChars)
	assert.Equal(t, int64(4), stats.TotalOutputChars)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(newTransport(), srv.URL, "x", "")
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "hi")
	assert.ErrorContains(t, err, "model not found")
}

func TestClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(newTransport(), srv.URL, "x", "")
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "hi")
	assert.Error(t, err)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(newTransport(), "", "x", "")
	assert.Error(t, err)

	t.Setenv("VAULTRAG_LLM_KEY", "")
	_, err = NewClient(newTransport(), "http://localhost", "x", "VAULTRAG_LLM_KEY")
	assert.Error(t, err)
}
