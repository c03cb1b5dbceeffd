package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultrag/internal/adapter/transport"
	"vaultrag/internal/domain"
)

type fakeLLM struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
	calls      int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return f.GenerateWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) GenerateWithSystem(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastUser = user
	return f.response, f.err
}

func (f *fakeLLM) ModelName() string { return "fake" }

func candidates() []domain.RetrievedChunk {
	return []domain.RetrievedChunk{
		{ID: "a", Text: "Retrieval augmented generation grounds answers in notes.", Similarity: 0.6, Metadata: map[string]string{domain.MetaFilePath: "rag.md"}},
		{ID: "b", Text: "Grocery list: eggs, milk.", Similarity: 0.5},
		{ID: "c", Text: "Vector search finds similar chunks.", Similarity: 0.4},
	}
}

func ids(chunks []domain.RetrievedChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}

func TestParseRelevanceScores(t *testing.T) {
	scores, err := ParseRelevanceScores(`{"a": 0.9, "b": 0.5,}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 0.9, "b": 0.5}, scores)
}

func TestParseRelevanceScores_ClampsAndTolerantTypes(t *testing.T) {
	resp := "Sure! Here are the scores:\n```json\n{\"a\": 1.4, \"b\": -0.2, \"c\": \"0.7\", \"d\": true, \"e\": \"high\"}\n```\nHope this helps."
	scores, err := ParseRelevanceScores(resp)
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores["a"])
	assert.Equal(t, 0.0, scores["b"])
	assert.InDelta(t, 0.7, scores["c"], 1e-9)
	assert.NotContains(t, scores, "d")
	assert.NotContains(t, scores, "e")
}

func TestParseRelevanceScores_NoObject(t *testing.T) {
	_, err := ParseRelevanceScores("I cannot score these passages.")
	assert.Error(t, err)
}

func TestLLMReranker_Reorders(t *testing.T) {
	llm := &fakeLLM{response: `{"a": 0.2, "b": 0.1, "c": 0.95}`}
	r := NewLLMReranker(llm, 20)

	out, err := r.Rerank(context.Background(), "how does vector search work", candidates())
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(out))
	assert.Equal(t, 0.95, out[0].Similarity)

	assert.Contains(t, llm.lastUser, "[id=a] (filePath=rag.md)")
	assert.Contains(t, llm.lastUser, "Retrieval augmented ...")
	assert.NotContains(t, llm.lastUser, "grounds answers")
}

func TestLLMReranker_MissingIDsKeepSimilarity(t *testing.T) {
	llm := &fakeLLM{response: `{"b": 0.9}`}
	out, err := NewLLMReranker(llm, 0).Rerank(context.Background(), "q", candidates())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(out))
	assert.Equal(t, 0.6, out[1].Similarity)
}

func TestLLMReranker_ZeroScoresKeepsOrder(t *testing.T) {
	llm := &fakeLLM{response: `{"x": "n/a"}`}
	in := candidates()
	out, err := NewLLMReranker(llm, 0).Rerank(context.Background(), "q", in)
	require.NoError(t, err)
	assert.Equal(t, ids(in), ids(out))
	assert.Equal(t, 0.5, out[1].Similarity)
}

func TestLLMReranker_GarbageKeepsOrder(t *testing.T) {
	llm := &fakeLLM{response: "no json here"}
	out, err := NewLLMReranker(llm, 0).Rerank(context.Background(), "q", candidates())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(out))
}

func TestLLMReranker_LLMErrorPropagates(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	_, err := NewLLMReranker(llm, 0).Rerank(context.Background(), "q", candidates())
	assert.Error(t, err)
}

func TestLLMReranker_EmptyCandidatesSkipsLLM(t *testing.T) {
	llm := &fakeLLM{}
	out, err := NewLLMReranker(llm, 0).Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, llm.calls)
}

func TestCohereReranker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req cohereRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Documents, 3)

		// "b" is absent from the response
		_, _ = w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.8},{"index":0,"relevance_score":0.1},{"index":7,"relevance_score":0.9}]}`))
	}))
	defer srv.Close()

	t.Setenv("VAULTRAG_TEST_COHERE", "secret")
	client := transport.New(transport.Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second})
	r, err := NewCohereReranker(client, "VAULTRAG_TEST_COHERE", "", srv.URL+"/v1/")
	require.NoError(t, err)
	assert.Equal(t, "cohere:rerank-english-v3.0", r.Name())

	out, err := r.Rerank(context.Background(), "vector search", candidates())
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(out))
	assert.Equal(t, 0.5, out[1].Similarity)
}

func TestCohereReranker_RequiresKey(t *testing.T) {
	t.Setenv("VAULTRAG_TEST_COHERE", "")
	_, err := NewCohereReranker(transport.New(transport.DefaultOptions()), "VAULTRAG_TEST_COHERE", "", "")
	assert.Error(t, err)
}

func TestLexicalReranker(t *testing.T) {
	out, err := NewLexicalReranker().Rerank(context.Background(), "Vector search chunks", candidates())
	require.NoError(t, err)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, 1.0, out[0].Similarity)
	assert.Len(t, out, 3)
}

func TestNoopReranker(t *testing.T) {
	in := candidates()
	out, err := NoopReranker{}.Rerank(context.Background(), "q", in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "none", NoopReranker{}.Name())
}

func TestQueryExpander_Alternatives(t *testing.T) {
	llm := &fakeLLM{response: strings.Join([]string{
		"Here are some alternatives:",
		"1. What does retrieval augmented generation mean?",
		"2) \"RAG definition\"",
		"- what is rag?",
		"* RAG definition",
		"",
		"• How do LLMs use retrieved documents",
		"Explain RAG pipelines",
	}, "\n")}
	e := NewQueryExpander(llm, 3, nil)

	out, err := e.GenerateAlternativeQueries(context.Background(), "What is RAG?")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"What does retrieval augmented generation mean?",
		"RAG definition",
		"How do LLMs use retrieved documents",
	}, out)
	assert.Contains(t, llm.lastSystem, "generate 3 alternative")
}

func TestQueryExpander_AlternativesEmpty(t *testing.T) {
	e := NewQueryExpander(&fakeLLM{response: "What is RAG?\n\n"}, 3, nil)
	_, err := e.GenerateAlternativeQueries(context.Background(), "what is rag?")
	assert.Error(t, err)
}

func TestQueryExpander_Rewrite(t *testing.T) {
	e := NewQueryExpander(&fakeLLM{response: "\n\"definition of retrieval augmented generation\"\nextra"}, 3, nil)
	out, err := e.RewriteQuery(context.Background(), "what's rag")
	require.NoError(t, err)
	assert.Equal(t, "definition of retrieval augmented generation", out)

	e = NewQueryExpander(&fakeLLM{response: "  \n"}, 3, nil)
	_, err = e.RewriteQuery(context.Background(), "what's rag")
	assert.Error(t, err)
}

func TestQueryExpander_HyDE(t *testing.T) {
	llm := &fakeLLM{response: "  RAG combines a retriever with a generator.  "}
	e := NewQueryExpander(llm, 3, NewHyDERewriter(llm))

	out, err := e.RewriteQuery(context.Background(), "What is RAG?")
	require.NoError(t, err)
	assert.Equal(t, "RAG combines a retriever with a generator.", out)
	assert.Contains(t, llm.lastUser, "hypothetical note")
}
