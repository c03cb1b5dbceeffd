package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultrag/internal/adapter/memstore"
	"vaultrag/internal/domain"
)

var (
	localChunks = []domain.RetrievedChunk{{ID: "c1", Text: "local", Similarity: 0.8}}
	webSnippets = []domain.WebSnippet{{Title: "RAG", URL: "https://example.com/rag", Snippet: "web"}}
)

func TestAssembleHybridContext(t *testing.T) {
	tests := []struct {
		mode      domain.RetrievalMode
		wantLocal int
		wantWeb   int
	}{
		{domain.ModeNone, 0, 0},
		{domain.ModeLocal, 1, 0},
		{domain.ModeWeb, 0, 1},
		{domain.ModeHybrid, 1, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			hc := AssembleHybridContext(tt.mode, localChunks, webSnippets)
			assert.Equal(t, tt.mode, hc.Mode)
			assert.Len(t, hc.Local, tt.wantLocal)
			assert.Len(t, hc.Web, tt.wantWeb)
			assert.NotNil(t, hc.Local)
			assert.NotNil(t, hc.Web)
		})
	}

	hc := AssembleHybridContext(domain.ModeHybrid, localChunks, webSnippets)
	assert.Equal(t, localChunks, hc.Local)
	assert.Equal(t, webSnippets, hc.Web)
}

type stubRetriever struct {
	chunks []domain.RetrievedChunk
	err    error
	calls  int
}

func (r *stubRetriever) Retrieve(context.Context, string) ([]domain.RetrievedChunk, error) {
	r.calls++
	return r.chunks, r.err
}

type stubWeb struct {
	snippets []domain.WebSnippet
	err      error
	calls    int
}

func (w *stubWeb) Search(context.Context, string) ([]domain.WebSnippet, error) {
	w.calls++
	return w.snippets, w.err
}

func TestContextService_Hybrid(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewMemoryStore()
	require.NoError(t, store.AppendMessage(ctx, domain.Message{ConversationID: "c", Role: domain.RoleUser, Content: "hi"}))

	ret := &stubRetriever{chunks: localChunks}
	web := &stubWeb{snippets: webSnippets}
	memory := NewConversationMemoryProvider(store, domain.ConversationMemoryPolicy{MaxMessages: 10, MaxChars: 100})
	svc := NewContextService(ret, web, memory)

	res, err := svc.Build(ctx, ContextRequest{Question: "What is RAG?", Mode: domain.ModeHybrid, ConversationID: "c"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, localChunks, res.Local)
	assert.Equal(t, webSnippets, res.Web)
	require.Len(t, res.History, 1)
	assert.Equal(t, "hi", res.History[0].Content)
}

func TestContextService_ProvidedSnippetsSkipSearch(t *testing.T) {
	web := &stubWeb{}
	svc := NewContextService(&stubRetriever{}, web, nil)

	res, err := svc.Build(context.Background(), ContextRequest{Question: "q", Mode: domain.ModeWeb, WebSnippets: webSnippets})
	require.NoError(t, err)
	assert.Zero(t, web.calls)
	assert.Equal(t, webSnippets, res.Web)
	assert.Empty(t, res.Local)
	assert.NotNil(t, res.History)
}

func TestContextService_NoneModeCallsNothing(t *testing.T) {
	ret := &stubRetriever{chunks: localChunks}
	web := &stubWeb{snippets: webSnippets}
	res, err := NewContextService(ret, web, nil).Build(context.Background(), ContextRequest{Question: "q", Mode: domain.ModeNone})
	require.NoError(t, err)
	assert.Zero(t, ret.calls)
	assert.Zero(t, web.calls)
	assert.Empty(t, res.Local)
	assert.Empty(t, res.Web)
}

func TestContextService_RetrievalFailureDegrades(t *testing.T) {
	ret := &stubRetriever{err: &domain.RetrievalError{Kind: domain.RetrievalEmbedFailed, Query: "q", Err: errors.New("ollama down")}}
	web := &stubWeb{err: errors.New("no network")}
	res, err := NewContextService(ret, web, nil).Build(context.Background(), ContextRequest{Question: "q", Mode: domain.ModeHybrid})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Len(t, res.Warnings, 2)
	assert.Empty(t, res.Local)
	assert.Empty(t, res.Web)
}
