package usecase

import (
	"context"
	"log/slog"

	"vaultrag/internal/domain"
	"vaultrag/internal/logging"
	"vaultrag/internal/port"
)

// AssembleHybridContext keeps the lists the mode asks for and drops the
// others. Lists are passed through unmodified.
func AssembleHybridContext(mode domain.RetrievalMode, local []domain.RetrievedChunk, web []domain.WebSnippet) domain.HybridContext {
	hc := domain.HybridContext{
		Mode:  mode,
		Local: []domain.RetrievedChunk{},
		Web:   []domain.WebSnippet{},
	}
	if mode.UsesLocal() && local != nil {
		hc.Local = local
	}
	if mode.UsesWeb() && web != nil {
		hc.Web = web
	}
	return hc
}

// ContextRequest describes one turn for which context is needed.
type ContextRequest struct {
	Question       string
	Mode           domain.RetrievalMode
	ConversationID string
	// WebSnippets, when non-nil, are used instead of calling the WebSearcher.
	WebSnippets []domain.WebSnippet
}

// ContextResult is everything the prompt builder needs for one turn.
type ContextResult struct {
	domain.HybridContext
	History []domain.Message `json:"history"`
	// Degraded is set when a retrieval step failed and its list was left empty.
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}

// ContextService gathers vault chunks, web snippets and chat history for a
// question. Failures in any source degrade that source to empty; they never
// fail the turn.
type ContextService struct {
	retriever port.Retriever
	web       port.WebSearcher
	memory    *ConversationMemoryProvider
	logger    *slog.Logger
}

// NewContextService wires the sources. web and memory may be nil.
func NewContextService(retriever port.Retriever, web port.WebSearcher, memory *ConversationMemoryProvider) *ContextService {
	return &ContextService{
		retriever: retriever,
		web:       web,
		memory:    memory,
		logger:    logging.NewModuleLogger("usecase", "context"),
	}
}

func (s *ContextService) Build(ctx context.Context, req ContextRequest) (*ContextResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &ContextResult{}

	var local []domain.RetrievedChunk
	if req.Mode.UsesLocal() && s.retriever != nil {
		chunks, err := s.retriever.Retrieve(ctx, req.Question)
		if err != nil {
			s.logger.Warn("vault retrieval failed, continuing without vault context", "error", err)
			res.Degraded = true
			res.Warnings = append(res.Warnings, err.Error())
		} else {
			local = chunks
		}
	}

	web := req.WebSnippets
	if req.Mode.UsesWeb() && web == nil && s.web != nil {
		snippets, err := s.web.Search(ctx, req.Question)
		if err != nil {
			s.logger.Warn("web search failed, continuing without web context", "error", err)
			res.Degraded = true
			res.Warnings = append(res.Warnings, err.Error())
		} else {
			web = snippets
		}
	}

	res.HybridContext = AssembleHybridContext(req.Mode, local, web)

	if s.memory != nil && req.ConversationID != "" {
		history, err := s.memory.BuildContextMessages(ctx, req.ConversationID)
		if err != nil {
			s.logger.Warn("conversation history unavailable", "conversation", req.ConversationID, "error", err)
			res.Degraded = true
			res.Warnings = append(res.Warnings, err.Error())
		} else {
			res.History = history
		}
	}
	if res.History == nil {
		res.History = []domain.Message{}
	}

	return res, ctx.Err()
}
