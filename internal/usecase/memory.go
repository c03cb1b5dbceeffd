package usecase

import (
	"context"
	"fmt"
	"unicode/utf8"

	"vaultrag/internal/domain"
	"vaultrag/internal/port"
)

// ConversationMemoryProvider selects the slice of chat history forwarded to
// the generator.
type ConversationMemoryProvider struct {
	store  port.ConversationStore
	policy domain.ConversationMemoryPolicy
}

func NewConversationMemoryProvider(store port.ConversationStore, policy domain.ConversationMemoryPolicy) *ConversationMemoryProvider {
	return &ConversationMemoryProvider{store: store, policy: policy}
}

// BuildContextMessages returns the most recent messages that fit the policy,
// oldest first. A message is never truncated: once the next older message
// would exceed MaxChars, it and everything older is left out.
func (p *ConversationMemoryProvider) BuildContextMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if conversationID == "" {
		return nil, nil
	}
	history, err := p.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return SelectMessages(history, p.policy), nil
}

// SelectMessages applies policy to a chronological history. Non-positive
// bounds are disabled.
func SelectMessages(history []domain.Message, policy domain.ConversationMemoryPolicy) []domain.Message {
	if policy.MaxMessages > 0 && len(history) > policy.MaxMessages {
		history = history[len(history)-policy.MaxMessages:]
	}
	if policy.MaxChars <= 0 {
		out := make([]domain.Message, len(history))
		copy(out, history)
		return out
	}

	start := len(history)
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(history[i].Content)
		if used+n > policy.MaxChars {
			break
		}
		used += n
		start = i
	}

	out := make([]domain.Message, len(history)-start)
	copy(out, history[start:])
	return out
}
