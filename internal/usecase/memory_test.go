package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultrag/internal/adapter/memstore"
	"vaultrag/internal/domain"
)

func history(lengths ...int) []domain.Message {
	msgs := make([]domain.Message, len(lengths))
	for i, n := range lengths {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msgs[i] = domain.Message{
			ConversationID: "c",
			Role:           role,
			Content:        strings.Repeat(string(rune('a'+i)), n),
		}
	}
	return msgs
}

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestSelectMessages(t *testing.T) {
	tests := []struct {
		name    string
		lengths []int
		policy  domain.ConversationMemoryPolicy
		want    []int // indexes into the history
	}{
		{"char budget keeps newest", []int{40, 40, 40, 40, 40}, domain.ConversationMemoryPolicy{MaxMessages: 5, MaxChars: 90}, []int{3, 4}},
		{"message cap", []int{10, 10, 10, 10}, domain.ConversationMemoryPolicy{MaxMessages: 2, MaxChars: 1000}, []int{2, 3}},
		{"exact fit", []int{30, 30, 30}, domain.ConversationMemoryPolicy{MaxMessages: 10, MaxChars: 60}, []int{1, 2}},
		{"oversized newest excludes all", []int{10, 100}, domain.ConversationMemoryPolicy{MaxMessages: 10, MaxChars: 50}, nil},
		{"stops at first overflow", []int{5, 100, 10}, domain.ConversationMemoryPolicy{MaxMessages: 10, MaxChars: 50}, []int{2}},
		{"bounds disabled", []int{100, 200}, domain.ConversationMemoryPolicy{}, []int{0, 1}},
		{"empty history", nil, domain.ConversationMemoryPolicy{MaxMessages: 5, MaxChars: 90}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := history(tt.lengths...)
			got := SelectMessages(h, tt.policy)

			want := make([]string, 0, len(tt.want))
			for _, i := range tt.want {
				want = append(want, h[i].Content)
			}
			assert.Equal(t, want, contents(got))
		})
	}
}

func TestSelectMessages_CountsRunes(t *testing.T) {
	h := []domain.Message{{Content: "ééééé"}, {Content: "日本語"}}
	got := SelectMessages(h, domain.ConversationMemoryPolicy{MaxChars: 8})
	assert.Len(t, got, 2)
}

func TestConversationMemoryProvider(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewMemoryStore()
	for _, m := range history(40, 40, 40, 40, 40) {
		require.NoError(t, store.AppendMessage(ctx, m))
	}

	p := NewConversationMemoryProvider(store, domain.ConversationMemoryPolicy{MaxMessages: 5, MaxChars: 90})
	got, err := p.BuildContextMessages(ctx, "c")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, strings.Repeat("d", 40), got[0].Content)
	assert.Equal(t, domain.RoleAssistant, got[0].Role)
	assert.Equal(t, strings.Repeat("e", 40), got[1].Content)

	got, err = p.BuildContextMessages(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = p.BuildContextMessages(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
