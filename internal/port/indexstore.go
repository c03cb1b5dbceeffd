package port

import (
	"context"

	"vaultrag/internal/domain"
)

// MetadataStore persists per-vault index metadata.
type MetadataStore interface {
	// LoadVaultIndex returns domain.ErrNotFound when the vault was never indexed.
	LoadVaultIndex(ctx context.Context, vaultPath string) (*domain.VaultIndexMetadata, error)

	// SaveVaultIndex replaces the stored metadata in a single write.
	SaveVaultIndex(ctx context.Context, meta *domain.VaultIndexMetadata) error

	DeleteVaultIndex(ctx context.Context, vaultPath string) error
}

// ConversationStore holds chat history in chronological order.
type ConversationStore interface {
	AppendMessage(ctx context.Context, msg domain.Message) error

	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}
