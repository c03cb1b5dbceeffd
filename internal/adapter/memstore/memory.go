package memstore

import (
	"context"
	"fmt"
	"sync"

	"vaultrag/internal/domain"
)

// MemoryStore keeps vectors, vault metadata and conversations in process
// memory. It backs the "memory" vector_store backend and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	chunks    map[string]domain.EmbeddedChunk
	fileIDs   map[string][]string
	vaults    map[string]*domain.VaultIndexMetadata
	histories map[string][]domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:    make(map[string]domain.EmbeddedChunk),
		fileIDs:   make(map[string][]string),
		vaults:    make(map[string]*domain.VaultIndexMetadata),
		histories: make(map[string][]domain.Message),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, chunks []domain.EmbeddedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		path := c.Chunk.FilePath()
		if _, exists := s.chunks[c.Chunk.ID]; !exists {
			s.fileIDs[path] = append(s.fileIDs[path], c.Chunk.ID)
		}
		s.chunks[c.Chunk.ID] = c
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		return nil, nil
	}

	results := make([]domain.SearchResult, 0, len(s.chunks))
	for _, c := range s.chunks {
		results = append(results, domain.SearchResult{
			Chunk:      c.Chunk,
			Similarity: domain.NormalizeSimilarity(domain.CosineSimilarity(vector, c.Vector)),
		})
	}
	domain.SortSearchResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) DeleteByFilePath(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.fileIDs[path] {
		delete(s.chunks, id)
	}
	delete(s.fileIDs, path)
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *MemoryStore) LoadVaultIndex(_ context.Context, vaultPath string) (*domain.VaultIndexMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.vaults[vaultPath]
	if !ok {
		return nil, fmt.Errorf("vault index %s: %w", vaultPath, domain.ErrNotFound)
	}
	return meta.Clone(), nil
}

func (s *MemoryStore) SaveVaultIndex(_ context.Context, meta *domain.VaultIndexMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[meta.VaultPath] = meta.Clone()
	return nil
}

func (s *MemoryStore) DeleteVaultIndex(_ context.Context, vaultPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vaults, vaultPath)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[msg.ConversationID] = append(s.histories[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.histories[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
