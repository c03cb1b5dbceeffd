package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
	"vaultrag/internal/domain"
)

var (
	bucketVectors    = []byte("vectors")
	bucketFileChunks = []byte("file_chunks")
)

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Uses brute-force search for simplicity; can be replaced with HNSW for larger indexes.
type BoltVectorStore struct {
	db *bbolt.DB

	// configured is the dimension asked for at construction, 0 when it is
	// learned from the data. dimension is the one in effect.
	configured int
	dimension  int

	mu sync.RWMutex
	// In-memory cache for fast search
	vectors map[string]vectorEntry
}

type vectorEntry struct {
	vector []float32
	chunk  domain.Chunk
}

type storedVector struct {
	Vector   []float32         `json:"v"`
	Text     string            `json:"t"`
	Metadata map[string]string `json:"m,omitempty"`
}

// NewBoltVectorStore creates a new BoltDB-backed vector store. A zero
// dimension is fixed by the first upsert and released once the store is
// empty again.
func NewBoltVectorStore(db *bbolt.DB, dimension int) (*BoltVectorStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketVectors, bucketFileChunks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector buckets: %w", err)
	}

	store := &BoltVectorStore{
		db:         db,
		configured: dimension,
		dimension:  dimension,
		vectors:    make(map[string]vectorEntry),
	}

	// Load existing vectors into memory
	if err := store.loadVectors(); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	return store, nil
}

// loadVectors loads all vectors from BoltDB into memory.
func (s *BoltVectorStore) loadVectors() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // Skip corrupted entries
			}
			if s.dimension == 0 {
				s.dimension = len(stored.Vector)
			}
			s.vectors[string(k)] = vectorEntry{
				vector: stored.Vector,
				chunk:  domain.Chunk{ID: string(k), Text: stored.Text, Metadata: stored.Metadata},
			}
			return nil
		})
	})
}

// Upsert adds or replaces chunks and records them under their file path.
func (s *BoltVectorStore) Upsert(_ context.Context, chunks []domain.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dimension := s.dimension
	if dimension == 0 {
		dimension = len(chunks[0].Vector)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		vb := tx.Bucket(bucketVectors)
		fb := tx.Bucket(bucketFileChunks)
		byFile := make(map[string][]string)

		for _, item := range chunks {
			if len(item.Vector) != dimension {
				return fmt.Errorf("vector dimension mismatch: expected %d, got %d", dimension, len(item.Vector))
			}

			data, err := json.Marshal(storedVector{
				Vector:   item.Vector,
				Text:     item.Chunk.Text,
				Metadata: item.Chunk.Metadata,
			})
			if err != nil {
				return err
			}
			if err := vb.Put([]byte(item.Chunk.ID), data); err != nil {
				return err
			}
			path := item.Chunk.FilePath()
			byFile[path] = append(byFile[path], item.Chunk.ID)
		}

		for path, ids := range byFile {
			existing, err := fileChunkIDs(fb, path)
			if err != nil {
				return err
			}
			if err := putFileChunkIDs(fb, path, mergeIDs(existing, ids)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Update in-memory cache only after the commit succeeded.
	s.dimension = dimension
	for _, item := range chunks {
		s.vectors[item.Chunk.ID] = vectorEntry{vector: item.Vector, chunk: item.Chunk}
	}
	return nil
}

// Search finds the k nearest vectors to the query using cosine similarity.
// Negative cosine is clamped to 0.
func (s *BoltVectorStore) Search(_ context.Context, query []float32, k int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(query))
	}

	results := make([]domain.SearchResult, 0, len(s.vectors))
	for _, entry := range s.vectors {
		results = append(results, domain.SearchResult{
			Chunk:      entry.chunk,
			Similarity: domain.NormalizeSimilarity(domain.CosineSimilarity(query, entry.vector)),
		})
	}

	domain.SortSearchResults(results)
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// DeleteByFilePath removes every chunk recorded for path.
func (s *BoltVectorStore) DeleteByFilePath(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		fb := tx.Bucket(bucketFileChunks)
		ids, err := fileChunkIDs(fb, path)
		if err != nil {
			return err
		}
		vb := tx.Bucket(bucketVectors)
		for _, id := range ids {
			if err := vb.Delete([]byte(id)); err != nil {
				return err
			}
		}
		removed = ids
		return fb.Delete([]byte(path))
	})
	if err != nil {
		return err
	}

	for _, id := range removed {
		delete(s.vectors, id)
	}
	if len(s.vectors) == 0 {
		s.dimension = s.configured
	}
	return nil
}

// Count returns the number of vectors in the store.
func (s *BoltVectorStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func fileChunkIDs(b *bbolt.Bucket, path string) ([]string, error) {
	data := b.Get([]byte(path))
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("corrupt chunk list for %s: %w", path, err)
	}
	return ids, nil
}

func putFileChunkIDs(b *bbolt.Bucket, path string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return b.Put([]byte(path), data)
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
