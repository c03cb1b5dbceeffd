// Package vectordb holds the networked VectorStore backends.
package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"vaultrag/internal/domain"
	"vaultrag/internal/logging"
)

const (
	payloadChunkID = "chunk_id"
	payloadText    = "text"
)

// QdrantOptions configures a QdrantStore.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantStore is a VectorStore backed by a Qdrant collection. Chunk metadata
// is flattened into the point payload so deleteByFilePath is a filter delete.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

func NewQdrantStore(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: opts.Collection,
		logger:     logging.NewModuleLogger("vectordb", "qdrant"),
	}
	if err := s.ensureCollection(ctx, uint64(opts.Dimension)); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dimension uint64) error {
	existing, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	if slices.Contains(existing, s.collection) {
		return nil
	}
	if dimension == 0 {
		return fmt.Errorf("collection %s does not exist and embedding dimension is unknown", s.collection)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
	}
	s.logger.Info("created collection", "collection", s.collection, "dimension", dimension)
	return nil
}

// pointID maps a chunk id onto the UUID space Qdrant requires.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (s *QdrantStore) Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		payload := make(map[string]interface{}, len(c.Chunk.Metadata)+2)
		for k, v := range c.Chunk.Metadata {
			payload[k] = v
		}
		payload[payloadChunkID] = c.Chunk.ID
		payload[payloadText] = c.Chunk.Text

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(c.Chunk.ID)),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, hitToResult(hit))
	}
	domain.SortSearchResults(results)
	return results, nil
}

func hitToResult(hit *qdrant.ScoredPoint) domain.SearchResult {
	chunk := domain.Chunk{Metadata: make(map[string]string)}
	for k, v := range hit.GetPayload() {
		switch k {
		case payloadChunkID:
			chunk.ID = v.GetStringValue()
		case payloadText:
			chunk.Text = v.GetStringValue()
		default:
			chunk.Metadata[k] = v.GetStringValue()
		}
	}
	return domain.SearchResult{
		Chunk:      chunk,
		Similarity: domain.NormalizeSimilarity(float64(hit.GetScore())),
	}
}

func (s *QdrantStore) DeleteByFilePath(ctx context.Context, path string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatch(domain.MetaFilePath, path)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for %s: %w", path, err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
