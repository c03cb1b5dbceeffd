package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"vaultrag/internal/domain"
	"vaultrag/internal/logging"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStore is a VectorStore backed by a pgvector table. Similarity is
// 1 - cosine distance, clamped to [0, 1].
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, dsn, table string, dimension int) (*PostgresStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid postgres table name %q", domain.ErrInvalidConfig, table)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: pgvector backend needs embedding.dimension", domain.ErrInvalidConfig)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	// The extension must exist before AfterConnect can register its types.
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, table: table, logger: logging.NewModuleLogger("vectordb", "pgvector")}
	if err := s.migrate(ctx, dimension); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context, dimension int) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, s.table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_file_path_idx ON %s (file_path)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, file_path, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, s.table)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Chunk.Metadata)
		if err != nil {
			return err
		}
		batch.Queue(query, c.Chunk.ID, c.Chunk.FilePath(), c.Chunk.Text, meta, pgvector.NewVector(c.Vector))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert %d chunks: %w", len(chunks), err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s ORDER BY embedding <=> $1 LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", s.table, err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			r    domain.SearchResult
			meta []byte
		)
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.Text, &meta, &r.Similarity); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &r.Chunk.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", r.Chunk.ID, err)
		}
		r.Similarity = domain.NormalizeSimilarity(r.Similarity)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	domain.SortSearchResults(results)
	return results, nil
}

func (s *PostgresStore) DeleteByFilePath(ctx context.Context, path string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE file_path = $1`, s.table), path)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", path, err)
	}
	s.logger.Debug("deleted chunks", "path", path, "rows", tag.RowsAffected())
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
