package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"vaultrag/internal/domain"
	"vaultrag/internal/logging"
	"vaultrag/internal/port"
)

// ProgressFunc is called after each file is processed.
type ProgressFunc func(done, total int, path string)

// IndexOptions tunes the upsert phase.
type IndexOptions struct {
	UpsertBatchSize      int
	MaxConcurrentUpserts int
	Progress             ProgressFunc
}

// IndexUseCase handles file indexing operations.
type IndexUseCase struct {
	cache    *VaultIndexCache
	chunker  port.Chunker
	embedder port.Embedder
	vectors  port.VectorStore
	opts     IndexOptions
	logger   *slog.Logger
}

// NewIndexUseCase creates a new index use case.
func NewIndexUseCase(
	cache *VaultIndexCache,
	chunker port.Chunker,
	embedder port.Embedder,
	vectors port.VectorStore,
	opts IndexOptions,
) *IndexUseCase {
	if opts.UpsertBatchSize <= 0 {
		opts.UpsertBatchSize = 64
	}
	if opts.MaxConcurrentUpserts <= 0 {
		opts.MaxConcurrentUpserts = 1
	}
	return &IndexUseCase{
		cache:    cache,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		opts:     opts,
		logger:   logging.NewModuleLogger("usecase", "index"),
	}
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesDeleted  int
	ChunksCreated int
	Failures      []*domain.FileIndexError
}

// Reindex brings the vector store in line with files, the complete current
// content of the vault keyed by vault-relative path. Unchanged files are
// skipped by content hash. A file that fails is retried on the next pass.
// When its old chunks may still be stored, the file keeps its previous
// entry so a later deletion from the vault still removes them.
//
// Cancellation is checked between files. On cancel the metadata for the
// files already processed is saved and ctx.Err() is returned with the
// partial result.
func (u *IndexUseCase) Reindex(ctx context.Context, vaultPath string, files []port.SourceFile) (*IndexResult, error) {
	unlock := u.cache.Lock(vaultPath)
	defer unlock()

	meta, err := u.cache.Load(ctx, vaultPath)
	if err != nil {
		return nil, err
	}

	sorted := make([]port.SourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	result := &IndexResult{}
	seen := make(map[string]bool, len(sorted))

	for i, file := range sorted {
		if err := ctx.Err(); err != nil {
			return result, u.savePartial(ctx, meta, err)
		}
		seen[file.Path] = true

		hash := ContentHash(file.Content)
		if meta.IndexedFileHashes[file.Path] == hash {
			result.FilesSkipped++
			u.progress(i+1, len(sorted), file.Path)
			continue
		}

		n, residual, ferr := u.indexFile(ctx, file)
		if ferr != nil {
			if residual {
				// Keep the file tracked. The previous hash, or "" for a new file,
				// never matches the current one, so the next pass retries it.
				prev := meta.IndexedFileHashes[file.Path]
				meta.IndexedFileHashes[file.Path] = prev
			} else {
				delete(meta.IndexedFileHashes, file.Path)
			}
			u.logger.Warn("file index failed", "path", file.Path, "stage", ferr.Stage, "error", ferr.Err)
			result.Failures = append(result.Failures, ferr)
			u.progress(i+1, len(sorted), file.Path)
			continue
		}

		meta.IndexedFileHashes[file.Path] = hash
		result.FilesIndexed++
		result.ChunksCreated += n
		u.progress(i+1, len(sorted), file.Path)
	}

	if err := ctx.Err(); err != nil {
		return result, u.savePartial(ctx, meta, err)
	}

	// Delete chunks for files that no longer exist
	stale := make([]string, 0)
	for path := range meta.IndexedFileHashes {
		if !seen[path] {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)
	for _, path := range stale {
		if err := u.vectors.DeleteByFilePath(ctx, path); err != nil {
			u.logger.Warn("stale file cleanup failed", "path", path, "error", err)
			result.Failures = append(result.Failures, &domain.FileIndexError{Path: path, Stage: "delete", Err: err})
			continue
		}
		delete(meta.IndexedFileHashes, path)
		result.FilesDeleted++
	}

	meta.LastIndexedTime = time.Now()
	if err := u.cache.Replace(ctx, meta); err != nil {
		return result, err
	}

	u.logger.Info("reindex complete",
		"vault", vaultPath,
		"indexed", result.FilesIndexed,
		"skipped", result.FilesSkipped,
		"deleted", result.FilesDeleted,
		"chunks", result.ChunksCreated,
		"failures", len(result.Failures),
	)
	return result, nil
}

// Invalidate removes every indexed chunk of the vault and clears its hashes
// so the next Reindex rebuilds everything.
func (u *IndexUseCase) Invalidate(ctx context.Context, vaultPath string) error {
	unlock := u.cache.Lock(vaultPath)
	defer unlock()

	meta, err := u.cache.Load(ctx, vaultPath)
	if err != nil {
		return err
	}
	for path := range meta.IndexedFileHashes {
		if err := u.vectors.DeleteByFilePath(ctx, path); err != nil {
			return fmt.Errorf("delete chunks for %s: %w", path, err)
		}
	}
	return u.cache.Replace(ctx, domain.NewVaultIndexMetadata(vaultPath))
}

func (u *IndexUseCase) savePartial(ctx context.Context, meta *domain.VaultIndexMetadata, cause error) error {
	meta.LastIndexedTime = time.Now()
	if err := u.cache.Replace(context.WithoutCancel(ctx), meta); err != nil {
		return fmt.Errorf("%w (saving partial index: %v)", cause, err)
	}
	u.logger.Info("reindex canceled", "vault", meta.VaultPath, "indexed_files", len(meta.IndexedFileHashes))
	return cause
}

// indexFile replaces the stored chunks of one file. On failure residual
// reports whether chunks of the file may still be in the vector store.
func (u *IndexUseCase) indexFile(ctx context.Context, file port.SourceFile) (n int, residual bool, ferr *domain.FileIndexError) {
	fail := func(stage string, err error) *domain.FileIndexError {
		return &domain.FileIndexError{Path: file.Path, Stage: stage, Err: err}
	}

	if err := u.vectors.DeleteByFilePath(ctx, file.Path); err != nil {
		return 0, true, fail("delete", err)
	}

	chunks := u.chunker.Chunk(file.Path, file.Content)
	if len(chunks) == 0 {
		return 0, false, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := u.embedder.Embed(ctx, texts, domain.TaskDocument)
	if err != nil {
		return 0, false, fail("embed", err)
	}
	if len(vectors) != len(chunks) {
		return 0, false, fail("embed", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	embedded := make([]domain.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = domain.EmbeddedChunk{Chunk: c, Vector: vectors[i]}
	}

	if err := u.upsert(ctx, embedded); err != nil {
		// Drop whatever batches did land so no half-indexed file is searchable.
		if derr := u.vectors.DeleteByFilePath(context.WithoutCancel(ctx), file.Path); derr != nil {
			u.logger.Warn("cleanup after failed upsert", "path", file.Path, "error", derr)
			return 0, true, fail("upsert", err)
		}
		return 0, false, fail("upsert", err)
	}
	return len(chunks), false, nil
}

func (u *IndexUseCase) upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.MaxConcurrentUpserts)

	for start := 0; start < len(chunks); start += u.opts.UpsertBatchSize {
		end := min(start+u.opts.UpsertBatchSize, len(chunks))
		batch := chunks[start:end]
		g.Go(func() error {
			return u.vectors.Upsert(gctx, batch)
		})
	}
	return g.Wait()
}

func (u *IndexUseCase) progress(done, total int, path string) {
	if u.opts.Progress != nil {
		u.opts.Progress(done, total, path)
	}
}
