package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultrag/internal/adapter/memstore"
	"vaultrag/internal/domain"
	"vaultrag/internal/port"
)

const vault = "/notes"

type indexFixture struct {
	store    *memstore.MemoryStore
	embedder *recordingEmbedder
	cache    *VaultIndexCache
	uc       *IndexUseCase
	upserts  *countingVectors
}

// countingVectors counts upsert calls on top of the in-memory store and
// fails upserts or deletes on demand.
type countingVectors struct {
	*memstore.MemoryStore
	mu         sync.Mutex
	calls      int
	fail       error
	failDelete error
}

func (v *countingVectors) DeleteByFilePath(ctx context.Context, path string) error {
	v.mu.Lock()
	fail := v.failDelete
	v.mu.Unlock()
	if fail != nil {
		return fail
	}
	return v.MemoryStore.DeleteByFilePath(ctx, path)
}

func (v *countingVectors) Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	v.mu.Lock()
	v.calls++
	fail := v.fail
	v.mu.Unlock()
	if fail != nil {
		return fail
	}
	return v.MemoryStore.Upsert(ctx, chunks)
}

func (v *countingVectors) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func newIndexFixture(opts IndexOptions) *indexFixture {
	store := memstore.NewMemoryStore()
	vectors := &countingVectors{MemoryStore: store}
	embedder := &recordingEmbedder{}
	cache := NewVaultIndexCache(store)
	return &indexFixture{
		store:    store,
		embedder: embedder,
		cache:    cache,
		upserts:  vectors,
		uc:       NewIndexUseCase(cache, paragraphChunker{}, embedder, vectors, opts),
	}
}

func (f *indexFixture) hashes(t *testing.T) map[string]string {
	t.Helper()
	meta, err := f.store.LoadVaultIndex(context.Background(), vault)
	require.NoError(t, err)
	return meta.IndexedFileHashes
}

func vaultFiles() []port.SourceFile {
	return []port.SourceFile{
		{Path: "rag.md", Content: "# RAG\n\nRetrieval augmented generation.\n\nGrounds answers in notes."},
		{Path: "daily/2026-03-01.md", Content: "Met with the team."},
		{Path: "empty.md", Content: ""},
	}
}

func TestReindex_IndexesNewFiles(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	ctx := context.Background()

	res, err := f.uc.Reindex(ctx, vault, vaultFiles())
	require.NoError(t, err)
	assert.Equal(t, 3, res.FilesIndexed)
	assert.Equal(t, 4, res.ChunksCreated)
	assert.Empty(t, res.Failures)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	hashes := f.hashes(t)
	assert.Len(t, hashes, 3)
	assert.Equal(t, ContentHash("Met with the team."), hashes["daily/2026-03-01.md"])
}

func TestReindex_UnchangedIsNoop(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	ctx := context.Background()

	_, err := f.uc.Reindex(ctx, vault, vaultFiles())
	require.NoError(t, err)
	before := f.hashes(t)

	f.embedder.reset()
	upsertsBefore := f.upserts.count()

	res, err := f.uc.Reindex(ctx, vault, vaultFiles())
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesIndexed)
	assert.Equal(t, 3, res.FilesSkipped)
	assert.Zero(t, f.embedder.calls)
	assert.Equal(t, upsertsBefore, f.upserts.count())
	assert.Equal(t, before, f.hashes(t))
}

func TestReindex_OnlyChangedFileIsReembedded(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	ctx := context.Background()

	_, err := f.uc.Reindex(ctx, vault, vaultFiles())
	require.NoError(t, err)
	before := f.hashes(t)
	f.embedder.reset()

	files := vaultFiles()
	files[1].Content = "Met with the team.\n\nDiscussed the roadmap."

	res, err := f.uc.Reindex(ctx, vault, files)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesIndexed)
	assert.Equal(t, 2, res.FilesSkipped)
	assert.Equal(t, []string{"Met with the team.", "Discussed the roadmap."}, f.embedder.seen())

	after := f.hashes(t)
	assert.Equal(t, before["rag.md"], after["rag.md"])
	assert.NotEqual(t, before["daily/2026-03-01.md"], after["daily/2026-03-01.md"])

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestReindex_RemovesDeletedFiles(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	ctx := context.Background()

	_, err := f.uc.Reindex(ctx, vault, vaultFiles())
	require.NoError(t, err)

	res, err := f.uc.Reindex(ctx, vault, vaultFiles()[1:])
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesDeleted)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotContains(t, f.hashes(t), "rag.md")
}

func TestReindex_FailedFileIsRetriedNextRun(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	ctx := context.Background()

	_, err := f.uc.Reindex(ctx, vault, vaultFiles())
	require.NoError(t, err)

	files := vaultFiles()
	files[0].Content = "# RAG\n\nBROKEN paragraph."
	f.embedder.failWith = "BROKEN"

	res, err := f.uc.Reindex(ctx, vault, files)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "rag.md", res.Failures[0].Path)
	assert.Equal(t, "embed", res.Failures[0].Stage)
	var embErr *domain.EmbeddingError
	assert.ErrorAs(t, res.Failures[0], &embErr)

	hashes := f.hashes(t)
	assert.NotContains(t, hashes, "rag.md")
	assert.Contains(t, hashes, "daily/2026-03-01.md")

	f.embedder.failWith = ""
	f.embedder.reset()
	res, err = f.uc.Reindex(ctx, vault, files)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesIndexed)
	assert.Equal(t, 2, res.FilesSkipped)
	assert.Equal(t, ContentHash(files[0].Content), f.hashes(t)["rag.md"])
}

func TestReindex_UpsertFailureLeavesNoChunks(t *testing.T) {
	f := newIndexFixture(IndexOptions{UpsertBatchSize: 1, MaxConcurrentUpserts: 2})
	f.upserts.fail = errors.New("store unavailable")
	ctx := context.Background()

	res, err := f.uc.Reindex(ctx, vault, vaultFiles()[:1])
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "upsert", res.Failures[0].Stage)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.hashes(t))
}

func TestReindex_FailedDeleteKeepsFileTracked(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	ctx := context.Background()

	files := []port.SourceFile{{Path: "a.md", Content: "First draft."}}
	_, err := f.uc.Reindex(ctx, vault, files)
	require.NoError(t, err)
	oldHash := f.hashes(t)["a.md"]

	f.upserts.failDelete = errors.New("store unavailable")
	files[0].Content = "Second draft."
	res, err := f.uc.Reindex(ctx, vault, files)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "delete", res.Failures[0].Stage)
	assert.Equal(t, oldHash, f.hashes(t)["a.md"])

	f.upserts.failDelete = nil
	res, err = f.uc.Reindex(ctx, vault, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesDeleted)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.hashes(t))
}

func TestReindex_FailedDeleteIsRetriedNextRun(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	ctx := context.Background()

	files := []port.SourceFile{{Path: "a.md", Content: "First draft."}}
	_, err := f.uc.Reindex(ctx, vault, files)
	require.NoError(t, err)

	f.upserts.failDelete = errors.New("store unavailable")
	files[0].Content = "Second draft."
	_, err = f.uc.Reindex(ctx, vault, files)
	require.NoError(t, err)

	f.upserts.failDelete = nil
	f.embedder.reset()
	res, err := f.uc.Reindex(ctx, vault, files)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesIndexed)
	assert.Equal(t, []string{"Second draft."}, f.embedder.seen())
	assert.Equal(t, ContentHash("Second draft."), f.hashes(t)["a.md"])

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReindex_CancelBetweenFilesKeepsCompletedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var progressed []string
	f := newIndexFixture(IndexOptions{Progress: func(done, total int, path string) {
		progressed = append(progressed, path)
		if done == 1 {
			cancel()
		}
	}})

	res, err := f.uc.Reindex(ctx, vault, vaultFiles())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.FilesIndexed)
	assert.Equal(t, []string{"daily/2026-03-01.md"}, progressed)

	hashes := f.hashes(t)
	assert.Len(t, hashes, 1)
	assert.Contains(t, hashes, "daily/2026-03-01.md")
}

func TestReindex_SameVaultIsSerialized(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	f.embedder.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			files := []port.SourceFile{{Path: "a.md", Content: time.Now().String()}}
			_, err := f.uc.Reindex(context.Background(), vault, files)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.embedder.peak.Load())
}

func TestInvalidate_ForcesFullRebuild(t *testing.T) {
	f := newIndexFixture(IndexOptions{})
	ctx := context.Background()

	_, err := f.uc.Reindex(ctx, vault, vaultFiles())
	require.NoError(t, err)

	require.NoError(t, f.uc.Invalidate(ctx, vault))
	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.hashes(t))

	res, err := f.uc.Reindex(ctx, vault, vaultFiles())
	require.NoError(t, err)
	assert.Equal(t, 3, res.FilesIndexed)
}

func TestVaultIndexCache_LoadAndReplace(t *testing.T) {
	store := memstore.NewMemoryStore()
	cache := NewVaultIndexCache(store)
	ctx := context.Background()

	meta, err := cache.Load(ctx, vault)
	require.NoError(t, err)
	assert.Empty(t, meta.IndexedFileHashes)
	assert.Nil(t, cache.Snapshot("/other"))

	meta.IndexedFileHashes["a.md"] = "h1"
	assert.Empty(t, cache.Snapshot(vault).IndexedFileHashes)

	require.NoError(t, cache.Replace(ctx, meta))
	meta.IndexedFileHashes["b.md"] = "h2"

	snap := cache.Snapshot(vault)
	assert.Equal(t, map[string]string{"a.md": "h1"}, snap.IndexedFileHashes)

	stored, err := store.LoadVaultIndex(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.md": "h1"}, stored.IndexedFileHashes)

	require.NoError(t, cache.Forget(ctx, vault))
	assert.Nil(t, cache.Snapshot(vault))
}
