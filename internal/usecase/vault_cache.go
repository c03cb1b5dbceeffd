package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"vaultrag/internal/domain"
	"vaultrag/internal/port"
)

// ContentHash returns the hex sha256 of a file's content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// VaultIndexCache keeps the last persisted VaultIndexMetadata per vault and
// serializes writers per vault. Different vaults never block each other.
type VaultIndexCache struct {
	store port.MetadataStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	metas map[string]*domain.VaultIndexMetadata
}

func NewVaultIndexCache(store port.MetadataStore) *VaultIndexCache {
	return &VaultIndexCache{
		store: store,
		locks: make(map[string]*sync.Mutex),
		metas: make(map[string]*domain.VaultIndexMetadata),
	}
}

// Lock acquires the writer lock for vaultPath. Call the returned func to
// release it.
func (c *VaultIndexCache) Lock(vaultPath string) (unlock func()) {
	c.mu.Lock()
	l, ok := c.locks[vaultPath]
	if !ok {
		l = &sync.Mutex{}
		c.locks[vaultPath] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Load returns a private copy of the vault's metadata, reading through to the
// store on first use. A vault that was never indexed yields empty metadata.
func (c *VaultIndexCache) Load(ctx context.Context, vaultPath string) (*domain.VaultIndexMetadata, error) {
	if meta := c.Snapshot(vaultPath); meta != nil {
		return meta, nil
	}

	meta, err := c.store.LoadVaultIndex(ctx, vaultPath)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		meta = domain.NewVaultIndexMetadata(vaultPath)
	case err != nil:
		return nil, fmt.Errorf("load vault index: %w", err)
	}
	if meta.IndexedFileHashes == nil {
		meta.IndexedFileHashes = make(map[string]string)
	}

	c.mu.Lock()
	c.metas[vaultPath] = meta
	c.mu.Unlock()
	return meta.Clone(), nil
}

// Replace persists meta and then swaps it into the cache. The cached copy is
// untouched when the write fails.
func (c *VaultIndexCache) Replace(ctx context.Context, meta *domain.VaultIndexMetadata) error {
	if err := c.store.SaveVaultIndex(ctx, meta); err != nil {
		return fmt.Errorf("save vault index: %w", err)
	}
	c.mu.Lock()
	c.metas[meta.VaultPath] = meta.Clone()
	c.mu.Unlock()
	return nil
}

// Forget drops the cached entry and the persisted metadata.
func (c *VaultIndexCache) Forget(ctx context.Context, vaultPath string) error {
	if err := c.store.DeleteVaultIndex(ctx, vaultPath); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete vault index: %w", err)
	}
	c.mu.Lock()
	delete(c.metas, vaultPath)
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the cached metadata, or nil if the vault has not
// been loaded.
func (c *VaultIndexCache) Snapshot(vaultPath string) *domain.VaultIndexMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metas[vaultPath].Clone()
}
