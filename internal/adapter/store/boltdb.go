package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
	"vaultrag/internal/domain"
)

var (
	bucketVaultIndex = []byte("vault_index")
	bucketSchema     = []byte("schema")
)

// BoltStore persists per-vault index metadata. The same *bbolt.DB is shared
// with BoltVectorStore when the bolt backend is selected.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketVaultIndex, bucketSchema} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) LoadVaultIndex(_ context.Context, vaultPath string) (*domain.VaultIndexMetadata, error) {
	var meta domain.VaultIndexMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketVaultIndex).Get([]byte(vaultPath))
		if data == nil {
			return fmt.Errorf("vault index %s: %w", vaultPath, domain.ErrNotFound)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	if meta.IndexedFileHashes == nil {
		meta.IndexedFileHashes = make(map[string]string)
	}
	return &meta, nil
}

// SaveVaultIndex writes the whole record in one Put, so readers see either
// the previous or the new metadata.
func (s *BoltStore) SaveVaultIndex(_ context.Context, meta *domain.VaultIndexMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVaultIndex).Put([]byte(meta.VaultPath), data)
	})
}

func (s *BoltStore) DeleteVaultIndex(_ context.Context, vaultPath string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketVaultIndex).Delete([]byte(vaultPath)); err != nil {
			return err
		}
		return tx.Bucket(bucketSchema).Delete([]byte(vaultPath))
	})
}

// ListVaults returns every vault path with stored metadata.
func (s *BoltStore) ListVaults() ([]string, error) {
	var vaults []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVaultIndex).ForEach(func(k, _ []byte) error {
			vaults = append(vaults, string(k))
			return nil
		})
	})
	return vaults, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
