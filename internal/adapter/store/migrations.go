package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
	"vaultrag/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

// SchemaInfo stores schema version and configuration hash for one vault.
type SchemaInfo struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
}

// GetSchemaInfo retrieves the schema info recorded for a vault. A vault that
// was never indexed yields a zero SchemaInfo.
func (s *BoltStore) GetSchemaInfo(vaultPath string) (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSchema).Get([]byte(vaultPath))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &info)
	})
	return &info, err
}

// SetSchemaInfo stores the schema info for a vault.
func (s *BoltStore) SetSchemaInfo(vaultPath string, info *SchemaInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchema).Put([]byte(vaultPath), data)
	})
}

// ComputeConfigHash computes a hash of index-relevant configuration.
// Changes to this hash indicate the vault should be re-embedded.
func ComputeConfigHash(chunking domain.ChunkingConfig, embeddingModel string) string {
	relevant := struct {
		TargetTokens  int     `json:"target_tokens"`
		MinTokens     int     `json:"min_tokens"`
		MaxTokens     int     `json:"max_tokens"`
		OverlapTokens int     `json:"overlap_tokens"`
		CharsPerToken float64 `json:"chars_per_token"`
		EmbModel      string  `json:"emb_model"`
	}{
		TargetTokens:  chunking.TargetTokens,
		MinTokens:     chunking.MinTokens,
		MaxTokens:     chunking.MaxTokens,
		OverlapTokens: chunking.OverlapTokens,
		CharsPerToken: chunking.CharsPerToken,
		EmbModel:      embeddingModel,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsRebuild bool
	OldVersion   int
	NewVersion   int
	Reason       string
}

// CheckMigration reports whether the vault's stored chunks were produced
// under a different schema or configuration.
func (s *BoltStore) CheckMigration(vaultPath, configHash string) (*MigrationResult, error) {
	info, err := s.GetSchemaInfo(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version == 0:
		// never indexed; nothing to rebuild
	case info.Version != CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("schema changed from v%d to v%d", info.Version, CurrentSchemaVersion)
	case info.ConfigHash != configHash:
		result.NeedsRebuild = true
		result.Reason = "index configuration changed"
	}

	return result, nil
}

// MarkMigrated records the current schema and configuration for a vault.
func (s *BoltStore) MarkMigrated(vaultPath, configHash string) error {
	return s.SetSchemaInfo(vaultPath, &SchemaInfo{
		Version:    CurrentSchemaVersion,
		ConfigHash: configHash,
	})
}
