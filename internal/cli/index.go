package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"vaultrag/config"
	"vaultrag/internal/adapter/fs"
	"vaultrag/internal/adapter/store"
)

var (
	indexForce      bool
	indexNoProgress bool
)

var indexCmd = &cobra.Command{
	Use:   "index [vault]",
	Short: "Index a vault for retrieval",
	Long: `Index the notes in a vault. Unchanged files are skipped by content hash,
changed files are re-chunked and re-embedded, and deleted files are removed
from the vector store. Index metadata is stored in .vaultrag/index.db within
the vault.

Examples:
  vaultrag index                 # Index current directory
  vaultrag index ~/notes         # Index a specific vault
  vaultrag index ~/notes --force # Rebuild everything`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "discard the existing index and rebuild")
	indexCmd.Flags().BoolVar(&indexNoProgress, "no-progress", false, "disable the progress bar")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	vault := GetRootDir()
	if len(args) > 0 {
		var err error
		vault, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(vault)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", vault)
	}

	cfg := GetConfig()

	a, err := openApp(ctx, cfg, vault)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	progressCallback := func(processed, total int, currentFile string) {
		if indexNoProgress {
			return
		}
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}

		_ = bar.Set(processed)

		if processed > 0 {
			elapsed := time.Since(startTime)
			rate := float64(processed) / elapsed.Seconds()
			remaining := total - processed
			if rate > 0 {
				eta := time.Duration(float64(remaining)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}

	indexUC, err := a.indexUseCase(progressCallback)
	if err != nil {
		return fmt.Errorf("invalid chunking configuration: %w", err)
	}

	// A changed chunking config or embedding model invalidates every stored vector.
	configHash := store.ComputeConfigHash(cfg.Chunking, a.embedder.ModelName())
	migration, err := a.bolt.CheckMigration(vault, configHash)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}
	if indexForce || migration.NeedsRebuild {
		reason := migration.Reason
		if indexForce {
			reason = "--force"
		}
		fmt.Printf("Index rebuild required: %s\n", reason)
		if err := indexUC.Invalidate(ctx, vault); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}

	fmt.Printf("Scanning %s...\n", vault)
	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes, cfg.Index.RespectGitignore)
	sources, skipped, err := walker.ReadSources(ctx, vault)
	if err != nil {
		return fmt.Errorf("failed to read vault: %w", err)
	}

	result, err := indexUC.Reindex(ctx, vault, sources)
	if result == nil || (err != nil && !errors.Is(err, ctx.Err())) {
		return fmt.Errorf("indexing failed: %w", err)
	}
	if err != nil {
		fmt.Printf("\nIndexing interrupted; completed files were saved.\n")
	} else if err := a.bolt.MarkMigrated(vault, configHash); err != nil {
		return fmt.Errorf("failed to update schema info: %w", err)
	}

	chunks, countErr := a.vectors.Count(ctx)

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Files indexed:  %d\n", result.FilesIndexed)
	fmt.Printf("  Files skipped:  %d (unchanged)\n", result.FilesSkipped)
	fmt.Printf("  Files deleted:  %d (removed)\n", result.FilesDeleted)
	fmt.Printf("  Chunks created: %d\n", result.ChunksCreated)
	if countErr == nil {
		fmt.Printf("  Chunks stored:  %d\n", chunks)
	}

	if len(result.Failures) > 0 || len(skipped) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, f := range result.Failures {
			fmt.Printf("  - %s\n", f)
		}
		for _, p := range skipped {
			fmt.Printf("  - %s: not valid UTF-8, skipped\n", p)
		}
	}

	fmt.Printf("\nIndex stored at: %s\n", config.IndexDBPath(vault))
	return err
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
