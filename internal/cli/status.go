package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vaultrag/config"
	"vaultrag/internal/adapter/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status for the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := GetConfig()
		vault := GetRootDir()

		if _, err := os.Stat(config.IndexDBPath(vault)); os.IsNotExist(err) {
			fmt.Println("No index found. Run 'vaultrag index' first.")
			return nil
		}

		a, err := openApp(ctx, cfg, vault)
		if err != nil {
			return err
		}
		defer a.Close()

		// Missing metadata only hides the file count.
		meta, _ := a.metadata.LoadVaultIndex(ctx, vault)
		chunks, err := a.vectors.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count chunks: %w", err)
		}
		info, err := a.bolt.GetSchemaInfo(vault)
		if err != nil {
			return fmt.Errorf("failed to read schema info: %w", err)
		}
		current := store.ComputeConfigHash(cfg.Chunking, a.embedder.ModelName())

		fmt.Printf("Vault:         %s\n", vault)
		fmt.Printf("Index:         %s\n", config.IndexDBPath(vault))
		fmt.Printf("Backend:       %s\n", backendName(cfg.VectorStore.Backend))
		fmt.Printf("Embedder:      %s (%d dims)\n", a.embedder.ModelName(), a.embedder.Dimension())
		if meta != nil {
			fmt.Printf("Files tracked: %d\n", len(meta.IndexedFileHashes))
			if !meta.LastIndexedTime.IsZero() {
				fmt.Printf("Last indexed:  %s\n", meta.LastIndexedTime.Format("2006-01-02 15:04:05"))
			}
		}
		fmt.Printf("Chunks stored: %d\n", chunks)
		fmt.Printf("Schema:        v%d (current v%d)\n", info.Version, store.CurrentSchemaVersion)
		if info.ConfigHash != "" && info.ConfigHash != current {
			fmt.Println("Config:        changed since last index; next 'vaultrag index' rebuilds")
		}

		vaults, err := a.bolt.ListVaults()
		if err == nil && len(vaults) > 1 {
			fmt.Printf("\nOther vaults in this index:\n")
			for _, v := range vaults {
				if v != vault {
					fmt.Printf("  - %s\n", v)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func backendName(b string) string {
	if b == "" {
		return "bolt"
	}
	return b
}
