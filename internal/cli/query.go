package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alpkeskin/gotoon"
	"github.com/spf13/cobra"

	"vaultrag/config"
	"vaultrag/internal/adapter/fs"
	"vaultrag/internal/domain"
	"vaultrag/internal/port"
	"vaultrag/internal/usecase"
)

var (
	queryText         string
	queryMode         string
	queryConversation string
	queryWebResults   string
	queryDisplayK     int
	queryJSON         bool
	queryTOON         bool
	queryNoRerank     bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Assemble retrieval context for a question",
	Long: `Retrieve the vault chunks most relevant to a question and assemble them with
web snippets and conversation history according to the retrieval mode.

Modes:
  none    no retrieval
  local   vault chunks only (default)
  web     web snippets only
  hybrid  vault chunks and web snippets

Examples:
  vaultrag query -q "what is RAG?"
  vaultrag query -q "what is RAG?" --mode hybrid --web-results web.json --json
  vaultrag query -q "and how is it evaluated?" -c chat1 --toon`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	queryCmd.Flags().StringVarP(&queryMode, "mode", "m", "local", "retrieval mode: none, local, web, hybrid")
	queryCmd.Flags().StringVarP(&queryConversation, "conversation", "c", "", "conversation id whose history is attached")
	queryCmd.Flags().StringVar(&queryWebResults, "web-results", "", "JSON file of web snippets for web and hybrid modes")
	queryCmd.Flags().IntVarP(&queryDisplayK, "display-k", "k", 0, "number of chunks to return (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryTOON, "toon", false, "output in TOON format (token-efficient)")
	queryCmd.Flags().BoolVar(&queryNoRerank, "no-rerank", false, "disable reranking")
	_ = queryCmd.MarkFlagRequired("query")
}

// chunkResult is the printable projection of a retrieved chunk.
type chunkResult struct {
	FilePath   string  `json:"file_path"`
	Section    string  `json:"section,omitempty"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type queryOutput struct {
	Question string              `json:"question"`
	Mode     string              `json:"mode"`
	Degraded bool                `json:"degraded"`
	Warnings []string            `json:"warnings,omitempty"`
	Local    []chunkResult       `json:"local"`
	Web      []domain.WebSnippet `json:"web"`
	History  []historyEntry      `json:"history"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryJSON && queryTOON {
		return fmt.Errorf("--json and --toon flags are mutually exclusive")
	}

	ctx := cmd.Context()
	cfg := GetConfig()
	vault := GetRootDir()

	mode, err := domain.ParseRetrievalMode(queryMode)
	if err != nil {
		return err
	}

	if queryDisplayK > 0 {
		cfg.Retrieval.DisplayK = queryDisplayK
		if cfg.Retrieval.MaxK < queryDisplayK {
			cfg.Retrieval.MaxK = queryDisplayK
		}
	}
	if queryNoRerank {
		cfg.Retrieval.RerankingEnabled = false
	}

	var ret port.Retriever
	if mode.UsesLocal() {
		if _, err := os.Stat(config.IndexDBPath(vault)); os.IsNotExist(err) {
			return fmt.Errorf("no index found. Run 'vaultrag index' first")
		}
		a, err := openApp(ctx, cfg, vault)
		if err != nil {
			return err
		}
		defer a.Close()

		ret, err = a.retrieveUseCase()
		if err != nil {
			return err
		}
	}

	var web port.WebSearcher
	if queryWebResults != "" {
		web = fs.NewSnippetFile(queryWebResults)
	}

	var memory *usecase.ConversationMemoryProvider
	if queryConversation != "" {
		history, err := openHistory(ctx, cfg, vault)
		if err != nil {
			return err
		}
		defer history.Close()
		memory = usecase.NewConversationMemoryProvider(history, cfg.Memory.Policy())
	}

	svc := usecase.NewContextService(ret, web, memory)
	res, err := svc.Build(ctx, usecase.ContextRequest{
		Question:       queryText,
		Mode:           mode,
		ConversationID: queryConversation,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	out := toQueryOutput(queryText, res)
	switch {
	case queryJSON:
		return outputQueryJSON(out)
	case queryTOON:
		return outputQueryTOON(out)
	}
	printQuery(out)
	return nil
}

func toQueryOutput(question string, res *usecase.ContextResult) queryOutput {
	out := queryOutput{
		Question: question,
		Mode:     string(res.Mode),
		Degraded: res.Degraded,
		Warnings: res.Warnings,
		Local:    make([]chunkResult, len(res.Local)),
		Web:      res.Web,
		History:  make([]historyEntry, len(res.History)),
	}
	for i, c := range res.Local {
		start, _ := strconv.Atoi(c.Metadata[domain.MetaStartLine])
		end, _ := strconv.Atoi(c.Metadata[domain.MetaEndLine])
		out.Local[i] = chunkResult{
			FilePath:   c.Metadata[domain.MetaFilePath],
			Section:    c.Metadata[domain.MetaSectionTitle],
			StartLine:  start,
			EndLine:    end,
			Similarity: c.Similarity,
			Content:    c.Text,
		}
	}
	for i, m := range res.History {
		out.History[i] = historyEntry{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func outputQueryJSON(out queryOutput) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func outputQueryTOON(out queryOutput) error {
	output, err := gotoon.Encode(out)
	if err != nil {
		return fmt.Errorf("failed to encode TOON: %w", err)
	}
	fmt.Println(output)
	return nil
}

func printQuery(out queryOutput) {
	if out.Degraded {
		fmt.Println("Warning: some context sources failed; results may be incomplete.")
		for _, w := range out.Warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	if len(out.History) > 0 {
		fmt.Printf("Conversation history (%d messages):\n", len(out.History))
		for _, h := range out.History {
			fmt.Printf("  %s: %s\n", h.Role, truncateText(h.Content, 120))
		}
		fmt.Println()
	}

	if len(out.Local) == 0 && len(out.Web) == 0 {
		fmt.Println("No results found.")
		return
	}

	if len(out.Local) > 0 {
		fmt.Printf("Found %d vault chunks for: %s\n\n", len(out.Local), out.Question)
		for i, r := range out.Local {
			header := fmt.Sprintf("%s:L%d-%d", r.FilePath, r.StartLine, r.EndLine)
			if r.Section != "" {
				header += " # " + r.Section
			}
			fmt.Printf("--- [%d] %s (similarity: %.2f) ---\n", i+1, header, r.Similarity)
			fmt.Println(truncateText(r.Content, 500))
			fmt.Println()
		}
	}

	if len(out.Web) > 0 {
		fmt.Printf("Web snippets (%d):\n\n", len(out.Web))
		for i, w := range out.Web {
			fmt.Printf("--- [W%d] %s <%s> ---\n", i+1, w.Title, w.URL)
			fmt.Println(truncateText(w.Snippet, 500))
			fmt.Println()
		}
	}
}

func truncateText(text string, n int) string {
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return text
}
