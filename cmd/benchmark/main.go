package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vaultrag/config"
	"vaultrag/internal/adapter/embedding"
	"vaultrag/internal/adapter/store"
	"vaultrag/internal/adapter/transport"
	"vaultrag/internal/domain"
	"vaultrag/internal/port"
	"vaultrag/internal/usecase"
)

func main() {
	vaultPath := flag.String("vault", ".", "Path to indexed vault")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -vault ~/notes -q \"query\"")
		fmt.Println("\nTests:")
		fmt.Println("  1. Embedding infrastructure (model connection, vector store)")
		fmt.Println("  2. Semantic similarity (query vs results)")
		fmt.Println("  3. Retrieval latency (embed, search, filter)")
		os.Exit(1)
	}

	vault, err := filepath.Abs(*vaultPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid vault path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(vault)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewBoltStore(config.IndexDBPath(vault))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	embedder, vectorStore, err := setupEmbedding(ctx, st, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Semantic search not available: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))

	count, _ := vectorStore.Count(ctx)
	fmt.Printf("Chunks indexed: %d\n", count)
	fmt.Printf("Model: %s (%s)\n", cfg.Embedding.Model, cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n", embedder.Dimension())
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	// Raw similarity: no threshold, rewriting or reranking.
	retrieve := usecase.NewRetrieveUseCase(embedder, vectorStore, nil, nil, usecase.RetrievalSettings{
		RetrievalConfig: domain.RetrievalConfig{
			SimilarityThreshold: 0,
			TopK:                *topK,
			MaxK:                *topK,
			DisplayK:            *topK,
		},
	})

	start := time.Now()
	results, err := retrieve.Retrieve(ctx, *query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieval error: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}

	fmt.Printf("Top %d semantic matches (%s):\n\n", len(results), elapsed.Round(time.Millisecond))

	totalScore := 0.0
	for i, r := range results {
		preview := []rune(r.Text)
		if len(preview) > 150 {
			preview = append(preview[:150], []rune("...")...)
		}

		similarity := r.Similarity
		totalScore += similarity

		rating := "LOW"
		if similarity > 0.7 {
			rating = "HIGH"
		} else if similarity > 0.5 {
			rating = "GOOD"
		} else if similarity > 0.3 {
			rating = "OK"
		}

		fmt.Printf("%d. [%s %.3f] %s:L%s-%s\n", i+1, rating, similarity,
			shortPath(r.Metadata[domain.MetaFilePath]), r.Metadata[domain.MetaStartLine], r.Metadata[domain.MetaEndLine])
		fmt.Printf("   %s\n\n", strings.ReplaceAll(string(preview), "\n", " "))
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Similarity)
	fmt.Printf("  Latency:            %s\n", elapsed.Round(time.Millisecond))

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - semantic search working well")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - may need better embeddings or re-indexing")
	}
}

func shortPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 2 {
		return parts[len(parts)-1]
	}
	return path
}

func setupEmbedding(ctx context.Context, st *store.BoltStore, cfg *config.Config) (port.Embedder, port.VectorStore, error) {
	if b := cfg.VectorStore.Backend; b != "" && b != "bolt" {
		return nil, nil, fmt.Errorf("benchmark reads the bolt vector store, config uses %q", b)
	}

	client := transport.New(transport.Options{
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxRetries:     cfg.HTTP.MaxRetries,
		RetryDelay:     cfg.HTTP.RetryDelay,
	})

	var embedder port.Embedder
	var err error

	ec := cfg.Embedding
	switch ec.Provider {
	case "ollama":
		embedder = embedding.NewOllamaEmbedder(client, embedding.OllamaOptions{
			BaseURL:        ec.BaseURL,
			APIPath:        ec.APIPath,
			Model:          ec.Model,
			Dimension:      ec.Dimension,
			BatchSize:      ec.BatchSize,
			MaxConcurrent:  ec.MaxConcurrentEmbeds,
			DocumentPrefix: ec.DocumentPrefix,
			QueryPrefix:    ec.QueryPrefix,
		})
	case "openai":
		embedder, err = embedding.NewOpenAIEmbedder(client, ec.APIKeyEnv, ec.Model, ec.BatchSize)
	case "mock":
		embedder = embedding.NewMockEmbedder(ec.Dimension)
	default:
		return nil, nil, fmt.Errorf("unsupported provider: %s", ec.Provider)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("embedder init failed: %w", err)
	}

	vectorStore, err := store.NewBoltVectorStore(st.DB(), embedder.Dimension())
	if err != nil {
		return nil, nil, fmt.Errorf("vector store failed: %w", err)
	}

	count, _ := vectorStore.Count(ctx)
	if count == 0 {
		return nil, nil, fmt.Errorf("no embeddings - run 'vaultrag index' first")
	}

	return embedder, vectorStore, nil
}
