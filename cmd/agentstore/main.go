package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/agentstore/internal/logging"
	"github.com/liliang-cn/agentstore/pkg/agentstore"
	"github.com/liliang-cn/agentstore/pkg/memory"
	"github.com/liliang-cn/agentstore/pkg/vector"
)

var (
	vectorDBPath string
	memoryDBPath string
	annEnabled   bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "agentstore",
	Short: "CLI for the agentstore persistence core",
	Long:  `A command-line interface for the SQLite-backed vector and memory stores used by LLM agents.`,
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage documents in the vector store",
}

var docAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a document with its embedding",
	RunE: func(cmd *cobra.Command, args []string) error {
		content, _ := cmd.Flags().GetString("content")
		vectorStr, _ := cmd.Flags().GetString("vector")
		metadataStr, _ := cmd.Flags().GetString("metadata")

		embedding, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		var metadata map[string]any
		if metadataStr != "" {
			if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
				return fmt.Errorf("invalid metadata JSON: %w", err)
			}
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.Documents().AddDocument(context.Background(), content, embedding, metadata)
		if err != nil {
			return fmt.Errorf("failed to add document: %w", err)
		}

		fmt.Printf("Document added with id %s\n", id)
		return nil
	},
}

var docGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a document by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		doc, err := db.Vectors().GetDocument(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(doc, "", "  ")
			fmt.Println(string(data))
		} else {
			fmt.Printf("ID: %s\n", doc.ID)
			fmt.Printf("Content: %s\n", doc.Content)
			fmt.Printf("Dimensions: %d\n", len(doc.Embedding))
			fmt.Printf("Created: %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Documents().DeleteDocument(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}

		fmt.Printf("Document '%s' deleted\n", args[0])
		return nil
	},
}

var docBatchCmd = &cobra.Command{
	Use:   "batch <json-file>",
	Short: "Add documents in batch from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var inputs []vector.Input
		if err := json.Unmarshal(data, &inputs); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ids, err := db.Documents().AddDocuments(context.Background(), inputs)
		if err != nil {
			return fmt.Errorf("batch insert failed: %w", err)
		}

		fmt.Printf("Successfully added %d documents\n", len(ids))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for similar documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		k, _ := cmd.Flags().GetInt("top-k")

		query, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		results, err := db.Documents().SimilaritySearch(context.Background(), query, k)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(results, "", "  ")
			fmt.Println(string(data))
		} else {
			fmt.Printf("Found %d results:\n", len(results))
			for i, result := range results {
				fmt.Printf("%d. %s (score: %.4f)\n", i+1, result.ID, result.Score)
				if verbose && result.Content != "" {
					fmt.Printf("   Content: %s\n", result.Content)
				}
			}
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		vstats, err := db.Vectors().Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get vector stats: %w", err)
		}
		mstats, err := db.Memory().Stats(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to get memory stats: %w", err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			out := map[string]any{
				"vectors": vstats,
				"memory":  mstats,
				"pools":   db.Pool().AllStats(),
			}
			if ix := db.Index(); ix != nil {
				out["index"] = ix.Stats()
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Println("Vector store:")
		fmt.Printf("  Documents: %d\n", vstats.Documents)
		fmt.Printf("  Dimensions: %d\n", vstats.Dimension)
		if ix := db.Index(); ix != nil {
			istats := ix.Stats()
			fmt.Println("Approximate index:")
			fmt.Printf("  Points: %d\n", istats.Points)
			fmt.Printf("  Tombstones: %d\n", istats.Tombstones)
		}
		fmt.Println("Memory store:")
		fmt.Printf("  Messages: %d\n", mstats.Messages)
		fmt.Printf("  Contexts: %d\n", mstats.Contexts)
		fmt.Printf("  Long-term entries: %d\n", mstats.LongTerm)
		fmt.Printf("  Checkpoints: %d\n", mstats.Checkpoints)
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the approximate index from the vector store",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ix := db.Index()
		if ix == nil {
			return fmt.Errorf("approximate index is disabled")
		}

		fmt.Println("Rebuilding index...")
		if err := ix.RebuildIndex(context.Background()); err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}

		stats := ix.Stats()
		fmt.Printf("Index rebuilt with %d points\n", stats.Points)
		return nil
	},
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage the unified memory store",
}

var memoryExportCmd = &cobra.Command{
	Use:   "export <json-file>",
	Short: "Export all memory to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		data, err := db.Memory().Export(context.Background())
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], out, 0o644); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}

		fmt.Printf("Exported %d messages, %d contexts, %d long-term entries, %d checkpoints\n",
			len(data.Messages), len(data.Contexts), len(data.LongTerm), len(data.Checkpoints))
		return nil
	},
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <json-file>",
	Short: "Import memory from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var data memory.ExportData
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Memory().Import(context.Background(), &data); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Println("Import complete")
		return nil
	},
}

var memoryCleanupCmd = &cobra.Command{
	Use:   "cleanup <days>",
	Short: "Delete memory older than the given number of days",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid day count: %w", err)
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Printf("Delete all memory older than %d days? [y/N]: ", days)
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := db.Memory().Cleanup(context.Background(), days)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}

		fmt.Printf("Deleted %d messages, %d contexts, %d long-term entries, %d checkpoints\n",
			result.Messages, result.Contexts, result.LongTerm, result.Checkpoints)
		return nil
	},
}

var memoryAnalyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Display aggregate memory usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		a, err := db.Memory().MemoryAnalytics(context.Background())
		if err != nil {
			return fmt.Errorf("analytics failed: %w", err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(a, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Println("Memory analytics:")
		fmt.Printf("  Messages: %d across %d sessions\n", a.TotalMessages, a.TotalSessions)
		fmt.Printf("  Long-term entries: %d (avg importance %.2f)\n", a.TotalLongTerm, a.AverageImportance)
		fmt.Printf("  Checkpoints: %d\n", a.TotalCheckpoints)
		fmt.Printf("  Database size: %.2f MB\n", float64(a.DatabaseSizeBytes)/(1024*1024))
		for _, cc := range a.TopCategories {
			fmt.Printf("  Category %s: %d\n", cc.Category, cc.Count)
		}
		return nil
	},
}

func parseVector(str string) ([]float32, error) {
	if str == "" {
		return nil, fmt.Errorf("vector is required")
	}
	var out []float32
	for _, part := range strings.Split(str, ",") {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format: %w", err)
		}
		out = append(out, float32(val))
	}
	return out, nil
}

func openDB() (*agentstore.DB, error) {
	cfg := agentstore.FromEnv()
	if vectorDBPath != "" {
		cfg.VectorDBPath = vectorDBPath
	}
	if memoryDBPath != "" {
		cfg.MemoryDBPath = memoryDBPath
	}
	cfg.ANN.Enabled = annEnabled

	var opts []agentstore.Option
	if verbose {
		opts = append(opts, agentstore.WithLogger(logging.NewStd(logging.LevelDebug)))
	}

	db, err := agentstore.Open(context.Background(), cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return db, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&vectorDBPath, "vector-db", "d", "", "Vector database file path")
	rootCmd.PersistentFlags().StringVarP(&memoryDBPath, "memory-db", "m", "", "Memory database file path")
	rootCmd.PersistentFlags().BoolVar(&annEnabled, "ann", true, "Use the approximate index for search")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	docCmd.AddCommand(docAddCmd, docGetCmd, docDeleteCmd, docBatchCmd)
	docAddCmd.Flags().String("content", "", "Document content")
	docAddCmd.Flags().String("vector", "", "Embedding values (comma-separated)")
	docAddCmd.Flags().String("metadata", "", "Metadata as JSON")
	docAddCmd.MarkFlagRequired("vector")

	docGetCmd.Flags().Bool("json", false, "Output as JSON")

	searchCmd.Flags().String("vector", "", "Query vector (comma-separated)")
	searchCmd.Flags().Int("top-k", 10, "Number of results")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
	searchCmd.MarkFlagRequired("vector")

	statsCmd.Flags().Bool("json", false, "Output as JSON")

	memoryCmd.AddCommand(memoryExportCmd, memoryImportCmd, memoryCleanupCmd, memoryAnalyticsCmd)
	memoryCleanupCmd.Flags().Bool("force", false, "Skip confirmation prompt")
	memoryAnalyticsCmd.Flags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		docCmd,
		searchCmd,
		statsCmd,
		rebuildCmd,
		memoryCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
