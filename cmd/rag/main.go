// Package main provides the rag CLI for ingesting PDFs and querying them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/pdf-rag/internal/app"
	"github.com/bull/pdf-rag/internal/config"
	"github.com/bull/pdf-rag/internal/pipeline"
)

var rootCmd = &cobra.Command{
	Use:   "rag",
	Short: "PDF retrieval-augmented question answering",
	Long: `Ingest PDF documents into a vector store and answer questions from them.

Environment variables (see .env.example):
  VECTOR_BACKEND   qdrant | pgvector | sqlite (default: qdrant)
  EMBED_BACKEND    local | openai (default: local)
  COLLECTION       Vector collection name (default: docs)
  JOURNAL_PATH     bbolt file for resumable runs (default: in memory)
  OPENAI_API_KEY   Required for EMBED_BACKEND=openai or ANSWER_POLICY=generative`,
	SilenceUsage: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <pdf_path>",
	Short: "Extract, chunk, embed and store a PDF",
	Long: `Runs the ingestion workflow: load-and-chunk, then embed-and-upsert.

Re-ingesting the same source overwrites its chunks. When a run fails,
re-run with the printed --run-id (and a persistent JOURNAL_PATH) to
resume from the failed step.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest every PDF under a GitHub directory",
	Long: `Downloads every .pdf below --path in --repo and ingests each one with
source id "<owner>/<repo>/<path>". Failed documents are reported and skipped.

Environment variables:
  GITHUB_TOKEN   GitHub token for higher rate limits (optional)`,
	RunE: runSync,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove every chunk of a source",
	RunE:  runDelete,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the collection name, dimension and point count",
	RunE:  runInfo,
}

var (
	flagSourceID string
	flagRunID    string
	flagTopK     int
	flagJSON     bool
	flagRepo     string
	flagPath     string
	flagSource   string
)

func init() {
	ingestCmd.Flags().StringVar(&flagSourceID, "source-id", "", "source identifier stored with each chunk (default: the PDF path)")
	ingestCmd.Flags().StringVar(&flagRunID, "run-id", "", "resume the run with this id")

	queryCmd.Flags().IntVar(&flagTopK, "top-k", 0, "number of chunks to retrieve (default: TOP_K)")
	queryCmd.Flags().StringVar(&flagRunID, "run-id", "", "run id recorded in the journal")
	queryCmd.Flags().BoolVar(&flagJSON, "json", false, "print the result as JSON")

	syncCmd.Flags().StringVar(&flagRepo, "repo", "", "GitHub repository as owner/name")
	syncCmd.Flags().StringVar(&flagPath, "path", "", "directory within the repository (default: root)")
	_ = syncCmd.MarkFlagRequired("repo")

	deleteCmd.Flags().StringVar(&flagSource, "source", "", "source identifier to delete")
	_ = deleteCmd.MarkFlagRequired("source")

	rootCmd.AddCommand(ingestCmd, queryCmd, syncCmd, deleteCmd, infoCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// buildApp loads configuration and opens the configured backends.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg := config.Load()
	a, err := app.Build(ctx, cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runID := flagRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	fmt.Printf("Ingesting %s (run %s)...\n", args[0], runID)
	result, err := a.Pipeline.Ingest(ctx, runID, pipeline.IngestRequest{
		PDFPath:  args[0],
		SourceID: flagSourceID,
	})
	if err != nil {
		return fmt.Errorf("ingest failed, resume with --run-id %s: %w", runID, err)
	}

	fmt.Printf("Ingested %d chunks in %s\n", result.Ingested, time.Since(start).Round(time.Millisecond))
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Pipeline.Query(ctx, flagRunID, pipeline.QueryRequest{
		Question: strings.Join(args, " "),
		TopK:     flagTopK,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Println(result.Answer)
	fmt.Println()
	fmt.Printf("Contexts: %d\n", result.NumContexts)
	if len(result.Sources) > 0 {
		fmt.Println("Sources:")
		for _, s := range result.Sources {
			fmt.Printf("  - %s\n", s)
		}
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fetcher, err := a.Fetcher(flagRepo, flagPath)
	if err != nil {
		return err
	}

	fmt.Printf("Syncing PDFs from %s/%s...\n", fetcher.Repository(), fetcher.FullPath(""))
	result, err := a.Pipeline.Sync(ctx, fetcher)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Sync complete!")
	fmt.Printf("  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Printf("  Chunks: %d\n", result.TotalChunks)
	fmt.Printf("  Commit: %s\n", result.CommitSHA)

	if len(result.FailedDocs) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Pipeline.DeleteSource(ctx, flagSource); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Printf("Deleted chunks of %s\n", flagSource)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.Pipeline.Info(ctx)
	if err != nil {
		return fmt.Errorf("info failed: %w", err)
	}
	fmt.Printf("Collection: %s\n", info.Name)
	fmt.Printf("  Dimension: %d\n", info.Dimension)
	fmt.Printf("  Points: %d\n", info.Points)
	return nil
}
