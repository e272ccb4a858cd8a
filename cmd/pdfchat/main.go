// Package main provides the pdfchat CLI for ingesting PDFs and asking questions about them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/app"
	"github.com/bull/pdfchat/internal/chat"
	"github.com/bull/pdfchat/internal/config"
	"github.com/bull/pdfchat/internal/domain"
	ghclient "github.com/bull/pdfchat/internal/github"
	"github.com/bull/pdfchat/internal/ingest"
	"github.com/bull/pdfchat/internal/logger"
)

var (
	configPath string
	namespace  string
	sessionID  string
)

var rootCmd = &cobra.Command{
	Use:   "pdfchat",
	Short: "Ask questions about PDF documents",
	Long: `CLI for the pdfchat index.

Commands share the server configuration (config file plus environment), so they
operate on the same vector store. With the in-memory vector store nothing outlives
a single command; use qdrant, milvus or postgres for a persistent index.`,
	SilenceUsage: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Extract, chunk and index PDF files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION...",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index every PDF in a GitHub repository",
	Long: `Fetches all PDF files under a repository path and indexes them. Each file keeps
a stable document id derived from its path, so re-running sync replaces documents
in place.

Environment variables:
  GITHUB_OWNER   Repository owner (required)
  GITHUB_REPO    Repository name (required)
  GITHUB_REF     Branch, tag or commit (default: default branch)
  GITHUB_PATH    Directory to scan (default: repository root)
  GITHUB_TOKEN   GitHub token for higher rate limits (optional)`,
	RunE: runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file (optional)")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", domain.DefaultNamespace, "tenant namespace")
	askCmd.Flags().StringVarP(&sessionID, "session", "s", chat.DefaultSession, "conversation session id")

	rootCmd.AddCommand(ingestCmd, askCmd, syncCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the components. The returned cleanup drains
// ingestion and closes the backends.
func setup(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn("close", zap.Error(err))
		}
		_ = log.Sync()
	}
	return a, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	uploads := make([]ingest.Upload, 0, len(args))
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		uploads = append(uploads, ingest.Upload{
			Name:      filepath.Base(path),
			Content:   content,
			MediaType: mediaTypeFor(path),
		})
	}

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	start := time.Now()
	statuses := a.Pipeline.Ingest(ctx, namespace, uploads)

	failed := 0
	for _, st := range statuses {
		if st.State == ingest.StateFailed {
			failed++
			fmt.Printf("  FAILED %s: %s (%s)\n", st.Name, st.Error, st.ErrorKind)
			continue
		}
		fmt.Printf("  ok     %s: %d chunks (id %s)\n", st.Name, st.Chunks, st.DocumentID)
	}
	fmt.Println()
	fmt.Printf("Indexed %d/%d documents in %s\n", len(statuses)-failed, len(statuses), time.Since(start).Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(statuses))
	}
	return nil
}

// mediaTypeFor trusts the extension; content is sniffed again during extraction.
func mediaTypeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return domain.MediaTypePDF
	}
	return "application/octet-stream"
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	answer, err := a.Composer.AnswerWithSources(ctx, chat.Question{
		Namespace: namespace,
		SessionID: sessionID,
		Text:      strings.Join(args, " "),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", domain.KindOf(err), err)
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range answer.Sources {
			fmt.Printf("  - %s #%d (score %.3f)\n", src.DocumentID, src.ChunkIndex, src.Score)
		}
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()

	fmt.Println("Starting sync...")
	fmt.Println()

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	gh := a.Config.GitHub
	if gh.Owner == "" || gh.Repo == "" {
		return fmt.Errorf("GITHUB_OWNER and GITHUB_REPO must be set")
	}
	client, err := ghclient.NewClient(gh.Token)
	if err != nil {
		return fmt.Errorf("Failed to create GitHub client: %w", err)
	}
	fetcher := ghclient.NewFetcher(client, gh.Owner, gh.Repo, gh.Ref, gh.Path)

	fmt.Printf("Indexing PDFs from %s...\n", fetcher.Source())
	result, err := a.Pipeline.Sync(ctx, namespace, fetcher)
	if err != nil {
		return fmt.Errorf("Sync failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Sync complete!")
	fmt.Printf("  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Printf("  Chunks: %d\n", result.TotalChunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))
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
