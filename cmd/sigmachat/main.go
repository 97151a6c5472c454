package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/leanworks/sigmachat/config"
	"github.com/leanworks/sigmachat/internal/kb"
	"github.com/leanworks/sigmachat/internal/rag"
	srv "github.com/leanworks/sigmachat/internal/server"
	"github.com/leanworks/sigmachat/internal/store"
	"github.com/leanworks/sigmachat/provider"
)

func main() {
	var root = &cobra.Command{Use: "sigmachat"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)
			if serveAddr == "" {
				serveAddr = os.Getenv("SIGMACHAT_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address")

	var migDir string
	var direction string
	var steps int
	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				dsn = os.Getenv("DATABASE_URL")
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var ingestDir string
	var ingest = &cobra.Command{
		Use:   "ingest",
		Short: "Embed the knowledge base into the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)
			if ingestDir == "" {
				ingestDir = cfg.Docs.KnowledgeBaseDir
			}
			return runIngest(cmd.Context(), cfg, ingestDir)
		},
	}
	ingest.Flags().StringVar(&ingestDir, "dir", "", "knowledge base directory (default from config)")

	root.AddCommand(serve, migrateCmd, ingest)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runIngest embeds every knowledge-base document whose content changed
// since the last run.
func runIngest(ctx context.Context, cfg *appconfig.Config, dir string) error {
	logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.DB.Close()

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	library, err := kb.New(dir)
	if err != nil {
		return err
	}
	docs, err := library.List()
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no markdown documents under %s", dir)
	}

	chunker := rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	ingestor := rag.NewIngestor(llm, st, chunker, cfg.RAG.EmbedBatchSize, cfg.RAG.EmbedRatePerSecond)
	if err := ingestor.Warmup(ctx); err != nil {
		return fmt.Errorf("embedding provider warmup: %w", err)
	}

	total := 0
	for _, info := range docs {
		doc, err := library.Get(info.Path)
		if err != nil {
			return fmt.Errorf("load %s: %w", info.Path, err)
		}
		_, body := kb.SplitFrontMatter(doc.Content)
		meta := map[string]string{"title": info.Title}
		if info.Category != "" {
			meta["category"] = info.Category
		}
		n, err := ingestor.Ingest(ctx, info.Path, body, meta)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", info.Path, err)
		}
		logger.Printf("%s: %d chunks", info.Path, n)
		total += n
	}
	logger.Printf("done: %d documents, %d chunks", len(docs), total)
	return nil
}
