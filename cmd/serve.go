package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillhq/quill/api"
	"github.com/quillhq/quill/db"
	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/database"
	"github.com/quillhq/quill/internal/document"
	"github.com/quillhq/quill/internal/embedding"
	"github.com/quillhq/quill/internal/gemini"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.Server.LogLevel),
		JSON:  cfg.Server.LogJSON,
	})

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.Postgres.URL(), logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.Postgres.URL(), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	provider, err := gemini.New(ctx, cfg.AI.GeminiAPIKey, cfg.AI.Model, cfg.AI.EmbedderModel, logger,
		gemini.WithTimeout(cfg.AI.RequestTimeout),
		gemini.WithRateLimit(float64(cfg.AI.RequestsPerMinute)/60, cfg.AI.RequestsPerMinute),
	)
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}

	store := document.NewPostgresStore(pool, logger)
	cache := embedding.NewCache(provider, logger,
		embedding.WithMaxEntries(cfg.Embedding.MaxEntries))

	sequencer := document.NewSequencer(store, logger,
		document.WithEmbedder(cache),
		document.WithMaxAttempts(cfg.Document.VersionRetries))

	pipeline := retrieval.New(store, cache, logger)

	manager := chat.NewManager(pipeline, provider, logger,
		chat.WithHistoryLimit(cfg.Chat.HistoryLimit),
		chat.WithGroundingLimit(cfg.Retrieval.GroundingLimit),
		chat.WithSnippetLengths(cfg.Retrieval.SnippetLength, cfg.Retrieval.CitationLength),
		chat.WithFeedbackSaver(store))
	if cfg.Chat.SweepInterval > 0 && cfg.Chat.IdleTimeout > 0 {
		manager.StartSweeper(ctx, cfg.Chat.SweepInterval, cfg.Chat.IdleTimeout)
	}

	server := api.NewServer(
		api.NewHealthHandler(pool, logger),
		api.NewDocumentHandler(store, sequencer, pipeline, cfg.Retrieval.MinSimilarity, logger),
		api.NewQAHandler(manager, store, logger),
		logger,
	)
	return server.Run(ctx, cfg.Server.Addr)
}
