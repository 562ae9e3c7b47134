package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillhq/quill/db"
	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(*cobra.Command, []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.Server.LogLevel),
		JSON:  cfg.Server.LogJSON,
	})
	return db.Migrate(cfg.Postgres.URL(), logger)
}
