package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"knowgraph/application/services"
	"knowgraph/infrastructure/config"
	"knowgraph/infrastructure/di"
)

var (
	flagBackend    string
	flagSQLitePath string
	flagTable      string
	flagEndpoint   string
)

var rootCmd = &cobra.Command{
	Use:           "graphctl",
	Short:         "Administer a knowgraph store",
	Long:          `Inspect and maintain graph history in the sqlite or DynamoDB store.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagBackend, "backend", "", "Store backend: sqlite or dynamodb (default from STORE_BACKEND)")
	flags.StringVar(&flagSQLitePath, "sqlite-path", "", "SQLite database file (default from SQLITE_PATH)")
	flags.StringVar(&flagTable, "table", "", "DynamoDB table (default from DYNAMODB_TABLE)")
	flags.StringVar(&flagEndpoint, "endpoint", "", "DynamoDB endpoint override, e.g. DynamoDB Local")
}

// loadConfig reads the usual configuration and applies command line
// overrides on top
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if flagBackend != "" {
		cfg.StoreBackend = flagBackend
	}
	if flagSQLitePath != "" {
		cfg.SQLitePath = flagSQLitePath
	}
	if flagTable != "" {
		cfg.DynamoDBTable = flagTable
	}
	if flagEndpoint != "" {
		cfg.DynamoDBEndpoint = flagEndpoint
	}
	// administrative runs stay quiet unless asked otherwise
	if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}
	cfg.EnableTracing = false
	return cfg, cfg.Validate()
}

// withService runs fn against a fully wired history service
func withService(ctx context.Context, fn func(svc *services.GraphHistoryService) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer cleanup()

	if container.HistoryService == nil {
		return errors.New("history service not configured")
	}
	return fn(container.HistoryService)
}
