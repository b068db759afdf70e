package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"knowgraph/infrastructure/config"
	"knowgraph/infrastructure/di"
	"knowgraph/infrastructure/persistence/dynamodb"
	"knowgraph/infrastructure/persistence/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	Long: `Applies pending SQL migrations to the sqlite database, or creates the
DynamoDB table when it does not exist.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()
	logger := zap.NewNop()

	switch cfg.StoreBackend {
	case config.BackendSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		version, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("sqlite schema at version %d (%s)\n", version, store.Path())

	case config.BackendDynamoDB:
		awsCfg, err := di.ProvideAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		repo := dynamodb.NewGraphRepository(di.ProvideDynamoDBClient(awsCfg, cfg), cfg.DynamoDBTable, logger)
		created, err := repo.EnsureTable(ctx)
		if err != nil {
			return err
		}
		if created {
			cmd.Printf("created DynamoDB table %s\n", cfg.DynamoDBTable)
		} else {
			cmd.Printf("DynamoDB table %s already exists\n", cfg.DynamoDBTable)
		}
	}
	return nil
}
