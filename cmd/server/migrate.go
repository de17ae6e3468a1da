package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tradechat-backend/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema",
		Long: `Creates the conversations table and its indexes in DATABASE_URL.

Safe to run multiple times (idempotent). The badger driver needs no migration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runMigrate(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := config.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig(logger)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if cfg.StoreDriver != config.DriverPostgres {
		fmt.Fprintf(out, "Store driver %q needs no migration.\n", cfg.StoreDriver)
		return nil
	}

	pgStore, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer pgStore.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pgStore.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(out, "Schema is up to date.")
	return nil
}
