package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
	"genstudio/internal/store/sqlitestore"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chat store schema",
		Long:  "Applies the schema for STORE_DRIVER: gorm auto-migration for sqlite, the inline SQL schema for postgres.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			return runMigrate(cmd, cfg)
		},
	}
}

func runMigrate(cmd *cobra.Command, cfg *infra.Config) error {
	out := cmd.OutOrStdout()

	if cfg.StoreDriver != infra.StorePostgres {
		store, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Fprintf(out, "Migrated sqlite store at %s\n", cfg.SQLitePath)
		return nil
	}

	_, schema, err := infra.ExtractMarker(sqlinline.Schema)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	fmt.Fprintln(out, "Applied postgres schema")
	return nil
}
