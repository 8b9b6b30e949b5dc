package main

import (
	"context"
	"time"

	"troffee-auction-engine/internal/adapters/db"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply the embedded schema to the configured Postgres database.

The schema is idempotent, so running migrate twice is safe.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := db.NewConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	if err := conn.Migrate(ctx); err != nil {
		return err
	}

	log.Info().Msg("Database schema applied")
	return nil
}
