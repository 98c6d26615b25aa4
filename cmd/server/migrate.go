package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xtrntr/marketplace/internal/db"
)

// MigrateCmd applies the database schema
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.Host == "" {
			return errors.New("database.host is not configured")
		}
		ctx := cmd.Context()

		database, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close(ctx)

		if err := database.Migrate(ctx); err != nil {
			return err
		}
		logger.Info().Str("database", cfg.Database.Name).Msg("schema applied")
		return nil
	},
}
