package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/nurse-call-api/internal/config"
	"github.com/jwalitptl/nurse-call-api/internal/repository/postgres"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the request archive schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			log := logger.NewLogger(cfg.Log.ToLoggerConfig())

			if cfg.Database.URL == "" {
				return errors.New("database.url is not set")
			}
			db, err := postgres.NewDB(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info("Archive schema is up to date")
			return nil
		},
	}
}
