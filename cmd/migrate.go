package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/mealbridge/services/dispatch/config"
	"example.com/mealbridge/services/dispatch/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(".")
		if err != nil {
			return err
		}

		gormDB, err := db.Connect(cfg.DB)
		if err != nil {
			return err
		}

		log.Info().Msg("Running database migrations")
		if err := db.Migrate(gormDB); err != nil {
			return err
		}

		log.Info().Msg("Database migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
