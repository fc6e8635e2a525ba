package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vibecards-backend/internal/config"
	"vibecards-backend/internal/database"
	"vibecards-backend/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		if cfg.StoreDriver == config.StoreDriverGorm {
			db, err := database.OpenGorm(cfg.DatabaseURL, log)
			if err != nil {
				return err
			}
			if err := repository.AutoMigrateGorm(db); err != nil {
				return err
			}
			log.Info("✓ gorm schema migrated", zap.String("dialect", db.Dialector.Name()))
			return nil
		}

		pool, err := database.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.RunMigrations(cmd.Context(), pool, log); err != nil {
			return err
		}
		log.Info("✓ Database migrations applied")
		return nil
	},
}
