package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wfunc/coin-hopper/internal/config"
	"github.com/wfunc/coin-hopper/internal/database"
	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "执行数据库迁移",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return apperrors.New(apperrors.ErrConfigValidate, "database.enabled is false")
	}
	if err := logger.Init(&cfg.Log); err != nil {
		return err
	}
	defer logger.Cleanup()

	log := logger.GetLogger()

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.Migrate(db, log); err != nil {
		return err
	}

	log.Info("数据库迁移完成", zap.String("driver", cfg.Database.Driver))
	return nil
}
