package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/pkg/database"
	"github.com/d60-Lab/ghostreply/pkg/logger"
)

// bootstrap 读取配置并初始化日志
func bootstrap() (*config.Config, error) {
	if global.Config != "" {
		if err := os.Setenv("GHOSTREPLY_CONFIG", global.Config); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	logger.Info("database ready", zap.String("driver", cfg.Database.Driver))
	return db, nil
}
