package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/internal/ai"
	"github.com/d60-Lab/ghostreply/internal/api"
	"github.com/d60-Lab/ghostreply/internal/api/handler"
	"github.com/d60-Lab/ghostreply/internal/browser"
	"github.com/d60-Lab/ghostreply/internal/cooldown"
	"github.com/d60-Lab/ghostreply/internal/metrics"
	"github.com/d60-Lab/ghostreply/internal/repository"
	"github.com/d60-Lab/ghostreply/internal/service"
	"github.com/d60-Lab/ghostreply/pkg/alert"
	"github.com/d60-Lab/ghostreply/pkg/database"
	"github.com/d60-Lab/ghostreply/pkg/logger"
	"github.com/d60-Lab/ghostreply/pkg/tracing"
)

type serveCommand struct {
	Start    bool `long:"start" description:"Start the monitor immediately"`
	AutoPost bool `long:"auto-post" description:"With --start, post approved drafts automatically"`
}

func (c *serveCommand) Execute([]string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := alert.Init(cfg.Sentry, version); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer alert.Flush(2 * time.Second)

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	tracker, closeTracker, err := newTracker(cfg, db)
	if err != nil {
		return err
	}
	defer closeTracker()

	m := metrics.New(version)
	ctrl := browser.NewRodController(cfg.Browser, cfg.Filter.MinTextLength)
	defer func() { _ = ctrl.Close() }()

	tweets := repository.NewTweetRepository(db)
	drafts := service.NewDraftService(repository.NewDraftRepository(db), tweets, tracker, ctrl, m, cfg.Monitor.MaxRepliesPerHour)
	monitor := service.NewMonitor(cfg, service.MonitorDeps{
		Controller: ctrl,
		Generator:  ai.NewClient(cfg.AI),
		Tweets:     tweets,
		Drafts:     drafts,
		Cooldown:   tracker,
		Metrics:    m,
	})

	// stop 在写超时之前返回 202
	stopTimeout := cfg.Server.WriteTimeout - 5*time.Second
	if stopTimeout <= 0 {
		stopTimeout = cfg.Server.WriteTimeout
	}
	h := handler.New(monitor, drafts, service.NewTweetService(tweets), cfg.Auth, stopTimeout)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(cfg, h, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if c.Start {
		opts := service.StartOptions{}
		if c.AutoPost {
			opts.AutoPost = &c.AutoPost
		}
		if err := monitor.Start(context.Background(), opts); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control api listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if monitor.Running() {
		if err := monitor.Stop(ctx); err != nil {
			logger.Warn("monitor did not stop cleanly", zap.Error(err))
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// newTracker 配置了 redis 时冷却记录放 redis，否则落库
func newTracker(cfg *config.Config, db *gorm.DB) (cooldown.Tracker, func(), error) {
	if cfg.Redis.Addr == "" {
		return cooldown.NewDBTracker(repository.NewCooldownRepository(db), cfg.Monitor.Cooldown), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("cooldown tracker using redis", zap.String("addr", cfg.Redis.Addr))
	return cooldown.NewRedisTracker(client, cfg.Monitor.Cooldown), func() { _ = client.Close() }, nil
}
