package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/d60-Lab/ghostreply/internal/browser"
	"github.com/d60-Lab/ghostreply/internal/cooldown"
	"github.com/d60-Lab/ghostreply/internal/metrics"
	"github.com/d60-Lab/ghostreply/internal/repository"
	"github.com/d60-Lab/ghostreply/internal/service"
	"github.com/d60-Lab/ghostreply/pkg/database"
	"github.com/d60-Lab/ghostreply/pkg/logger"
)

type loginCommand struct{}

func (c *loginCommand) Execute([]string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := browser.NewRodController(cfg.Browser, cfg.Filter.MinTextLength)
	defer func() { _ = ctrl.Close() }()

	fmt.Println("Log in to the site in the opened browser window; the session is saved automatically.")
	if err := ctrl.Login(ctx, cfg.Browser.LoginTimeout); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Printf("Session saved to %s\n", cfg.Browser.SessionFile)
	return nil
}

type requeueCommand struct {
	Args struct {
		IDs []string `positional-arg-name:"draft-id" description:"Failed draft ids; all failed drafts when omitted"`
	} `positional-args:"yes"`
}

func (c *requeueCommand) Execute([]string) error {
	ids := make([]uint, 0, len(c.Args.IDs))
	for _, raw := range c.Args.IDs {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return fmt.Errorf("invalid draft id %q", raw)
		}
		ids = append(ids, uint(id))
	}

	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	tweets := repository.NewTweetRepository(db)
	drafts := service.NewDraftService(
		repository.NewDraftRepository(db),
		tweets,
		cooldown.NewDBTracker(repository.NewCooldownRepository(db), cfg.Monitor.Cooldown),
		nil,
		metrics.New(version),
		cfg.Monitor.MaxRepliesPerHour,
	)
	n, err := drafts.Requeue(context.Background(), ids)
	if err != nil {
		return err
	}
	logger.Info("requeued failed drafts", zap.Int64("count", n))
	fmt.Printf("%d failed draft(s) removed; their tweets will be processed again\n", n)
	return nil
}

type migrateCommand struct{}

func (c *migrateCommand) Execute([]string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	// InitDB 内部已执行迁移
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	return database.Close(db)
}

type hashPasswordCommand struct {
	Cost int `long:"cost" default:"12" description:"bcrypt cost"`
}

func (c *hashPasswordCommand) Execute(args []string) error {
	var password string
	if len(args) > 0 {
		password = args[0]
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return fmt.Errorf("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.Cost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
