package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/hackscore/internal/api"
	"github.com/mattjoyce/hackscore/internal/auth"
	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/fetch"
	"github.com/mattjoyce/hackscore/internal/lock"
	"github.com/mattjoyce/hackscore/internal/log"
	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/sandbox"
	"github.com/mattjoyce/hackscore/internal/scheduler"
	"github.com/mattjoyce/hackscore/internal/scoring"
	"github.com/mattjoyce/hackscore/internal/storage"
	"github.com/mattjoyce/hackscore/internal/store"
	"github.com/mattjoyce/hackscore/internal/webhook"
	"github.com/mattjoyce/hackscore/internal/workspace"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("hackscore starting", "version", version, "config", resolved)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	st := store.New(db)
	hub := events.NewHub(256)

	fetcher, err := fetch.New(cfg.Fetch)
	if err != nil {
		logger.Error("failed to configure fetcher", "error", err)
		return 1
	}
	wsBaseDir := cfg.WorkspaceBaseDir()
	wsManager, err := workspace.NewFSManager(wsBaseDir, fetcher)
	if err != nil {
		logger.Error("failed to initialize workspace manager", "base_dir", wsBaseDir, "error", err)
		return 1
	}
	runner, err := sandbox.NewExecRunner(cfg.Sandbox.Command, cfg.Sandbox.GracePeriod)
	if err != nil {
		logger.Error("failed to configure sandbox runner", "error", err)
		return 1
	}

	executor := scoring.NewExecutor(st, wsManager, runner, hub, scoring.ExecutorOptions{
		StaleGuard:     cfg.Scoring.StaleGuard,
		KeepWorkspaces: cfg.Scoring.KeepWorkspaces,
	})
	q := queue.New(st, executor, hub, queue.Options{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		PollInterval:  cfg.Queue.PollInterval,
		JobCeiling:    cfg.Queue.JobCeiling,
	})
	svc := scoring.NewService(q, st, hub, cfg.Scoring.RejudgeAllScope)

	sched := scheduler.New(cfg, svc, wsManager, hub, log.WithComponent("scheduler"))
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler failed to start", "error", err)
		return 1
	}
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return q.Start(gctx)
	})

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, q, svc, st, hub, log.WithComponent("api"))
		g.Go(func() error {
			return apiServer.Start(gctx)
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhooks != nil {
		webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhook", "error", err)
			return 1
		}
		webhookServer := webhook.New(webhookConfig, svc, log.WithComponent("webhook"))
		g.Go(func() error {
			return webhookServer.Start(gctx)
		})
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "path", webhookConfig.Path)
	}

	logger.Info("hackscore running (press Ctrl+C to stop)")

	err = g.Wait()
	stop()

	logger.Info("waiting for running jobs to finish")
	q.Wait()
	hub.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("hackscore stopped")
	return 0
}

// loadConfig loads configPath or, when empty, the discovered config.
func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}
