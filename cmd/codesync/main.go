package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/madebyisaacr/codesync/internal/config"
	"github.com/madebyisaacr/codesync/internal/control"
	"github.com/madebyisaacr/codesync/internal/logging"
	"github.com/madebyisaacr/codesync/internal/state"
	"github.com/madebyisaacr/codesync/remote"
	"github.com/madebyisaacr/codesync/syncer"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("codesync starting",
		slog.String("version", Version),
		slog.String("remote", cfg.RemoteBaseURL),
		slog.Bool("control", cfg.EnableControl),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statePath := cfg.StatePath
	if statePath == "" {
		statePath = state.DefaultPath()
	}

	stateDB, err := state.LoadAt(statePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer stateDB.Close()

	client := remote.NewClient(nil, cfg.RemoteBaseURL, cfg.RemoteToken, cfg.RemoteTimeout)

	scheduler, err := syncer.NewScheduler(cfg.SyncInterval, client, stateDB, logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	defer scheduler.Stop()

	scheduler.WatchEvery(cfg.WatchInterval)

	if dir := startDirectory(cfg, stateDB, logger); dir != "" {
		if err := scheduler.Start(ctx, dir); err != nil {
			return fmt.Errorf("starting sync: %w", err)
		}
	} else {
		logger.Info("no sync directory configured, waiting for control surface")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.EnableControl {
		g.Go(func() error {
			return control.Serve(gctx, cfg.ControlAddr, Version, scheduler, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		return nil
	})

	return g.Wait()
}

// startDirectory picks the directory to sync at boot: explicit config
// wins, then the directory recorded by a previous session. Empty means
// start idle.
func startDirectory(cfg *config.Config, stateDB *state.Store, logger *slog.Logger) string {
	if cfg.SyncDir != "" {
		return cfg.SyncDir
	}

	session, err := stateDB.Session()
	if err != nil {
		logger.Warn("reading persisted session", slog.String("error", err.Error()))

		return ""
	}

	if session.Directory != "" {
		logger.Info("resuming previous session", slog.String("dir", session.Directory))
	}

	return session.Directory
}
