// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/clipforge/internal/api"
	"github.com/ManuGH/clipforge/internal/assets"
	"github.com/ManuGH/clipforge/internal/config"
	clog "github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/coordinator"
	"github.com/ManuGH/clipforge/internal/pipeline/encoder"
	"github.com/ManuGH/clipforge/internal/pipeline/store"
	"github.com/ManuGH/clipforge/internal/pipeline/worker"
	"github.com/ManuGH/clipforge/internal/version"
)

const shutdownGrace = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	clog.Configure(clog.Config{
		Level:   cfg.LogLevel,
		Service: "clipforge",
		Version: version.Version,
	})
	logger := clog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Str(clog.FieldEvent, "config.invalid").Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str(clog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("addr", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Str("store", cfg.StoreBackend).
		Int("workers", cfg.Workers).
		Msg("starting clipforge")

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Str(clog.FieldEvent, "shutdown").Msg("stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	assetStore := assets.NewStore(filepath.Join(cfg.DataDir, "assets"))
	if err := assetStore.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare asset directories: %w", err)
	}

	jobStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			logger.Error().Err(err).Msg("job store close failed")
		}
	}()

	coord := coordinator.New(jobStore, assetStore, cfg.MaxAttempts)
	adapter := encoder.NewAdapter(cfg.FFmpegBin, cfg.FFprobeBin, assetStore, cfg.EncodeTimeout)

	pool := &worker.Pool{
		Store:          jobStore,
		Exec:           adapter,
		Assets:         assetStore,
		Workers:        cfg.Workers,
		ClaimInterval:  cfg.ClaimInterval,
		HeartbeatEvery: cfg.HeartbeatEvery,
		BackoffBase:    cfg.RetryBackoffBase,
		BackoffMax:     cfg.RetryBackoffMax,
	}
	sweeper := &worker.Sweeper{
		Store:       jobStore,
		Interval:    cfg.SweepInterval,
		TTL:         cfg.HeartbeatTTL,
		BackoffBase: cfg.RetryBackoffBase,
		BackoffMax:  cfg.RetryBackoffMax,
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(coord, assetStore, cfg.RateLimitRPM).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return assetStore.Watch(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(cfg config.Config) (store.StateStore, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "badger":
		return store.OpenBadgerStore(filepath.Join(cfg.DataDir, "state"))
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
