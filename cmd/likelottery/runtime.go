package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/likelottery/pkg/config"
	"github.com/Mindburn-Labs/likelottery/pkg/lottery"
	"github.com/Mindburn-Labs/likelottery/pkg/observability"
	"github.com/Mindburn-Labs/likelottery/pkg/store"
)

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openStore uses Postgres when DATABASE_URL is set and SQLite lite mode otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath()), 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	slog.Info("DATABASE_URL not set, running in lite mode", "sqlite", cfg.SQLitePath())
	return store.OpenSQLite(ctx, cfg.SQLitePath())
}

func openObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.Enabled = cfg.Observability.Enabled
	oc.OTLPEndpoint = cfg.Observability.Endpoint
	oc.Insecure = cfg.Observability.Insecure
	oc.CAFile = cfg.Observability.CAFile
	oc.SampleRate = cfg.Observability.Sample
	if cfg.Production {
		oc.Environment = "production"
	}
	return observability.New(ctx, oc)
}

func engineOptions(cfg *config.Config, obs *observability.Provider, logger *slog.Logger) ([]lottery.Option, error) {
	opts := []lottery.Option{
		lottery.WithCrankInterval(cfg.CrankInterval),
		lottery.WithObservability(obs),
		lottery.WithLogger(logger),
	}
	if cfg.RandomnessSeed != "" {
		seed, err := hex.DecodeString(cfg.RandomnessSeed)
		if err != nil {
			return nil, fmt.Errorf("randomness seed: %w", err)
		}
		src, err := lottery.NewSeededSource(seed)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lottery.WithRandomness(src))
	}
	return opts, nil
}
