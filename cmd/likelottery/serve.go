package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/likelottery/pkg/api"
	"github.com/Mindburn-Labs/likelottery/pkg/auth"
	"github.com/Mindburn-Labs/likelottery/pkg/config"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
	"github.com/Mindburn-Labs/likelottery/pkg/lottery"
	"github.com/Mindburn-Labs/likelottery/pkg/ratelimit"
	"github.com/Mindburn-Labs/likelottery/pkg/store"
)

func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	port := cmd.String("port", "", "Listen port (overrides PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if *port != "" {
		cfg.Port = *port
	}
	logger := setupLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, stdout); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) error {
	logger = logger.With("component", "server")

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	obs, err := openObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	opts, err := engineOptions(cfg, obs, logger)
	if err != nil {
		return err
	}
	engine := lottery.NewEngine(st, opts...)

	owner, ok := cfg.OwnerAddress()
	if !ok {
		signer, err := crypto.LoadOrGenerateKey(cfg.AdminKeyFile, cfg.Production)
		if err != nil {
			return fmt.Errorf("admin key: %w", err)
		}
		owner = signer.Address()
	}
	if _, err := engine.Init(ctx, owner); err != nil {
		return fmt.Errorf("initialize lottery: %w", err)
	}

	var validator *auth.JWTValidator
	if cfg.JWTSecret != "" {
		if validator, err = auth.NewJWTValidator([]byte(cfg.JWTSecret), cfg.JWTIssuer); err != nil {
			return err
		}
	} else {
		logger.Warn("JWT_SECRET not set, every authenticated route will be rejected")
	}

	apiOpts := api.Options{
		Validator:   validator,
		Policy:      ratelimit.Policy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst},
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		Ready: func(ctx context.Context) error {
			return st.View(ctx, func(r store.Reader) error {
				_, err := r.Head()
				return err
			})
		},
	}
	if cfg.RedisURL != "" {
		rs, err := ratelimit.NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rs.Close() }()
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		apiOpts.Limiter = rs
		apiOpts.Idempotency = api.NewRedisIdempotencyStore(rs.Client(), cfg.IdempotencyTTL)
	} else {
		ms := ratelimit.NewMemoryStore()
		go ms.Run(ctx, time.Minute, 10*time.Minute)
		idem := api.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
		go idem.Run(ctx, 5*time.Minute)
		apiOpts.Limiter = ms
		apiOpts.Idempotency = idem
	}
	if cfg.RateLimitRPM == 0 {
		apiOpts.Limiter = nil
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(engine, apiOpts).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	_, _ = fmt.Fprintf(stdout, "likelottery ready: http://localhost:%s (owner %s)\n", cfg.Port, owner.Hex())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
