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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/config"
	"saldo/backend/internal/httpapi"
	"saldo/backend/internal/ledger"
	"saldo/backend/internal/lock"
	"saldo/backend/internal/service"
	"saldo/backend/internal/store"
	"saldo/backend/internal/store/memory"
	pgstore "saldo/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *zap.Logger) error {
	cal, err := calendar.Load(cfg.Ledger.Timezone)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.Database.URL != "" {
		if cfg.Database.AutoMigrate {
			applied, err := pgstore.Migrate(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema migrations checked", zap.Bool("applied", applied))
		}
		pg, err := pgstore.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger.Named("store"))
		logger.Info("repository: in-memory")
	}

	var locker ledger.RunLocker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		redisLocker := lock.NewRedisLocker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisLocker.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, rollover lock is process-local", zap.Error(err))
			_ = redisLocker.Close()
		} else {
			locker = redisLocker
			closers = append(closers, redisLocker.Close)
			logger.Info("rollover lock: redis")
		}
	}

	auth := httpapi.NewAuthManager(cfg.Auth.Secret, cfg.TokenTTL(), repo)
	svc := service.New(repo, cal, auth, logger.Named("service"))
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:    cfg.HTTP.AllowedOrigin,
		RetryMaxAttempts: cfg.Retry.MaxAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay(),
	}, logger.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.Info("saldo backend listening", zap.String("addr", cfg.Address()), zap.String("timezone", cfg.Ledger.Timezone))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Ledger.RolloverEnabled {
		trigger := ledger.NewDailyTrigger(svc.Scheduler(), cal, locker, cfg.Ledger.RolloverHour, cfg.RolloverLockTTL(), logger.Named("rollover"))
		g.Go(func() error { return trigger.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	for _, closeFn := range closers {
		if cerr := closeFn(); cerr != nil {
			logger.Warn("close error", zap.Error(cerr))
		}
	}
	return err
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if _, err := time.LoadLocation(cfg.Ledger.Timezone); err != nil {
		return fmt.Errorf("BUSINESS_TIMEZONE %q is not a valid IANA zone: %w", cfg.Ledger.Timezone, err)
	}
	return nil
}
