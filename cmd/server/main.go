package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"butik/backend/internal/cache"
	"butik/backend/internal/config"
	"butik/backend/internal/fulfillment"
	"butik/backend/internal/httpapi"
	"butik/backend/internal/jobs"
	"butik/backend/internal/metrics"
	"butik/backend/internal/service"
	"butik/backend/internal/store"
	"butik/backend/internal/store/memory"
	mongostore "butik/backend/internal/store/mongo"
	pgstore "butik/backend/internal/store/postgres"
)

const minSecretLength = 32

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	closers := make([]func() error, 0, 3)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", slog.Any("error", err))
			}
		}
	}()

	startupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	repo, err := openRepository(startupCtx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, repo.Close)

	m := metrics.New()
	opts := []service.Option{service.WithMetrics(m), service.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDecisionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startupCtx); err != nil {
			logger.Warn("redis unavailable, decision cache disabled", slog.Any("error", err))
			_ = redisCache.Close()
		} else {
			opts = append(opts, service.WithDecisionCache(redisCache, cfg.DecisionCacheTTL))
			closers = append(closers, redisCache.Close)
			logger.Info("decision cache: redis", slog.String("addr", cfg.RedisAddr))
		}
	}

	engine := fulfillment.New(repo, logger)
	svc := service.New(repo, engine, opts...)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		RequestTimeout: cfg.RequestTimeout,
		Production:     cfg.IsProduction(),
		Metrics:        m,
		Logger:         logger,
	})

	requestStartupReconcile(startupCtx, cfg, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("butik backend listening", slog.String("addr", cfg.Address()), slog.String("backend", cfg.LedgerBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.WithMaxAttempts(cfg.TxMaxAttempts), pgstore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		logger.Info("repository: postgres")
		return pg, nil
	case config.BackendMongo:
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase, mongostore.WithMaxAttempts(cfg.TxMaxAttempts), mongostore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := mg.Migrate(ctx); err != nil {
			_ = mg.Close()
			return nil, err
		}
		logger.Info("repository: mongo", slog.String("database", cfg.MongoDatabase))
		return mg, nil
	default:
		logger.Info("repository: in-memory seeded catalog")
		return memory.NewSeeded(memory.WithMaxAttempts(cfg.TxMaxAttempts)), nil
	}
}

// requestStartupReconcile asks the worker for one reconcile run after a
// deploy. The in-memory ledger is private to this process, so it is skipped.
func requestStartupReconcile(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	if cfg.RedisAddr == "" || cfg.LedgerBackend == config.BackendMemory {
		return
	}
	client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = client.Close() }()

	info, err := client.EnqueueReconcile(ctx, "startup")
	if err != nil {
		logger.Warn("enqueue startup reconcile", slog.Any("error", err))
		return
	}
	logger.Info("startup reconcile enqueued", slog.String("task_id", info.ID))
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) >= minSecretLength {
		return nil
	}
	if cfg.IsProduction() {
		return fmt.Errorf("AUTH_SECRET must be set and at least %d characters", minSecretLength)
	}
	slog.Warn("AUTH_SECRET is short or unset; acceptable only outside production")
	return nil
}
