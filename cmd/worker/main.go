package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"butik/backend/internal/config"
	"butik/backend/internal/fulfillment"
	"butik/backend/internal/jobs"
	"butik/backend/internal/metrics"
	"butik/backend/internal/service"
	"butik/backend/internal/store"
	mongostore "butik/backend/internal/store/mongo"
	pgstore "butik/backend/internal/store/postgres"
)

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

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required for the worker")
	}

	startupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	repo, err := openSharedRepository(startupCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	m := metrics.New()
	svc := service.New(repo, fulfillment.New(repo, logger), service.WithMetrics(m), service.WithLogger(logger))
	reconcile := jobs.NewReconcileJob(svc, logger, m)

	workerCfg := jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerReconcile, Handler: reconcile.Handle},
		},
	}
	if cfg.ReconcileCron != "" {
		task, err := jobs.NewReconcileTask("schedule")
		if err != nil {
			return err
		}
		workerCfg.Cron = append(workerCfg.Cron, jobs.CronRegistration{
			Spec:    cfg.ReconcileCron,
			Task:    task,
			Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(workerCfg)
	if err != nil {
		return err
	}
	logger.Info("reconcile worker configured",
		slog.String("backend", cfg.LedgerBackend),
		slog.String("cron", cfg.ReconcileCron),
	)
	return worker.Run(ctx)
}

// openSharedRepository only accepts backends another process can see; the
// in-memory ledger lives inside the API server.
func openSharedRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		return pgstore.New(ctx, cfg.DatabaseURL, pgstore.WithMaxAttempts(cfg.TxMaxAttempts), pgstore.WithLogger(logger))
	case config.BackendMongo:
		return mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase, mongostore.WithMaxAttempts(cfg.TxMaxAttempts), mongostore.WithLogger(logger))
	default:
		return nil, fmt.Errorf("worker needs LEDGER_BACKEND=postgres or mongo, got %q", cfg.LedgerBackend)
	}
}
