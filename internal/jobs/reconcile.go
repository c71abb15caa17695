package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"butik/backend/internal/domain"
	"butik/backend/internal/metrics"
)

// Reconciler is satisfied by service.Service.
type Reconciler interface {
	Reconcile(ctx context.Context) (domain.ReconcileReport, error)
}

// ReconcileJob runs the ledger check on a schedule. Drift is reported through
// logs and the drift gauge; it is not a task failure, since retrying cannot
// fix it.
type ReconcileJob struct {
	reconciler Reconciler
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewReconcileJob(reconciler Reconciler, logger *slog.Logger, m *metrics.Metrics) *ReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileJob{reconciler: reconciler, logger: logger, metrics: m}
}

// Handle executes one reconcile run.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.reconciler == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Trigger == "" {
		payload.Trigger = "unknown"
	}

	tracker := j.metrics.Track(TaskLedgerReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	logger := j.logger.With(slog.String("job", TaskLedgerReconcile), slog.String("trigger", payload.Trigger))

	report, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return err
	}

	if !report.Balanced {
		logger.Warn("ledger out of balance",
			slog.String("income_drift", report.IncomeDrift.String()),
			slog.String("profit_drift", report.ProfitDrift.String()),
		)
	}
	logger.Info("completed ledger reconcile",
		slog.Bool("balanced", report.Balanced),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
