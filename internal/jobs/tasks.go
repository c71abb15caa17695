package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the only queue the worker consumes.
	QueueDefault = "default"
	// TaskLedgerReconcile compares the balance with the active ledger lines.
	TaskLedgerReconcile = "ledger:reconcile"
)

// ReconcilePayload records what triggered a reconcile run.
type ReconcilePayload struct {
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReconcileTask builds a ledger reconcile task.
func NewReconcileTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcilePayload{Trigger: trigger, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data), nil
}
