package cache

import (
	"context"
	"time"

	"butik/backend/internal/domain"
)

// DecisionCache remembers terminal order decisions so repeated accept or
// decline calls can answer without opening a ledger transaction. Entries are
// a hint only; the transaction re-checks the order status.
type DecisionCache interface {
	Get(ctx context.Context, orderID string) (*domain.OrderDecision, bool, error)
	Set(ctx context.Context, decision domain.OrderDecision, ttl time.Duration) error
}

type NoopDecisionCache struct{}

func (NoopDecisionCache) Get(_ context.Context, _ string) (*domain.OrderDecision, bool, error) {
	return nil, false, nil
}

func (NoopDecisionCache) Set(_ context.Context, _ domain.OrderDecision, _ time.Duration) error {
	return nil
}

func decisionKey(orderID string) string {
	return "butik:order-decision:" + orderID
}
