package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

// DeclineOrder marks a pending order declined. It touches no stock and no
// ledger state. An order that is already decided is left as it is.
func (e *Engine) DeclineOrder(ctx context.Context, orderID string) (domain.OrderDecision, error) {
	orderID, err := requireID("order id", orderID)
	if err != nil {
		return domain.OrderDecision{}, err
	}

	order, changed, err := e.ledger.DecideOrder(ctx, orderID, domain.OrderStatusDeclined)
	if errors.Is(err, store.ErrNotFound) {
		return domain.OrderDecision{}, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return domain.OrderDecision{}, err
	}

	return domain.OrderDecision{
		OrderID:        order.ID,
		Status:         order.Status,
		DecidedAt:      order.DecidedAt,
		AlreadyDecided: !changed,
	}, nil
}
