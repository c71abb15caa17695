package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

// AcceptOrder fulfils a pending order: stock, sales, ledger lines, balance
// and the order status are written in one transaction. Calling it on an
// order that is already decided returns the current status and writes
// nothing.
func (e *Engine) AcceptOrder(ctx context.Context, orderID string) (domain.OrderDecision, error) {
	orderID, err := requireID("order id", orderID)
	if err != nil {
		return domain.OrderDecision{}, err
	}

	var decision domain.OrderDecision
	err = e.ledger.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		decision = domain.OrderDecision{OrderID: orderID}

		order, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
		}
		if err != nil {
			return err
		}
		if done, decided := guardPending(order); decided {
			decision = done
			return nil
		}

		partial, err := tx.OrderHasBalanceTransactions(ctx, orderID)
		if err != nil {
			return err
		}
		if partial {
			// An earlier attempt already posted this order's ledger lines.
			decision.Recovered = true
			return tx.SetOrderStatus(orderID, domain.OrderStatusAccepted)
		}

		plan, err := e.planOrder(ctx, tx, order)
		if err != nil {
			return err
		}
		if err := plan.apply(tx); err != nil {
			return err
		}
		decision.Sales = plan.receipts()
		return tx.SetOrderStatus(orderID, domain.OrderStatusAccepted)
	})
	if err != nil {
		return domain.OrderDecision{}, err
	}
	if decision.AlreadyDecided {
		return decision, nil
	}

	decision.Status = domain.OrderStatusAccepted
	if order, err := e.ledger.GetOrder(ctx, orderID); err == nil {
		decision.DecidedAt = order.DecidedAt
	} else {
		e.logger.Warn("read accepted order", slog.String("order_id", orderID), slog.Any("error", err))
	}
	if decision.Recovered {
		e.logger.Warn("order accepted from partial ledger state", slog.String("order_id", orderID))
	}
	return decision, nil
}

// guardPending reports the current decision when the order is no longer
// pending.
func guardPending(order *domain.Order) (domain.OrderDecision, bool) {
	if !order.Status.IsTerminal() {
		return domain.OrderDecision{}, false
	}
	return domain.OrderDecision{
		OrderID:        order.ID,
		Status:         order.Status,
		DecidedAt:      order.DecidedAt,
		AlreadyDecided: true,
	}, true
}

// planOrder reads every product an order touches, then validates each line
// against the snapshots. It performs no writes.
func (e *Engine) planOrder(ctx context.Context, tx store.Tx, order *domain.Order) (*salePlan, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order %s has no items", ErrInvalidInput, order.ID)
	}

	stock := newStockAdjuster()
	lines := make([]lineRef, 0, len(order.Items))
	for i, item := range order.Items {
		line := resolveLineItem(item)
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d has no product id", ErrInvalidInput, i)
		}
		if err := validateSaleInput(line.Price, line.Quantity); err != nil {
			return nil, fmt.Errorf("item %d (%s): %w", i, line.ProductID, err)
		}
		if _, seen := stock.Product(line.ProductID); !seen {
			product, err := tx.GetProduct(ctx, line.ProductID)
			if errors.Is(err, store.ErrNotFound) && line.SplitID {
				line = resolveWholeID(item)
				product, err = tx.GetProduct(ctx, line.ProductID)
			}
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("product %s: %w", line.ProductID, ErrProductNotFound)
			}
			if err != nil {
				return nil, err
			}
			stock.Track(*product)
		}
		lines = append(lines, line)
	}

	plan := newSalePlan(stock)
	for _, line := range lines {
		product, _ := stock.Product(line.ProductID)
		size := line.Size
		if line.SizeFromName && size != nil && product.SizeIndex(*size) < 0 {
			size = nil
		}

		used, err := stock.Reserve(line.ProductID, line.Quantity, size)
		if err != nil {
			return nil, err
		}
		e.addSale(plan, e.newSale(saleFacts{
			Product:      *product,
			Name:         line.Name,
			SellingPrice: line.Price,
			Quantity:     line.Quantity,
			Size:         used,
			OrderID:      &order.ID,
		}))
	}
	return plan, nil
}
