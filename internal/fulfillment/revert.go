package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

const defaultRevertReason = "unspecified"

// RevertOutcome describes what a revert actually touched.
type RevertOutcome struct {
	TransactionHash string
	ProductID       string
	Reason          string
	ProductRestored bool
	SizeRestored    bool
	SaleMarked      bool
}

// RevertTransaction undoes one sale: stock goes back to the product, the
// recorded income and profit come off the balance, and both the ledger line
// and the sale are flagged deleted. A product that no longer exists does not
// block the ledger fix.
func (e *Engine) RevertTransaction(ctx context.Context, hash string, reason string) (RevertOutcome, error) {
	hash, err := requireID("transaction hash", hash)
	if err != nil {
		return RevertOutcome{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRevertReason
	}

	var outcome RevertOutcome
	err = e.ledger.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		outcome = RevertOutcome{TransactionHash: hash, Reason: reason}

		entry, err := tx.FindBalanceTransaction(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("transaction %s: %w", hash, ErrTransactionNotFound)
		}
		if err != nil {
			return err
		}
		if err := guardRevertable(entry); err != nil {
			return err
		}
		outcome.ProductID = entry.ProductID

		product, err := tx.GetProduct(ctx, entry.ProductID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		sale, err := tx.GetSale(ctx, entry.ProductID, entry.SaleID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if product != nil {
			stock := newStockAdjuster()
			stock.Track(*product)
			outcome.SizeRestored = stock.Restore(product.ID, entry.Quantity, entry.Size)
			if err := stock.Apply(tx); err != nil {
				return err
			}
			outcome.ProductRestored = true
		}
		if err := tx.IncrementBalance(entry.TotalIncome.Neg(), entry.RealProfit.Neg()); err != nil {
			return err
		}
		if err := tx.MarkBalanceTransactionDeleted(entry.ID, reason); err != nil {
			return err
		}
		if sale != nil && !sale.Deleted {
			if err := tx.MarkSaleDeleted(entry.ProductID, entry.SaleID, reason); err != nil {
				return err
			}
			outcome.SaleMarked = true
		}
		return nil
	})
	if err != nil {
		return RevertOutcome{}, err
	}

	if !outcome.ProductRestored {
		e.logger.Warn("reverted transaction without restock",
			slog.String("transaction_hash", hash),
			slog.String("product_id", outcome.ProductID),
		)
	}
	return outcome, nil
}

// guardRevertable rejects ledger lines that were already reverted or are
// missing the fields a revert relies on.
func guardRevertable(entry *domain.BalanceTransaction) error {
	if entry.Deleted {
		return fmt.Errorf("transaction %s: %w", entry.TransactionHash, ErrAlreadyReverted)
	}
	if !entry.Complete() {
		return fmt.Errorf("transaction %s: %w", entry.TransactionHash, ErrIncompleteTransactionData)
	}
	return nil
}
