package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

type DirectSale struct {
	ProductID    string
	SellingPrice decimal.Decimal
	Quantity     int
}

// RecordDirectSale sells from the global quantity without an order document.
// The sale and its ledger line carry no order id.
func (e *Engine) RecordDirectSale(ctx context.Context, in DirectSale) (domain.SaleReceipt, error) {
	productID, err := requireID("product id", in.ProductID)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	if err := validateSaleInput(in.SellingPrice, in.Quantity); err != nil {
		return domain.SaleReceipt{}, err
	}

	var receipt domain.SaleReceipt
	err = e.ledger.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
		}
		if err != nil {
			return err
		}

		stock := newStockAdjuster()
		stock.Track(*product)
		if _, err := stock.Reserve(productID, in.Quantity, nil); err != nil {
			return err
		}

		plan := newSalePlan(stock)
		sale := e.newSale(saleFacts{
			Product:      *product,
			SellingPrice: in.SellingPrice,
			Quantity:     in.Quantity,
		})
		e.addSale(plan, sale)
		if err := plan.apply(tx); err != nil {
			return err
		}
		receipt = receiptFor(sale)
		return nil
	})
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	return receipt, nil
}
