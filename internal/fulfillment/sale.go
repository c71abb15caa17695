package fulfillment

import (
	"strings"

	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
)

type saleFacts struct {
	Product      domain.Product
	Name         string
	SellingPrice decimal.Decimal
	Quantity     int
	Size         *string
	OrderID      *string
}

// newSale builds the sale document and generates its transaction hash. The
// cost basis is captured from the product snapshot and never recomputed.
func (e *Engine) newSale(f saleFacts) domain.Sale {
	name := strings.TrimSpace(f.Product.Name)
	if name == "" {
		name = f.Name
	}
	qty := decimal.NewFromInt(int64(f.Quantity))
	income := f.SellingPrice.Mul(qty)
	cost := f.Product.PurchasePrice.Mul(qty)

	return domain.Sale{
		ID:              e.newID(),
		ProductID:       f.Product.ID,
		Name:            name,
		Quantity:        f.Quantity,
		SellingPrice:    f.SellingPrice,
		PurchasePrice:   f.Product.PurchasePrice,
		TotalIncome:     income,
		TotalProfit:     income.Sub(cost),
		Pricing:         f.Product.Pricing,
		Size:            f.Size,
		TransactionHash: e.hash(f.Product.ID),
		OrderID:         f.OrderID,
	}
}

func receiptFor(sale domain.Sale) domain.SaleReceipt {
	return domain.SaleReceipt{
		SaleID:          sale.ID,
		ProductID:       sale.ProductID,
		TransactionHash: sale.TransactionHash,
		Quantity:        sale.Quantity,
		Size:            sale.Size,
		TotalIncome:     sale.TotalIncome,
		TotalProfit:     sale.TotalProfit,
	}
}
