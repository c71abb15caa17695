package fulfillment

import (
	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

func (e *Engine) ledgerLine(sale domain.Sale) domain.BalanceTransaction {
	return domain.BalanceTransaction{
		ID:              e.newID(),
		ProductID:       sale.ProductID,
		Name:            sale.Name,
		Quantity:        sale.Quantity,
		Size:            sale.Size,
		SellingPrice:    sale.SellingPrice,
		PurchasePrice:   sale.PurchasePrice,
		TotalIncome:     sale.TotalIncome,
		RealProfit:      sale.TotalProfit,
		SaleID:          sale.ID,
		TransactionHash: sale.TransactionHash,
		OrderID:         sale.OrderID,
	}
}

// salePlan accumulates everything one pipeline run writes. Nothing touches
// the store until apply.
type salePlan struct {
	stock  *stockAdjuster
	sales  []domain.Sale
	lines  []domain.BalanceTransaction
	income decimal.Decimal
	profit decimal.Decimal
}

func newSalePlan(stock *stockAdjuster) *salePlan {
	return &salePlan{stock: stock, income: decimal.Zero, profit: decimal.Zero}
}

func (e *Engine) addSale(p *salePlan, sale domain.Sale) {
	p.sales = append(p.sales, sale)
	p.lines = append(p.lines, e.ledgerLine(sale))
	p.income = p.income.Add(sale.TotalIncome)
	p.profit = p.profit.Add(sale.TotalProfit)
}

// apply writes stock, then sales, then ledger lines, then one balance
// increment for the whole plan.
func (p *salePlan) apply(tx store.Tx) error {
	if err := p.stock.Apply(tx); err != nil {
		return err
	}
	for _, sale := range p.sales {
		if err := tx.CreateSale(sale); err != nil {
			return err
		}
	}
	for _, line := range p.lines {
		if err := tx.CreateBalanceTransaction(line); err != nil {
			return err
		}
	}
	return tx.IncrementBalance(p.income, p.profit)
}

func (p *salePlan) receipts() []domain.SaleReceipt {
	out := make([]domain.SaleReceipt, 0, len(p.sales))
	for _, sale := range p.sales {
		out = append(out, receiptFor(sale))
	}
	return out
}
