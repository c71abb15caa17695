package store

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
)

// Op is one buffered write. Backends apply ops in the order they were added.
type Op interface {
	op()
}

type IncrementQuantityOp struct {
	ProductID string
	Delta     int
}

type SetSizesOp struct {
	ProductID string
	Sizes     []domain.SizeStock
}

type CreateSaleOp struct {
	Sale domain.Sale
}

type CreateBalanceTransactionOp struct {
	Entry domain.BalanceTransaction
}

type IncrementBalanceOp struct {
	Income decimal.Decimal
	Profit decimal.Decimal
}

type SetOrderStatusOp struct {
	OrderID string
	Status  domain.OrderStatus
}

type DeleteSaleOp struct {
	ProductID string
	SaleID    string
	Reason    string
}

type DeleteBalanceTransactionOp struct {
	ID     string
	Reason string
}

func (IncrementQuantityOp) op()        {}
func (SetSizesOp) op()                 {}
func (CreateSaleOp) op()               {}
func (CreateBalanceTransactionOp) op() {}
func (IncrementBalanceOp) op()         {}
func (SetOrderStatusOp) op()           {}
func (DeleteSaleOp) op()               {}
func (DeleteBalanceTransactionOp) op() {}

// WriteBuffer implements the write half of Tx. Backends embed it and call
// CheckRead before serving a read.
type WriteBuffer struct {
	ops []Op
}

func (b *WriteBuffer) CheckRead() error {
	if len(b.ops) > 0 {
		return ErrReadAfterWrite
	}
	return nil
}

func (b *WriteBuffer) Ops() []Op {
	return b.ops
}

func (b *WriteBuffer) IncrementProductQuantity(productID string, delta int) error {
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("%w: product id required", ErrInvalidInput)
	}
	if delta == 0 {
		return nil
	}
	b.ops = append(b.ops, IncrementQuantityOp{ProductID: productID, Delta: delta})
	return nil
}

func (b *WriteBuffer) SetProductSizes(productID string, sizes []domain.SizeStock) error {
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("%w: product id required", ErrInvalidInput)
	}
	for _, bucket := range sizes {
		if bucket.Quantity < 0 {
			return fmt.Errorf("%w: size %s would go negative", ErrInvalidInput, bucket.Size)
		}
	}
	cloned := make([]domain.SizeStock, len(sizes))
	copy(cloned, sizes)
	b.ops = append(b.ops, SetSizesOp{ProductID: productID, Sizes: cloned})
	return nil
}

func (b *WriteBuffer) CreateSale(sale domain.Sale) error {
	if sale.ID == "" || sale.ProductID == "" || sale.TransactionHash == "" {
		return fmt.Errorf("%w: sale id, product id and hash required", ErrInvalidInput)
	}
	b.ops = append(b.ops, CreateSaleOp{Sale: sale})
	return nil
}

func (b *WriteBuffer) CreateBalanceTransaction(entry domain.BalanceTransaction) error {
	if entry.ID == "" || entry.TransactionHash == "" {
		return fmt.Errorf("%w: ledger line id and hash required", ErrInvalidInput)
	}
	b.ops = append(b.ops, CreateBalanceTransactionOp{Entry: entry})
	return nil
}

func (b *WriteBuffer) IncrementBalance(income decimal.Decimal, profit decimal.Decimal) error {
	if income.IsZero() && profit.IsZero() {
		return nil
	}
	b.ops = append(b.ops, IncrementBalanceOp{Income: income, Profit: profit})
	return nil
}

func (b *WriteBuffer) SetOrderStatus(orderID string, status domain.OrderStatus) error {
	if strings.TrimSpace(orderID) == "" || status == domain.OrderStatusUnknown {
		return fmt.Errorf("%w: order id and status required", ErrInvalidInput)
	}
	b.ops = append(b.ops, SetOrderStatusOp{OrderID: orderID, Status: status})
	return nil
}

func (b *WriteBuffer) MarkSaleDeleted(productID string, saleID string, reason string) error {
	if productID == "" || saleID == "" {
		return fmt.Errorf("%w: product id and sale id required", ErrInvalidInput)
	}
	b.ops = append(b.ops, DeleteSaleOp{ProductID: productID, SaleID: saleID, Reason: reason})
	return nil
}

func (b *WriteBuffer) MarkBalanceTransactionDeleted(id string, reason string) error {
	if id == "" {
		return fmt.Errorf("%w: ledger line id required", ErrInvalidInput)
	}
	b.ops = append(b.ops, DeleteBalanceTransactionOp{ID: id, Reason: reason})
	return nil
}
