package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	productColumns = `id, name, quantity, sizes, purchase_price, original_price, discount_percentage, discounted_price, updated_at`
	orderColumns   = `id, user_id, items, total, status, created_at, decided_at`
	saleColumns    = `id, product_id, name, selled_at, quantity, selling_price, purchase_price, total_income, total_profit, size, transaction_hash, order_id, deleted, delete_reason, deleted_at`
	ledgerColumns  = `id, product_id, name, quantity, size, selling_price, purchase_price, total_income, real_profit, sale_id, transaction_hash, order_id, created_at, deleted, delete_reason, deleted_at`
)

type pgTx struct {
	store.WriteBuffer
	q querier
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	return getOrder(ctx, t.q, id, true)
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	return getProduct(ctx, t.q, id, true)
}

func (t *pgTx) GetSale(ctx context.Context, productID string, saleID string) (*domain.Sale, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	return getSale(ctx, t.q, productID, saleID, true)
}

func (t *pgTx) FindBalanceTransaction(ctx context.Context, hash string) (*domain.BalanceTransaction, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	return findBalanceTransaction(ctx, t.q, hash, true)
}

func (t *pgTx) OrderHasBalanceTransactions(ctx context.Context, orderID string) (bool, error) {
	if err := t.CheckRead(); err != nil {
		return false, err
	}
	var exists bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM balance_transactions WHERE order_id = $1)
	`, orderID).Scan(&exists)
	return exists, err
}

func lockClause(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func getOrder(ctx context.Context, q querier, id string, lock bool) (*domain.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+lockClause(lock), id)
	return scanOrder(row)
}

func getProduct(ctx context.Context, q querier, id string, lock bool) (*domain.Product, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`+lockClause(lock), id)
	return scanProduct(row)
}

func getSale(ctx context.Context, q querier, productID string, saleID string, lock bool) (*domain.Sale, error) {
	row := q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE product_id = $1 AND id = $2`+lockClause(lock), productID, saleID)
	return scanSale(row)
}

func findBalanceTransaction(ctx context.Context, q querier, hash string, lock bool) (*domain.BalanceTransaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM balance_transactions WHERE transaction_hash = $1`+lockClause(lock), hash)
	return scanLedger(row)
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order     domain.Order
		items     []byte
		status    string
		decidedAt sql.NullTime
	)
	err := row.Scan(&order.ID, &order.UserID, &items, &order.Total, &status, &order.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", order.ID, err)
	}
	if order.Status, err = domain.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.DecidedAt = nullTimePtr(decidedAt)
	return &order, nil
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		product                           domain.Product
		sizes                             []byte
		original, discountPct, discounted decimal.NullDecimal
	)
	err := row.Scan(&product.ID, &product.Name, &product.Quantity, &sizes, &product.PurchasePrice,
		&original, &discountPct, &discounted, &product.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(sizes) > 0 {
		if err := json.Unmarshal(sizes, &product.Sizes); err != nil {
			return nil, fmt.Errorf("decode sizes of product %s: %w", product.ID, err)
		}
	}
	product.OriginalPrice = decimalPtr(original)
	product.DiscountPercentage = decimalPtr(discountPct)
	product.DiscountedPrice = decimalPtr(discounted)
	product.UpdatedAt = product.UpdatedAt.UTC()
	return &product, nil
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var (
		sale      domain.Sale
		size      sql.NullString
		orderID   sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&sale.ID, &sale.ProductID, &sale.Name, &sale.SelledAt, &sale.Quantity,
		&sale.SellingPrice, &sale.PurchasePrice, &sale.TotalIncome, &sale.TotalProfit,
		&size, &sale.TransactionHash, &orderID, &sale.Deleted, &sale.DeleteReason, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sale.Size = nullStringPtr(size)
	sale.OrderID = nullStringPtr(orderID)
	sale.SelledAt = sale.SelledAt.UTC()
	sale.DeletedAt = nullTimePtr(deletedAt)
	return &sale, nil
}

func scanLedger(row rowScanner) (*domain.BalanceTransaction, error) {
	var (
		entry     domain.BalanceTransaction
		size      sql.NullString
		orderID   sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&entry.ID, &entry.ProductID, &entry.Name, &entry.Quantity, &size,
		&entry.SellingPrice, &entry.PurchasePrice, &entry.TotalIncome, &entry.RealProfit,
		&entry.SaleID, &entry.TransactionHash, &orderID, &entry.CreatedAt,
		&entry.Deleted, &entry.DeleteReason, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry.Size = nullStringPtr(size)
	entry.OrderID = nullStringPtr(orderID)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.DeletedAt = nullTimePtr(deletedAt)
	return &entry, nil
}

// applyOp executes one buffered write inside the open transaction.
func applyOp(ctx context.Context, q querier, op store.Op) error {
	switch o := op.(type) {
	case store.IncrementQuantityOp:
		res, err := q.ExecContext(ctx, `
			UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1
		`, o.ProductID, o.Delta)
		if err != nil {
			return err
		}
		return expectRow(res, "product", o.ProductID)
	case store.SetSizesOp:
		sizes, err := encodeSizes(o.Sizes)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `
			UPDATE products SET sizes = $2, updated_at = now() WHERE id = $1
		`, o.ProductID, sizes)
		if err != nil {
			return err
		}
		return expectRow(res, "product", o.ProductID)
	case store.CreateSaleOp:
		sale := o.Sale
		_, err := q.ExecContext(ctx, `
			INSERT INTO sales (
				id, product_id, name, selled_at, quantity, selling_price, purchase_price,
				total_income, total_profit, size, transaction_hash, order_id
			)
			VALUES ($1,$2,$3,now(),$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.ID, sale.ProductID, sale.Name, sale.Quantity, sale.SellingPrice, sale.PurchasePrice,
			sale.TotalIncome, sale.TotalProfit, nullString(sale.Size), sale.TransactionHash, nullString(sale.OrderID))
		return err
	case store.CreateBalanceTransactionOp:
		entry := o.Entry
		_, err := q.ExecContext(ctx, `
			INSERT INTO balance_transactions (
				id, product_id, name, quantity, size, selling_price, purchase_price,
				total_income, real_profit, sale_id, transaction_hash, order_id, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		`, entry.ID, entry.ProductID, entry.Name, entry.Quantity, nullString(entry.Size), entry.SellingPrice,
			entry.PurchasePrice, entry.TotalIncome, entry.RealProfit, entry.SaleID, entry.TransactionHash, nullString(entry.OrderID))
		return err
	case store.IncrementBalanceOp:
		// Relative update, so no increment is lost. Every sale still writes
		// this one row, and two overlapping sales fail one side with 40001;
		// RunTransaction re-runs it. Expect about one retry per overlap.
		_, err := q.ExecContext(ctx, `
			INSERT INTO balance (id, total_income, real_profit, updated_at)
			VALUES (1, $1, $2, now())
			ON CONFLICT (id) DO UPDATE
			SET total_income = balance.total_income + EXCLUDED.total_income,
				real_profit = balance.real_profit + EXCLUDED.real_profit,
				updated_at = now()
		`, o.Income, o.Profit)
		return err
	case store.SetOrderStatusOp:
		res, err := q.ExecContext(ctx, `
			UPDATE orders SET status = $2, decided_at = now() WHERE id = $1
		`, o.OrderID, o.Status.String())
		if err != nil {
			return err
		}
		return expectRow(res, "order", o.OrderID)
	case store.DeleteSaleOp:
		res, err := q.ExecContext(ctx, `
			UPDATE sales SET deleted = true, delete_reason = $3, deleted_at = now()
			WHERE product_id = $1 AND id = $2
		`, o.ProductID, o.SaleID, o.Reason)
		if err != nil {
			return err
		}
		return expectRow(res, "sale", o.SaleID)
	case store.DeleteBalanceTransactionOp:
		res, err := q.ExecContext(ctx, `
			UPDATE balance_transactions SET deleted = true, delete_reason = $2, deleted_at = now()
			WHERE id = $1
		`, o.ID, o.Reason)
		if err != nil {
			return err
		}
		return expectRow(res, "ledger line", o.ID)
	default:
		return fmt.Errorf("%w: unsupported op %T", store.ErrInvalidInput, op)
	}
}

func expectRow(res sql.Result, kind string, id string) error {
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
	return nil
}

func encodeSizes(sizes []domain.SizeStock) ([]byte, error) {
	if sizes == nil {
		sizes = []domain.SizeStock{}
	}
	return json.Marshal(sizes)
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
