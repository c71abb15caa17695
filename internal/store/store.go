package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("write conflict")
	ErrTransient      = errors.New("transient store failure")
	ErrReadAfterWrite = errors.New("read after write inside transaction")
)

// DefaultMaxAttempts bounds how often a conflicting transaction is re-run.
const DefaultMaxAttempts = 5

// TxFunc is re-executed from the top on every attempt. It must not carry
// state read in a previous attempt.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx is a snapshot-read, buffered-write transaction. Every read must happen
// before the first write.
type Tx interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetSale(ctx context.Context, productID string, saleID string) (*domain.Sale, error)
	FindBalanceTransaction(ctx context.Context, hash string) (*domain.BalanceTransaction, error)
	OrderHasBalanceTransactions(ctx context.Context, orderID string) (bool, error)

	IncrementProductQuantity(productID string, delta int) error
	SetProductSizes(productID string, sizes []domain.SizeStock) error
	CreateSale(sale domain.Sale) error
	CreateBalanceTransaction(entry domain.BalanceTransaction) error
	IncrementBalance(income decimal.Decimal, profit decimal.Decimal) error
	SetOrderStatus(orderID string, status domain.OrderStatus) error
	MarkSaleDeleted(productID string, saleID string, reason string) error
	MarkBalanceTransactionDeleted(id string, reason string) error
}

type Ledger interface {
	RunTransaction(ctx context.Context, fn TxFunc) error

	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// DecideOrder moves a pending order to status with a single conditional
	// write. changed is false when the order was already decided.
	DecideOrder(ctx context.Context, id string, status domain.OrderStatus) (order *domain.Order, changed bool, err error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetSale(ctx context.Context, productID string, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, productID string) ([]domain.Sale, error)
	GetBalance(ctx context.Context) (domain.Balance, error)
	FindBalanceTransaction(ctx context.Context, hash string) (*domain.BalanceTransaction, error)
	ListBalanceTransactions(ctx context.Context, filter domain.BalanceTransactionFilter) ([]domain.BalanceTransaction, error)
	SumActiveBalanceTransactions(ctx context.Context) (income decimal.Decimal, profit decimal.Decimal, err error)

	CreateProduct(ctx context.Context, product domain.Product) error
	CreateOrder(ctx context.Context, order domain.Order) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Ledger
	AuditStore
	UserStore
	Close() error
}
