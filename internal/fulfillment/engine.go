// Package fulfillment turns orders and counter sales into stock movements,
// sale records and ledger lines, and reverts them. Every pipeline runs as a
// single store transaction; retries on write conflicts belong to the store.
package fulfillment

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"butik/backend/internal/store"
	"butik/backend/internal/xid"
)

type Engine struct {
	ledger store.Ledger
	logger *slog.Logger
	hash   func(productID string) string
	newID  func() string
}

type Option func(*Engine)

// WithHashFunc replaces the transaction hash generator.
func WithHashFunc(fn func(productID string) string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.hash = fn
		}
	}
}

func WithIDFunc(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func New(ledger store.Ledger, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		ledger: ledger,
		logger: logger.With(slog.String("component", "fulfillment")),
		hash:   xid.TransactionHash,
		newID:  xid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MoneyScale is the number of decimal places stored for money. The SQL
// ledger columns are NUMERIC(20, 4); finer prices would be rounded per row
// and the balance would drift from the sum of its lines.
const MoneyScale = 4

func validateSaleInput(price decimal.Decimal, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidPrice, price.String())
	}
	if !price.Equal(price.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidPrice, price.String(), MoneyScale)
	}
	return nil
}

func requireID(kind string, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: %s required", ErrInvalidInput, kind)
	}
	return id, nil
}
