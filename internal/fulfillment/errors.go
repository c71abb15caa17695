package fulfillment

import (
	"errors"
	"fmt"

	"butik/backend/internal/store"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrInvalidPrice    = errors.New("price must be a positive amount")

	ErrOrderNotFound       = errors.New("order not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSizeNotFound      = errors.New("size not found")

	ErrAlreadyProcessed = errors.New("already processed")
	ErrAlreadyReverted  = errors.New("transaction already reverted")

	ErrIncompleteTransactionData = errors.New("incomplete transaction data")
)

// Kind groups errors by what the caller can do about them.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindStock
	KindAlreadyProcessed
	KindTransient
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStock:
		return "stock"
	case KindAlreadyProcessed:
		return "already_processed"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidPrice):
		return KindValidation
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrTransactionNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrSizeNotFound):
		return KindStock
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrAlreadyReverted):
		return KindAlreadyProcessed
	case errors.Is(err, store.ErrTransient), errors.Is(err, store.ErrConflict):
		return KindTransient
	case errors.Is(err, ErrIncompleteTransactionData):
		return KindIntegrity
	default:
		return KindUnknown
	}
}

// StockError carries the product and bucket a stock check failed on.
type StockError struct {
	ProductID string
	Size      string
	Requested int
	Available int
	Err       error
}

func (e *StockError) Error() string {
	if e.Size != "" {
		return fmt.Sprintf("%v: product %s size %s (requested %d, available %d)", e.Err, e.ProductID, e.Size, e.Requested, e.Available)
	}
	return fmt.Sprintf("%v: product %s (requested %d, available %d)", e.Err, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Err
}
