package fulfillment

import (
	"fmt"
	"slices"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

// stockAdjuster holds working copies of the products read in one transaction.
// Reservations are taken from the copies, so several lines for the same
// product are checked against their combined demand.
type stockAdjuster struct {
	products     map[string]*domain.Product
	order        []string
	deltas       map[string]int
	sizesChanged map[string]bool
}

func newStockAdjuster() *stockAdjuster {
	return &stockAdjuster{
		products:     make(map[string]*domain.Product),
		deltas:       make(map[string]int),
		sizesChanged: make(map[string]bool),
	}
}

func (a *stockAdjuster) Track(product domain.Product) {
	if _, ok := a.products[product.ID]; ok {
		return
	}
	working := product
	working.Sizes = slices.Clone(product.Sizes)
	a.products[product.ID] = &working
	a.order = append(a.order, product.ID)
}

func (a *stockAdjuster) Product(id string) (*domain.Product, bool) {
	p, ok := a.products[id]
	return p, ok
}

// Reserve checks quantity against the working copy and takes it out. The
// returned size is the bucket that was drawn from, nil when only the global
// quantity moved.
func (a *stockAdjuster) Reserve(productID string, quantity int, size *string) (*string, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	p, ok := a.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	}

	bucket := -1
	if size != nil && p.HasSizes() {
		bucket = p.SizeIndex(*size)
		if bucket < 0 {
			return nil, &StockError{ProductID: productID, Size: *size, Requested: quantity, Err: ErrSizeNotFound}
		}
		if available := p.Sizes[bucket].Quantity; available < quantity {
			return nil, &StockError{ProductID: productID, Size: p.Sizes[bucket].Size, Requested: quantity, Available: available, Err: ErrInsufficientStock}
		}
	}
	if p.Quantity < quantity {
		return nil, &StockError{ProductID: productID, Requested: quantity, Available: p.Quantity, Err: ErrInsufficientStock}
	}

	p.Quantity -= quantity
	a.deltas[productID] -= quantity
	if bucket < 0 {
		return nil, nil
	}
	p.Sizes[bucket].Quantity -= quantity
	a.sizesChanged[productID] = true
	used := p.Sizes[bucket].Size
	return &used, nil
}

// Restore puts quantity back. It reports whether a size bucket was restored.
func (a *stockAdjuster) Restore(productID string, quantity int, size *string) bool {
	p, ok := a.products[productID]
	if !ok || quantity <= 0 {
		return false
	}
	p.Quantity += quantity
	a.deltas[productID] += quantity

	if size == nil || !p.HasSizes() {
		return false
	}
	bucket := p.SizeIndex(*size)
	if bucket < 0 {
		return false
	}
	p.Sizes[bucket].Quantity += quantity
	a.sizesChanged[productID] = true
	return true
}

// Apply writes the global quantity as an increment and the size buckets as
// an overwrite of the array read in this transaction.
func (a *stockAdjuster) Apply(tx store.Tx) error {
	for _, id := range a.order {
		if delta := a.deltas[id]; delta != 0 {
			if err := tx.IncrementProductQuantity(id, delta); err != nil {
				return err
			}
		}
		if a.sizesChanged[id] {
			if err := tx.SetProductSizes(id, a.products[id].Sizes); err != nil {
				return err
			}
		}
	}
	return nil
}
