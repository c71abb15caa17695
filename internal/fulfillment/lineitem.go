package fulfillment

import (
	"strings"

	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
)

// lineRef is an order item resolved to a catalog product and optional size.
type lineRef struct {
	ProductID string
	Size      *string
	// SizeFromName is set when the size only came from the display name. It is
	// applied only to products that carry size buckets.
	SizeFromName bool
	// SplitID is set when a "__" suffix was cut off the item id.
	SplitID  bool
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// resolveLineItem prefers the structured SelectedSize. Older orders encoded
// the size in the item id ("id__XL") or the display name ("Tee (XL)"); both
// are still read here.
func resolveLineItem(item domain.OrderItem) lineRef {
	return resolveLine(item, true)
}

// resolveWholeID resolves item without cutting "__" out of its id, for
// catalogs whose product ids contain it.
func resolveWholeID(item domain.OrderItem) lineRef {
	return resolveLine(item, false)
}

func resolveLine(item domain.OrderItem, splitID bool) lineRef {
	ref := lineRef{
		ProductID: strings.TrimSpace(item.ProductID),
		Name:      strings.TrimSpace(item.Name),
		Price:     item.Price,
		Quantity:  item.Quantity,
	}

	var fromID string
	if idx := strings.LastIndex(ref.ProductID, "__"); splitID && idx > 0 {
		fromID = ref.ProductID[idx+2:]
		ref.ProductID = ref.ProductID[:idx]
		ref.SplitID = true
	}

	switch {
	case item.SelectedSize != nil && domain.NormalizeSize(*item.SelectedSize) != "":
		ref.Size = sizePtr(*item.SelectedSize)
	case domain.NormalizeSize(fromID) != "":
		ref.Size = sizePtr(fromID)
	default:
		if size, ok := sizeFromName(ref.Name); ok {
			ref.Size = sizePtr(size)
			ref.SizeFromName = true
		}
	}
	return ref
}

// sizeFromName reads a trailing "(size)" from a display name.
func sizeFromName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, ")") {
		return "", false
	}
	open := strings.LastIndex(name, "(")
	if open < 0 {
		return "", false
	}
	size := domain.NormalizeSize(name[open+1 : len(name)-1])
	if size == "" {
		return "", false
	}
	return size, true
}

func sizePtr(raw string) *string {
	normalized := domain.NormalizeSize(raw)
	return &normalized
}
