package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type OrderStatus uint8

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusAccepted
	OrderStatusDeclined
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusAccepted:
		return "accepted"
	case OrderStatusDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the order has already been decided.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusAccepted || s == OrderStatusDeclined
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return OrderStatusPending, nil
	case "accepted":
		return OrderStatusAccepted, nil
	case "declined":
		return OrderStatusDeclined, nil
	default:
		return OrderStatusUnknown, fmt.Errorf("unknown order status %q", raw)
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	if s == OrderStatusUnknown {
		return nil, fmt.Errorf("cannot encode unknown order status")
	}
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type SizeStock struct {
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

// Pricing holds display-only price fields. They are copied onto sales as-is
// and never recomputed.
type Pricing struct {
	OriginalPrice      *decimal.Decimal `json:"original_price,omitempty"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty"`
	DiscountedPrice    *decimal.Decimal `json:"discounted_price,omitempty"`
}

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	Sizes         []SizeStock     `json:"sizes,omitempty"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Pricing
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Product) HasSizes() bool {
	return len(p.Sizes) > 0
}

// SizeIndex returns the index of the bucket matching size, or -1.
func (p Product) SizeIndex(size string) int {
	want := NormalizeSize(size)
	for i, bucket := range p.Sizes {
		if NormalizeSize(bucket.Size) == want {
			return i
		}
	}
	return -1
}

// NormalizeSize maps "  xl " and "XL" to the same bucket key.
func NormalizeSize(size string) string {
	return strings.ToUpper(strings.TrimSpace(size))
}

type OrderItem struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	SelectedSize *string         `json:"selected_size,omitempty"`
}

type Order struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Items     []OrderItem     `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	DecidedAt *time.Time      `json:"decided_at,omitempty"`
}

type Sale struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"product_id"`
	Name            string          `json:"name"`
	SelledAt        time.Time       `json:"selled_at"`
	Quantity        int             `json:"quantity"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	PurchasePrice   decimal.Decimal `json:"purchase_price"`
	TotalIncome     decimal.Decimal `json:"total_income"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
	Pricing
	Size            *string    `json:"size,omitempty"`
	TransactionHash string     `json:"transaction_hash"`
	OrderID         *string    `json:"order_id,omitempty"`
	Deleted         bool       `json:"deleted"`
	DeleteReason    string     `json:"delete_reason,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

type Balance struct {
	TotalIncome decimal.Decimal `json:"total_income"`
	RealProfit  decimal.Decimal `json:"real_profit"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

type BalanceTransaction struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"product_id"`
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	Size            *string         `json:"size,omitempty"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	PurchasePrice   decimal.Decimal `json:"purchase_price"`
	TotalIncome     decimal.Decimal `json:"total_income"`
	RealProfit      decimal.Decimal `json:"real_profit"`
	SaleID          string          `json:"sale_id"`
	TransactionHash string          `json:"transaction_hash"`
	OrderID         *string         `json:"order_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Deleted         bool            `json:"deleted"`
	DeleteReason    string          `json:"delete_reason,omitempty"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

// Complete reports whether the line carries everything a revert needs.
func (t BalanceTransaction) Complete() bool {
	return strings.TrimSpace(t.ProductID) != "" &&
		strings.TrimSpace(t.SaleID) != "" &&
		t.Quantity > 0 &&
		t.TotalIncome.IsPositive()
}

type BalanceTransactionFilter struct {
	ProductID      string
	OrderID        string
	IncludeDeleted bool
	Limit          int
}

type SaleReceipt struct {
	SaleID          string          `json:"sale_id"`
	ProductID       string          `json:"product_id"`
	TransactionHash string          `json:"transaction_hash"`
	Quantity        int             `json:"quantity"`
	Size            *string         `json:"size,omitempty"`
	TotalIncome     decimal.Decimal `json:"total_income"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
}

type OrderDecision struct {
	OrderID        string        `json:"order_id"`
	Status         OrderStatus   `json:"status"`
	DecidedAt      *time.Time    `json:"decided_at,omitempty"`
	AlreadyDecided bool          `json:"already_decided"`
	Recovered      bool          `json:"recovered,omitempty"`
	Sales          []SaleReceipt `json:"sales,omitempty"`
}

type DirectSaleRequest struct {
	ProductID    string          `json:"product_id" validate:"required,max=128"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Quantity     int             `json:"quantity" validate:"gt=0"`
}

type RevertTransactionRequest struct {
	TransactionHash string `json:"-" validate:"required,max=256"`
	Reason          string `json:"reason" validate:"max=200"`
}

type RevertTransactionResponse struct {
	OK              bool   `json:"ok"`
	TransactionHash string `json:"transaction_hash"`
	Reason          string `json:"reason"`
	RevertedAt      string `json:"reverted_at"`
}

type TransactionDetail struct {
	Transaction BalanceTransaction `json:"transaction"`
	Sale        *Sale              `json:"sale,omitempty"`
}

type ReconcileReport struct {
	Balance      Balance         `json:"balance"`
	LedgerIncome decimal.Decimal `json:"ledger_income"`
	LedgerProfit decimal.Decimal `json:"ledger_profit"`
	IncomeDrift  decimal.Decimal `json:"income_drift"`
	ProfitDrift  decimal.Decimal `json:"profit_drift"`
	Balanced     bool            `json:"balanced"`
	CheckedAt    time.Time       `json:"checked_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
