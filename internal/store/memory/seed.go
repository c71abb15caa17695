package memory

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"butik/backend/internal/domain"
)

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD when set.
func seedUsers(now time.Time) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hash seed password", slog.String("username", u.username), slog.Any("error", err))
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small catalog, two pending orders and the
// dev accounts. It backs the server when no database is configured.
func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	now := s.now().UTC()
	ctx := context.Background()

	price := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }
	ptr := func(d decimal.Decimal) *decimal.Decimal { return &d }
	size := func(v string) *string { return &v }

	products := []domain.Product{
		{
			ID:            "tee-basic",
			Name:          "Basic Tee",
			Quantity:      40,
			Sizes:         []domain.SizeStock{{Size: "S", Quantity: 10}, {Size: "M", Quantity: 15}, {Size: "L", Quantity: 15}},
			PurchasePrice: price("45000"),
			Pricing:       domain.Pricing{OriginalPrice: ptr(price("99000"))},
		},
		{
			ID:            "hoodie-zip",
			Name:          "Zip Hoodie",
			Quantity:      12,
			Sizes:         []domain.SizeStock{{Size: "M", Quantity: 6}, {Size: "XL", Quantity: 6}},
			PurchasePrice: price("120000"),
			Pricing: domain.Pricing{
				OriginalPrice:      ptr(price("250000")),
				DiscountPercentage: ptr(price("20")),
				DiscountedPrice:    ptr(price("200000")),
			},
		},
		{
			ID:            "cap-classic",
			Name:          "Classic Cap",
			Quantity:      25,
			PurchasePrice: price("30000"),
		},
		{
			ID:            "tote-canvas",
			Name:          "Canvas Tote",
			Quantity:      30,
			PurchasePrice: price("25000"),
		},
	}
	for _, p := range products {
		p.UpdatedAt = now
		_ = s.CreateProduct(ctx, p)
	}

	orders := []domain.Order{
		{
			ID:     "order-demo-1",
			UserID: "customer-1",
			Items: []domain.OrderItem{
				{ProductID: "tee-basic", Name: "Basic Tee", Price: price("99000"), Quantity: 2, SelectedSize: size("M")},
				{ProductID: "cap-classic", Name: "Classic Cap", Price: price("75000"), Quantity: 1},
			},
			Total: price("273000"),
		},
		{
			ID:     "order-demo-2",
			UserID: "customer-2",
			Items: []domain.OrderItem{
				{ProductID: "hoodie-zip__XL", Name: "Zip Hoodie (XL)", Price: price("200000"), Quantity: 1},
			},
			Total: price("200000"),
		},
	}
	for _, o := range orders {
		o.Status = domain.OrderStatusPending
		o.CreatedAt = now
		_ = s.CreateOrder(ctx, o)
	}

	s.mu.Lock()
	s.usersByUsername = seedUsers(now)
	s.mu.Unlock()

	return s
}
