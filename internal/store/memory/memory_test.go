package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(opts...)
	require.NoError(t, s.CreateProduct(context.Background(), domain.Product{
		ID:            "p1",
		Name:          "Shirt",
		Quantity:      10,
		Sizes:         []domain.SizeStock{{Size: "M", Quantity: 4}},
		PurchasePrice: decimal.NewFromInt(5),
	}))
	require.NoError(t, s.CreateOrder(context.Background(), domain.Order{ID: "o1"}))
	return s
}

func TestRunTransactionAppliesBufferedWritesAtCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, "p1"); err != nil {
			return err
		}
		require.NoError(t, tx.IncrementProductQuantity("p1", -3))

		current, err := s.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 10, current.Quantity, "writes must stay buffered until commit")
		return nil
	})
	require.NoError(t, err)

	product, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, product.Quantity)
}

func TestRunTransactionRejectsReadsAfterWrites(t *testing.T) {
	s := newTestStore(t)

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.IncrementBalance(decimal.NewFromInt(1), decimal.NewFromInt(1)))
		_, err := tx.GetOrder(ctx, "o1")
		return err
	})

	require.ErrorIs(t, err, store.ErrReadAfterWrite)
	balance, _ := s.GetBalance(context.Background())
	assert.True(t, balance.TotalIncome.IsZero())
}

func TestRunTransactionRetriesWhenReadDocumentChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	attempts := 0

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		attempts++
		product, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A competing writer commits between our read and our commit.
			require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, other store.Tx) error {
				if _, err := other.GetProduct(ctx, "p1"); err != nil {
					return err
				}
				return other.IncrementProductQuantity("p1", -1)
			}))
		}
		return tx.IncrementProductQuantity("p1", -product.Quantity)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	product, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, product.Quantity)
}

func TestRunTransactionSurfacesTransientAfterRepeatedConflicts(t *testing.T) {
	s := newTestStore(t, WithMaxAttempts(2))
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, "p1"); err != nil {
			return err
		}
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, other store.Tx) error {
			return other.IncrementProductQuantity("p1", 1)
		}))
		return tx.IncrementProductQuantity("p1", -1)
	})

	require.ErrorIs(t, err, store.ErrTransient)
	product, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 12, product.Quantity, "only the two competing increments landed")
}

func TestBalanceIncrementsDoNotConflict(t *testing.T) {
	s := newTestStore(t, WithMaxAttempts(1))
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, other store.Tx) error {
			return other.IncrementBalance(decimal.NewFromInt(10), decimal.NewFromInt(4))
		}))
		return tx.IncrementBalance(decimal.NewFromInt(5), decimal.NewFromInt(1))
	})
	require.NoError(t, err)

	balance, err := s.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.TotalIncome.Equal(decimal.NewFromInt(15)))
	assert.True(t, balance.RealProfit.Equal(decimal.NewFromInt(5)))
	require.NotNil(t, balance.UpdatedAt)
}

func TestCommitIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.IncrementBalance(decimal.NewFromInt(100), decimal.NewFromInt(50)))
		require.NoError(t, tx.SetOrderStatus("o1", domain.OrderStatusAccepted))
		return tx.IncrementProductQuantity("p1", -11)
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	balance, _ := s.GetBalance(ctx)
	assert.True(t, balance.TotalIncome.IsZero())
	order, _ := s.GetOrder(ctx, "o1")
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestLedgerLinesAreIndexedByHashAndOrder(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	orderID := "o1"

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		has, err := tx.OrderHasBalanceTransactions(ctx, "o1")
		require.NoError(t, err)
		require.False(t, has)

		require.NoError(t, tx.CreateSale(domain.Sale{ID: "s1", ProductID: "p1", TransactionHash: "h1-p1", OrderID: &orderID}))
		return tx.CreateBalanceTransaction(domain.BalanceTransaction{
			ID: "b1", ProductID: "p1", SaleID: "s1", TransactionHash: "h1-p1", OrderID: &orderID,
			Quantity: 1, TotalIncome: decimal.NewFromInt(20), RealProfit: decimal.NewFromInt(15),
		})
	})
	require.NoError(t, err)

	entry, err := s.FindBalanceTransaction(ctx, "h1-p1")
	require.NoError(t, err)
	assert.Equal(t, "b1", entry.ID)
	assert.Equal(t, fixed, entry.CreatedAt)

	sale, err := s.GetSale(ctx, "p1", "s1")
	require.NoError(t, err)
	assert.Equal(t, fixed, sale.SelledAt)

	err = s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		has, err := tx.OrderHasBalanceTransactions(ctx, "o1")
		require.NoError(t, err)
		assert.True(t, has)
		return nil
	})
	require.NoError(t, err)

	income, profit, err := s.SumActiveBalanceTransactions(ctx)
	require.NoError(t, err)
	assert.True(t, income.Equal(decimal.NewFromInt(20)))
	assert.True(t, profit.Equal(decimal.NewFromInt(15)))
}

func TestDuplicateTransactionHashIsRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	line := domain.BalanceTransaction{ID: "b1", TransactionHash: "dup-p1"}

	require.NoError(t, s.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		return tx.CreateBalanceTransaction(line)
	}))

	line.ID = "b2"
	err := s.RunTransaction(ctx, func(_ context.Context, tx store.Tx) error {
		return tx.CreateBalanceTransaction(line)
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestDecideOrderOnlyMovesPendingOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order, changed, err := s.DecideOrder(ctx, "o1", domain.OrderStatusDeclined)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.OrderStatusDeclined, order.Status)
	require.NotNil(t, order.DecidedAt)

	order, changed, err = s.DecideOrder(ctx, "o1", domain.OrderStatusAccepted)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.OrderStatusDeclined, order.Status)

	_, _, err = s.DecideOrder(ctx, "missing", domain.OrderStatusDeclined)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewSeededHasCatalogOrdersAndUsers(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	product, err := s.GetProduct(ctx, "tee-basic")
	require.NoError(t, err)
	assert.True(t, product.HasSizes())

	order, err := s.GetOrder(ctx, "order-demo-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
}
