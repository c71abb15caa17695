package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
	"butik/backend/internal/store/memory"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func strPtr(s string) *string {
	return &s
}

func newTestEngine(t *testing.T, products ...domain.Product) (*Engine, *memory.Store) {
	t.Helper()
	ledger := memory.New(memory.WithMaxAttempts(50))
	for _, p := range products {
		require.NoError(t, ledger.CreateProduct(context.Background(), p))
	}
	return New(ledger, nil), ledger
}

func plainProduct(id string, qty int) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, Quantity: qty, PurchasePrice: dec(5)}
}

func sizedProduct(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          "Tee " + id,
		Quantity:      10,
		Sizes:         []domain.SizeStock{{Size: "M", Quantity: 4}, {Size: "L", Quantity: 6}},
		PurchasePrice: dec(5),
	}
}

func createOrder(t *testing.T, ledger *memory.Store, id string, items ...domain.OrderItem) {
	t.Helper()
	require.NoError(t, ledger.CreateOrder(context.Background(), domain.Order{ID: id, UserID: "u1", Items: items}))
}

func quantityOf(t *testing.T, ledger *memory.Store, id string) int {
	t.Helper()
	p, err := ledger.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func assertLedgerMatchesBalance(t *testing.T, ledger *memory.Store) {
	t.Helper()
	ctx := context.Background()
	balance, err := ledger.GetBalance(ctx)
	require.NoError(t, err)
	income, profit, err := ledger.SumActiveBalanceTransactions(ctx)
	require.NoError(t, err)
	assert.True(t, balance.TotalIncome.Equal(income), "income %s != ledger %s", balance.TotalIncome, income)
	assert.True(t, balance.RealProfit.Equal(profit), "profit %s != ledger %s", balance.RealProfit, profit)
}

func TestDirectSaleThenAcceptThenRevert(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()

	receipt, err := engine.RecordDirectSale(ctx, DirectSale{ProductID: "p1", SellingPrice: dec(20), Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, quantityOf(t, ledger, "p1"))
	assert.True(t, receipt.TotalIncome.Equal(dec(60)))
	assert.True(t, receipt.TotalProfit.Equal(dec(45)))
	assert.Regexp(t, `^[0-9a-f]{32}-p1$`, receipt.TransactionHash)

	sale, err := ledger.GetSale(ctx, "p1", receipt.SaleID)
	require.NoError(t, err)
	assert.Nil(t, sale.OrderID)
	assert.False(t, sale.SelledAt.IsZero())

	balance, err := ledger.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.TotalIncome.Equal(dec(60)))
	assert.True(t, balance.RealProfit.Equal(dec(45)))

	createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "p1", Name: "Product p1", Price: dec(20), Quantity: 3})
	decision, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, decision.Status)
	assert.NotNil(t, decision.DecidedAt)
	require.Len(t, decision.Sales, 1)
	assert.Equal(t, 4, quantityOf(t, ledger, "p1"))

	outcome, err := engine.RevertTransaction(ctx, decision.Sales[0].TransactionHash, "priceIsLow")
	require.NoError(t, err)
	assert.True(t, outcome.ProductRestored)
	assert.True(t, outcome.SaleMarked)
	assert.Equal(t, 7, quantityOf(t, ledger, "p1"))

	balance, err = ledger.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.TotalIncome.Equal(dec(60)))
	assert.True(t, balance.RealProfit.Equal(dec(45)))

	entry, err := ledger.FindBalanceTransaction(ctx, decision.Sales[0].TransactionHash)
	require.NoError(t, err)
	assert.True(t, entry.Deleted)
	assert.Equal(t, "priceIsLow", entry.DeleteReason)
	assert.NotNil(t, entry.DeletedAt)

	reverted, err := ledger.GetSale(ctx, "p1", decision.Sales[0].SaleID)
	require.NoError(t, err)
	assert.True(t, reverted.Deleted)
	assert.NotNil(t, reverted.DeletedAt)

	assertLedgerMatchesBalance(t, ledger)
}

func TestAcceptOrderTwiceAppliesEffectsOnce(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()
	createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "p1", Price: dec(20), Quantity: 2})

	first, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, first.AlreadyDecided)

	second, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyDecided)
	assert.Equal(t, domain.OrderStatusAccepted, second.Status)
	assert.Equal(t, first.DecidedAt, second.DecidedAt)
	assert.Empty(t, second.Sales)

	assert.Equal(t, 8, quantityOf(t, ledger, "p1"))
	lines, err := ledger.ListBalanceTransactions(ctx, domain.BalanceTransactionFilter{OrderID: "o1"})
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	balance, _ := ledger.GetBalance(ctx)
	assert.True(t, balance.TotalIncome.Equal(dec(40)))
}

func TestAcceptOrderOnDeclinedOrderReturnsDeclined(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()
	createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "p1", Price: dec(20), Quantity: 2})

	declined, err := engine.DeclineOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDeclined, declined.Status)
	assert.False(t, declined.AlreadyDecided)
	assert.NotNil(t, declined.DecidedAt)

	decision, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, decision.AlreadyDecided)
	assert.Equal(t, domain.OrderStatusDeclined, decision.Status)
	assert.Equal(t, 10, quantityOf(t, ledger, "p1"))
}

func TestDeclineOrderLeavesAcceptedOrderAlone(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()
	createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "p1", Price: dec(20), Quantity: 2})

	_, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)

	decision, err := engine.DeclineOrder(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, decision.AlreadyDecided)
	assert.Equal(t, domain.OrderStatusAccepted, decision.Status)
}

func TestDeclineOrderUnknownOrder(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.DeclineOrder(context.Background(), "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestRevertTransactionTwiceFailsSecondTime(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()

	receipt, err := engine.RecordDirectSale(ctx, DirectSale{ProductID: "p1", SellingPrice: dec(20), Quantity: 3})
	require.NoError(t, err)

	_, err = engine.RevertTransaction(ctx, receipt.TransactionHash, "")
	require.NoError(t, err)
	entry, err := ledger.FindBalanceTransaction(ctx, receipt.TransactionHash)
	require.NoError(t, err)
	assert.Equal(t, "unspecified", entry.DeleteReason)

	_, err = engine.RevertTransaction(ctx, receipt.TransactionHash, "again")
	require.ErrorIs(t, err, ErrAlreadyReverted)
	assert.Equal(t, KindAlreadyProcessed, KindOf(err))

	assert.Equal(t, 10, quantityOf(t, ledger, "p1"))
	balance, _ := ledger.GetBalance(ctx)
	assert.True(t, balance.TotalIncome.IsZero())
	assert.True(t, balance.RealProfit.IsZero())
}

func TestRevertTransactionUnknownHash(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.RevertTransaction(context.Background(), "deadbeef-p1", "x")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestRevertTransactionRejectsIncompleteLine(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()

	require.NoError(t, ledger.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateBalanceTransaction(domain.BalanceTransaction{
			ID:              "legacy-1",
			ProductID:       "p1",
			Quantity:        2,
			TotalIncome:     dec(40),
			TransactionHash: "legacy-p1",
		})
	}))

	_, err := engine.RevertTransaction(ctx, "legacy-p1", "x")
	require.ErrorIs(t, err, ErrIncompleteTransactionData)
	assert.Equal(t, KindIntegrity, KindOf(err))
	assert.Equal(t, 10, quantityOf(t, ledger, "p1"))
}

func TestRevertTransactionWithoutProductStillFixesLedger(t *testing.T) {
	engine, ledger := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, ledger.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateBalanceTransaction(domain.BalanceTransaction{
			ID:              "line-1",
			ProductID:       "gone",
			SaleID:          "sale-1",
			Quantity:        1,
			TotalIncome:     dec(30),
			RealProfit:      dec(10),
			TransactionHash: "abc-gone",
		}); err != nil {
			return err
		}
		return tx.IncrementBalance(dec(30), dec(10))
	}))

	outcome, err := engine.RevertTransaction(ctx, "abc-gone", "discontinued")
	require.NoError(t, err)
	assert.False(t, outcome.ProductRestored)
	assert.False(t, outcome.SaleMarked)

	balance, _ := ledger.GetBalance(ctx)
	assert.True(t, balance.TotalIncome.IsZero())
	assert.True(t, balance.RealProfit.IsZero())
	assertLedgerMatchesBalance(t, ledger)
}

func TestAcceptOrderFailingItemLeavesOtherStockUntouched(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("a", 10), plainProduct("b", 1))
	ctx := context.Background()
	createOrder(t, ledger, "o1",
		domain.OrderItem{ProductID: "a", Price: dec(20), Quantity: 2},
		domain.OrderItem{ProductID: "b", Price: dec(20), Quantity: 5},
	)

	_, err := engine.AcceptOrder(ctx, "o1")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, KindStock, KindOf(err))

	var stockErr *StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "b", stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, 10, quantityOf(t, ledger, "a"))
	assert.Equal(t, 1, quantityOf(t, ledger, "b"))
	order, err := ledger.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	lines, _ := ledger.ListBalanceTransactions(ctx, domain.BalanceTransactionFilter{IncludeDeleted: true})
	assert.Empty(t, lines)
}

func TestAcceptOrderChecksCombinedDemandPerProduct(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("a", 5))
	createOrder(t, ledger, "o1",
		domain.OrderItem{ProductID: "a", Price: dec(10), Quantity: 3},
		domain.OrderItem{ProductID: "a", Price: dec(10), Quantity: 3},
	)

	_, err := engine.AcceptOrder(context.Background(), "o1")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 5, quantityOf(t, ledger, "a"))
}

func TestAcceptOrderValidatesItems(t *testing.T) {
	cases := []struct {
		name string
		item domain.OrderItem
		want error
	}{
		{name: "zero quantity", item: domain.OrderItem{ProductID: "a", Price: dec(10), Quantity: 0}, want: ErrInvalidQuantity},
		{name: "negative price", item: domain.OrderItem{ProductID: "a", Price: dec(-1), Quantity: 1}, want: ErrInvalidPrice},
		{name: "unknown product", item: domain.OrderItem{ProductID: "nope", Price: dec(10), Quantity: 1}, want: ErrProductNotFound},
		{name: "missing product id", item: domain.OrderItem{Price: dec(10), Quantity: 1}, want: ErrInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, ledger := newTestEngine(t, plainProduct("a", 5))
			createOrder(t, ledger, "o1", tc.item)

			_, err := engine.AcceptOrder(context.Background(), "o1")
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, 5, quantityOf(t, ledger, "a"))
		})
	}
}

func TestAcceptOrderUnknownOrder(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.AcceptOrder(context.Background(), "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestAcceptOrderDrawsFromSizeBucket(t *testing.T) {
	engine, ledger := newTestEngine(t, sizedProduct("tee"))
	ctx := context.Background()
	createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "tee", Price: dec(25), Quantity: 3, SelectedSize: strPtr(" m ")})

	decision, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, decision.Sales, 1)
	require.NotNil(t, decision.Sales[0].Size)
	assert.Equal(t, "M", *decision.Sales[0].Size)

	product, err := ledger.GetProduct(ctx, "tee")
	require.NoError(t, err)
	assert.Equal(t, 7, product.Quantity)
	assert.Equal(t, 1, product.Sizes[0].Quantity)
	assert.Equal(t, 6, product.Sizes[1].Quantity)

	outcome, err := engine.RevertTransaction(ctx, decision.Sales[0].TransactionHash, "wrong size")
	require.NoError(t, err)
	assert.True(t, outcome.SizeRestored)

	product, err = ledger.GetProduct(ctx, "tee")
	require.NoError(t, err)
	assert.Equal(t, 10, product.Quantity)
	assert.Equal(t, 4, product.Sizes[0].Quantity)
}

func TestAcceptOrderSizeFailures(t *testing.T) {
	t.Run("unknown size", func(t *testing.T) {
		engine, ledger := newTestEngine(t, sizedProduct("tee"))
		createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "tee", Price: dec(25), Quantity: 1, SelectedSize: strPtr("XXL")})

		_, err := engine.AcceptOrder(context.Background(), "o1")
		require.ErrorIs(t, err, ErrSizeNotFound)
		assert.Equal(t, KindStock, KindOf(err))
	})

	t.Run("bucket short", func(t *testing.T) {
		engine, ledger := newTestEngine(t, sizedProduct("tee"))
		createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "tee", Price: dec(25), Quantity: 5, SelectedSize: strPtr("M")})

		_, err := engine.AcceptOrder(context.Background(), "o1")
		require.ErrorIs(t, err, ErrInsufficientStock)
		var stockErr *StockError
		require.True(t, errors.As(err, &stockErr))
		assert.Equal(t, "M", stockErr.Size)
		assert.Equal(t, 4, stockErr.Available)
	})
}

func TestAcceptOrderReadsLegacySizeEncodings(t *testing.T) {
	engine, ledger := newTestEngine(t, sizedProduct("tee"), plainProduct("cap", 5))
	ctx := context.Background()
	createOrder(t, ledger, "o1",
		domain.OrderItem{ProductID: "tee__L", Name: "Tee", Price: dec(25), Quantity: 2},
		domain.OrderItem{ProductID: "tee", Name: "Tee (m)", Price: dec(25), Quantity: 1},
		domain.OrderItem{ProductID: "cap", Name: "Cap (One Size)", Price: dec(15), Quantity: 1},
	)

	decision, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, decision.Sales, 3)
	assert.Equal(t, "L", *decision.Sales[0].Size)
	assert.Equal(t, "M", *decision.Sales[1].Size)
	assert.Nil(t, decision.Sales[2].Size)

	tee, err := ledger.GetProduct(ctx, "tee")
	require.NoError(t, err)
	assert.Equal(t, 7, tee.Quantity)
	assert.Equal(t, 3, tee.Sizes[0].Quantity)
	assert.Equal(t, 4, tee.Sizes[1].Quantity)
	assert.Equal(t, 4, quantityOf(t, ledger, "cap"))
}

func TestAcceptOrderNameSizeFallsBackWhenNoBucketMatches(t *testing.T) {
	engine, ledger := newTestEngine(t, sizedProduct("tee"))
	createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "tee", Name: "Tee (Limited)", Price: dec(25), Quantity: 2})

	decision, err := engine.AcceptOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Nil(t, decision.Sales[0].Size)

	tee, err := ledger.GetProduct(context.Background(), "tee")
	require.NoError(t, err)
	assert.Equal(t, 8, tee.Quantity)
	assert.Equal(t, 4, tee.Sizes[0].Quantity)
}

func TestAcceptOrderRecoversFromPartialLedger(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()
	createOrder(t, ledger, "o1", domain.OrderItem{ProductID: "p1", Price: dec(20), Quantity: 2})

	require.NoError(t, ledger.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateBalanceTransaction(domain.BalanceTransaction{
			ID:              "line-1",
			ProductID:       "p1",
			SaleID:          "sale-1",
			Quantity:        2,
			TotalIncome:     dec(40),
			RealProfit:      dec(30),
			TransactionHash: "abc-p1",
			OrderID:         strPtr("o1"),
		})
	}))

	decision, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, decision.Recovered)
	assert.Equal(t, domain.OrderStatusAccepted, decision.Status)
	assert.Empty(t, decision.Sales)
	assert.Equal(t, 10, quantityOf(t, ledger, "p1"))

	lines, _ := ledger.ListBalanceTransactions(ctx, domain.BalanceTransactionFilter{OrderID: "o1"})
	assert.Len(t, lines, 1)
}

func TestDirectSalesCarryNoOrderID(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()

	receipt, err := engine.RecordDirectSale(ctx, DirectSale{ProductID: "p1", SellingPrice: dec(20), Quantity: 1})
	require.NoError(t, err)
	line, err := ledger.FindBalanceTransaction(ctx, receipt.TransactionHash)
	require.NoError(t, err)
	assert.Nil(t, line.OrderID)

	// An order whose id looks like a counter-sale marker is still an ordinary order.
	createOrder(t, ledger, "manual-sale", domain.OrderItem{ProductID: "p1", Price: dec(20), Quantity: 3})
	decision, err := engine.AcceptOrder(ctx, "manual-sale")
	require.NoError(t, err)
	assert.False(t, decision.Recovered)
	require.Len(t, decision.Sales, 1)
	assert.Equal(t, 6, quantityOf(t, ledger, "p1"))

	lines, err := ledger.ListBalanceTransactions(ctx, domain.BalanceTransactionFilter{OrderID: "manual-sale"})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "manual-sale", *lines[0].OrderID)
	assertLedgerMatchesBalance(t, ledger)
}

func TestSalePricesAreLimitedToStoredScale(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()

	_, err := engine.RecordDirectSale(ctx, DirectSale{ProductID: "p1", SellingPrice: decimal.RequireFromString("0.00005"), Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, KindValidation, KindOf(err))

	createOrder(t, ledger, "o1",
		domain.OrderItem{ProductID: "p1", Price: decimal.RequireFromString("0.00005"), Quantity: 1},
		domain.OrderItem{ProductID: "p1", Price: decimal.RequireFromString("0.00005"), Quantity: 1},
	)
	_, err = engine.AcceptOrder(ctx, "o1")
	require.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, 10, quantityOf(t, ledger, "p1"))

	receipt, err := engine.RecordDirectSale(ctx, DirectSale{ProductID: "p1", SellingPrice: decimal.RequireFromString("19.99990"), Quantity: 2})
	require.NoError(t, err)
	assert.True(t, receipt.TotalIncome.Equal(decimal.RequireFromString("39.9998")))
	assertLedgerMatchesBalance(t, ledger)
}

func TestAcceptOrderKeepsProductIDsContainingDoubleUnderscore(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("shirt__blue", 5), sizedProduct("tee"))
	ctx := context.Background()
	createOrder(t, ledger, "o1",
		domain.OrderItem{ProductID: "shirt__blue", Price: dec(30), Quantity: 2},
		domain.OrderItem{ProductID: "shirt__blue", Price: dec(30), Quantity: 1},
		domain.OrderItem{ProductID: "tee__M", Price: dec(25), Quantity: 1},
	)

	decision, err := engine.AcceptOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, decision.Sales, 3)
	assert.Equal(t, "shirt__blue", decision.Sales[0].ProductID)
	assert.Nil(t, decision.Sales[0].Size)
	assert.Equal(t, "M", *decision.Sales[2].Size)
	assert.Equal(t, 2, quantityOf(t, ledger, "shirt__blue"))
	assert.Equal(t, 9, quantityOf(t, ledger, "tee"))
}

func TestRecordDirectSaleValidation(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 2))
	ctx := context.Background()

	_, err := engine.RecordDirectSale(ctx, DirectSale{ProductID: "p1", SellingPrice: dec(10), Quantity: 3})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = engine.RecordDirectSale(ctx, DirectSale{ProductID: "p1", SellingPrice: decimal.Zero, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = engine.RecordDirectSale(ctx, DirectSale{ProductID: " ", SellingPrice: dec(10), Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.RecordDirectSale(ctx, DirectSale{ProductID: "ghost", SellingPrice: dec(10), Quantity: 1})
	require.ErrorIs(t, err, ErrProductNotFound)

	assert.Equal(t, 2, quantityOf(t, ledger, "p1"))
}

func TestLedgerStaysEqualToBalanceAcrossOperations(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 50), sizedProduct("tee"))
	ctx := context.Background()

	var hashes []string
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("o%d", i)
		createOrder(t, ledger, id,
			domain.OrderItem{ProductID: "p1", Price: dec(int64(10 + i)), Quantity: i + 1},
			domain.OrderItem{ProductID: "tee", Price: dec(30), Quantity: 1, SelectedSize: strPtr("L")},
		)
		decision, err := engine.AcceptOrder(ctx, id)
		require.NoError(t, err)
		for _, sale := range decision.Sales {
			hashes = append(hashes, sale.TransactionHash)
		}
		assertLedgerMatchesBalance(t, ledger)
	}
	receipt, err := engine.RecordDirectSale(ctx, DirectSale{ProductID: "p1", SellingPrice: dec(7), Quantity: 2})
	require.NoError(t, err)
	hashes = append(hashes, receipt.TransactionHash)

	for i, hash := range hashes {
		if i%2 == 1 {
			continue
		}
		_, err := engine.RevertTransaction(ctx, hash, "audit")
		require.NoError(t, err)
		assertLedgerMatchesBalance(t, ledger)
	}
}

func TestConcurrentAcceptsNeverOversell(t *testing.T) {
	engine, ledger := newTestEngine(t, plainProduct("p1", 10))
	ctx := context.Background()

	const orders = 8
	for i := 0; i < orders; i++ {
		createOrder(t, ledger, fmt.Sprintf("o%d", i), domain.OrderItem{ProductID: "p1", Price: dec(20), Quantity: 2})
	}

	var accepted, rejected atomic.Int64
	var g errgroup.Group
	for i := 0; i < orders; i++ {
		orderID := fmt.Sprintf("o%d", i)
		g.Go(func() error {
			_, err := engine.AcceptOrder(ctx, orderID)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrInsufficientStock), KindOf(err) == KindTransient:
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(orders), accepted.Load()+rejected.Load())
	assert.LessOrEqual(t, accepted.Load(), int64(5))
	final := quantityOf(t, ledger, "p1")
	assert.GreaterOrEqual(t, final, 0)
	assert.Equal(t, 10-2*int(accepted.Load()), final)
	assertLedgerMatchesBalance(t, ledger)
}
