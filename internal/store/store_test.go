package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"butik/backend/internal/domain"
)

func TestRetryOnConflictRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 5, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflictSurfacesTransientOnExhaustion(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 3, func(context.Context) error {
		calls++
		return ErrConflict
	})

	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RetryOnConflict(context.Background(), 5, func(context.Context) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflictHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryOnConflict(ctx, 5, func(context.Context) error {
		t.Fatal("attempt should not run")
		return nil
	})
	require.ErrorIs(t, err, ErrTransient)
}

func TestRetryOnConflictStopsWhenContextEndsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryOnConflict(ctx, 5, func(context.Context) error {
		calls++
		cancel()
		return ErrConflict
	})

	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflictDefaultsAttemptBudget(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 0, func(context.Context) error {
		calls++
		return ErrConflict
	})

	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, DefaultMaxAttempts, calls)
}

func TestWriteBufferRejectsReadAfterWrite(t *testing.T) {
	var buf WriteBuffer
	require.NoError(t, buf.CheckRead())

	require.NoError(t, buf.IncrementProductQuantity("p1", -2))
	require.ErrorIs(t, buf.CheckRead(), ErrReadAfterWrite)
}

func TestWriteBufferKeepsOrderAndSkipsNoops(t *testing.T) {
	var buf WriteBuffer
	require.NoError(t, buf.IncrementProductQuantity("p1", 0))
	require.NoError(t, buf.IncrementBalance(decimal.Zero, decimal.Zero))
	require.NoError(t, buf.IncrementProductQuantity("p1", -1))
	require.NoError(t, buf.SetOrderStatus("o1", domain.OrderStatusAccepted))

	ops := buf.Ops()
	require.Len(t, ops, 2)
	assert.IsType(t, IncrementQuantityOp{}, ops[0])
	assert.IsType(t, SetOrderStatusOp{}, ops[1])
}

func TestWriteBufferRejectsNegativeSizeBucket(t *testing.T) {
	var buf WriteBuffer
	err := buf.SetProductSizes("p1", []domain.SizeStock{{Size: "M", Quantity: -1}})
	require.ErrorIs(t, err, ErrInvalidInput)
}
