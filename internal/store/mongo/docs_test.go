package mongo

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

func TestDecCodecKeepsMoneyExact(t *testing.T) {
	var c decCodec
	in := decimal.RequireFromString("123456789.0125")
	out := c.dec(c.enc(in))
	require.NoError(t, c.err)
	assert.True(t, in.Equal(out), "got %s", out)

	assert.Nil(t, c.encPtr(nil))
	assert.Nil(t, c.decPtr(nil))
}

func TestProductDocCarriesSizesAndPricing(t *testing.T) {
	original := decimal.NewFromInt(99000)
	doc, err := newProductDoc(domain.Product{
		ID:            "tee",
		Quantity:      5,
		Sizes:         []domain.SizeStock{{Size: "M", Quantity: 5}},
		PurchasePrice: decimal.NewFromInt(45000),
		Pricing:       domain.Pricing{OriginalPrice: &original},
	})
	require.NoError(t, err)

	// Through BSON, the way the driver stores it.
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded productDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	product, err := decoded.toDomain()
	require.NoError(t, err)
	assert.Equal(t, []domain.SizeStock{{Size: "M", Quantity: 5}}, product.Sizes)
	require.NotNil(t, product.OriginalPrice)
	assert.True(t, product.OriginalPrice.Equal(original))
	assert.Nil(t, product.DiscountedPrice)
}

func TestOrderDocRejectsUnknownStatus(t *testing.T) {
	_, err := orderDoc{ID: "o", Status: "shipped"}.toDomain()
	assert.Error(t, err)
}

func TestMapErrorKeepsEngineErrors(t *testing.T) {
	plain := errors.New("plain")
	assert.Same(t, plain, mapError(plain))
	assert.NoError(t, mapError(nil))

	dup := driver.WriteException{WriteErrors: []driver.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	assert.ErrorIs(t, mapError(dup), store.ErrInvalidInput)
}
