package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusRoundTripsThroughJSON(t *testing.T) {
	payload, err := json.Marshal(Order{ID: "o1", Status: OrderStatusAccepted})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"status":"accepted"`)

	var decoded Order
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, OrderStatusAccepted, decoded.Status)
}

func TestParseOrderStatusRejectsFreeText(t *testing.T) {
	_, err := ParseOrderStatus("shipped")
	require.Error(t, err)

	status, err := ParseOrderStatus(" Declined ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusDeclined, status)
	assert.True(t, status.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
}

func TestProductSizeIndexIgnoresCaseAndSpacing(t *testing.T) {
	p := Product{Sizes: []SizeStock{{Size: "M", Quantity: 1}, {Size: "XL", Quantity: 2}}}

	assert.Equal(t, 1, p.SizeIndex(" xl "))
	assert.Equal(t, -1, p.SizeIndex("S"))
}
