package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTotals(t *testing.T) {
	order := Order{Items: []OrderItem{
		{Quantity: 2, UnitPrice: decimal.RequireFromString("5.00")},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("3.50")},
	}}
	assert.True(t, order.CalculateTotal().Equal(decimal.RequireFromString("13.50")))
	assert.Equal(t, 3, order.ItemCount())
	assert.True(t, (&Order{}).CalculateTotal().IsZero())
}

func TestOrderStatusValid(t *testing.T) {
	assert.True(t, StatusNew.Valid())
	assert.True(t, StatusReady.Valid())
	assert.False(t, OrderStatus("new").Valid())
	assert.False(t, OrderStatus("").Valid())
}

func TestOrderJSONShape(t *testing.T) {
	order := Order{
		ID:          "o1",
		TableNumber: "12",
		Status:      StatusNew,
		TotalAmount: decimal.RequireFromString("13.50"),
		Items: []OrderItem{{
			ID:        "i1",
			Quantity:  1,
			UnitPrice: decimal.RequireFromString("3.50"),
			MenuItem:  &MenuItem{ID: "m1", Name: "Mango Lassi"},
		}},
	}
	raw, err := json.Marshal(order)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 13.5, out["total_amount"])
	items := out["order_items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, 3.5, item["unit_price"])
	assert.Equal(t, "Mango Lassi", item["menu_items"].(map[string]interface{})["name"])
	assert.NotContains(t, out, "idempotency_key")
}

func TestBranchHidesPasswordHash(t *testing.T) {
	raw, err := json.Marshal(Branch{ID: "b1", Name: "Cardiff", PasswordHash: "secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}
