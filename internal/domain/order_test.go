package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	all := []OrderStatus{
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelayed,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}

	allowed := map[OrderStatus]map[OrderStatus]bool{
		OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusDelayed: true, OrderStatusCancelled: true},
		OrderStatusShipped:    {OrderStatusDelivered: true, OrderStatusDelayed: true, OrderStatusCancelled: true},
		OrderStatusDelayed:    {OrderStatusDelivered: true, OrderStatusCancelled: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusProcessing.IsTerminal())
	assert.False(t, OrderStatusShipped.IsTerminal())
	assert.False(t, OrderStatusDelayed.IsTerminal())
	assert.False(t, OrderStatus("Lost").IsTerminal())
}

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, status)

	_, err = ParseOrderStatus("refunded")
	assert.Error(t, err)
}

func TestOrder_CloneIsDeep(t *testing.T) {
	user := "user-1"
	eta := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	order := &Order{
		ID:                "ORD-1700000000000-AB12C",
		UserID:            &user,
		Items:             []LineItem{NewLineItem(Product{ID: "p1", Price: decimal.NewFromInt(5)}, 2)},
		EstimatedDelivery: &eta,
	}

	clone := order.Clone()
	clone.Items[0].Quantity = 9
	*clone.UserID = "someone-else"
	*clone.EstimatedDelivery = eta.AddDate(0, 0, 3)

	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Equal(t, "user-1", *order.UserID)
	assert.Equal(t, eta, *order.EstimatedDelivery)
	assert.Equal(t, "1700000000000", order.ShortID())
	assert.Equal(t, 2, order.ItemCount())
}

func TestLineItem_LineTotal(t *testing.T) {
	item := NewLineItem(Product{ID: "p1", Price: decimal.RequireFromString("25.99")}, 3)
	assert.True(t, decimal.RequireFromString("77.97").Equal(item.LineTotal()))
}
