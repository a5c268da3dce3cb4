package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status_changed"
)

type OrderPlacedEvent struct {
	OrderID   string          `json:"order_id"`
	SessionID string          `json:"session_id"`
	UserID    *string         `json:"user_id"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}

type OrderStatusChangedEvent struct {
	OrderID   string      `json:"order_id"`
	SessionID string      `json:"session_id"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
}
