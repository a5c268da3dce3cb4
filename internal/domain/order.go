package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelayed    OrderStatus = "Delayed"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusDelayed, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusDelayed, OrderStatusCancelled},
	OrderStatusDelayed:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  nil,
	OrderStatusCancelled:  nil,
}

// ParseOrderStatus accepts any casing of a known status name.
func ParseOrderStatus(s string) (OrderStatus, error) {
	for status := range transitions {
		if strings.EqualFold(string(status), strings.TrimSpace(s)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Address struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name"`
	Line1     string `json:"address1" validate:"required"`
	Line2     string `json:"address2,omitempty"`
	City      string `json:"city" validate:"required"`
	Zip       string `json:"zip" validate:"required"`
	Country   string `json:"country" validate:"required"`
}

type Order struct {
	ID                string          `json:"id"`
	UserID            *string         `json:"user_id"`
	Items             []LineItem      `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	DiscountCode      string          `json:"discount_code,omitempty"`
	DiscountApplied   decimal.Decimal `json:"discount_applied"`
	Total             decimal.Decimal `json:"total"`
	ShippingAddress   Address         `json:"shipping_address"`
	BillingAddress    Address         `json:"billing_address"`
	OrderDate         time.Time       `json:"order_date"`
	Status            OrderStatus     `json:"status"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
}

// Clone returns a deep copy so callers cannot reach into engine-owned state.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = CloneLineItems(o.Items)
	if o.UserID != nil {
		id := *o.UserID
		c.UserID = &id
	}
	if o.EstimatedDelivery != nil {
		t := *o.EstimatedDelivery
		c.EstimatedDelivery = &t
	}
	return &c
}

// ShortID is the timestamp segment of an ORD-<ms>-<suffix> id, used in customer-facing text.
func (o *Order) ShortID() string {
	parts := strings.Split(o.ID, "-")
	if len(parts) < 2 {
		return o.ID
	}
	return parts[1]
}

func (o *Order) ItemCount() int {
	var n int
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

type Notification struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id,omitempty"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}
