package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

var tracer = otel.Tracer("orders/engine")

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyOrder        = errors.New("order has no items")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type TransitionError struct {
	OrderID string
	From    domain.OrderStatus
	To      domain.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

const (
	KeyOrders        = "orders"
	KeyNotifications = "notifications"
)

const (
	shippingWindow = 5 * 24 * time.Hour
	delayPenalty   = 3 * 24 * time.Hour
	suffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffixLength   = 5
)

// Totals are the cart-derived amounts frozen into an order.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountCode   string
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.intn = r.IntN
	}
}

func WithInstruments(inst *telemetry.Instruments) Option {
	return func(e *Engine) {
		e.instruments = inst
	}
}

// WithPublishers sets where placement and status change events go. Either may be nil.
func WithPublishers(placed, statusChanged Publisher) Option {
	return func(e *Engine) {
		e.placed = placed
		e.statusChanged = statusChanged
	}
}

type Engine struct {
	mu            sync.Mutex
	sessionID     string
	store         storage.Store
	logger        *slog.Logger
	instruments   *telemetry.Instruments
	placed        Publisher
	statusChanged Publisher
	now           func() time.Time
	intn          func(n int) int

	orders        []*domain.Order
	notifications []domain.Notification
}

func NewEngine(sessionID string, store storage.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		sessionID:     sessionID,
		store:         store,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		intn:          rand.IntN,
		orders:        []*domain.Order{},
		notifications: []domain.Notification{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load restores a session's orders and notification feed. Unreadable entries are logged and
// replaced by empty collections.
func Load(ctx context.Context, sessionID string, store storage.Store, logger *slog.Logger, opts ...Option) (*Engine, error) {
	e := NewEngine(sessionID, store, logger, opts...)

	if err := e.load(ctx, KeyOrders, &e.orders); err != nil {
		return nil, err
	}
	if err := e.load(ctx, KeyNotifications, &e.notifications); err != nil {
		return nil, err
	}

	e.orders = slices.DeleteFunc(e.orders, func(o *domain.Order) bool { return o == nil })
	if e.notifications == nil {
		e.notifications = []domain.Notification{}
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context, name string, dst any) error {
	_, err := storage.Load(ctx, e.store, storage.SessionKey(e.sessionID, name), dst)
	if errors.Is(err, storage.ErrCorrupt) {
		e.logger.Warn("discarding unreadable order state", "error", err, "session_id", e.sessionID, "key", name)
		return nil
	}
	return err
}

// PlaceOrder freezes items and totals into a new Processing order and records a placement
// notification. It never touches the cart; clearing it is the caller's job.
func (e *Engine) PlaceOrder(ctx context.Context, items []domain.LineItem, totals Totals, shipping, billing domain.Address, userID *string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "PlaceOrder", trace.WithAttributes(
		attribute.String("session.id", e.sessionID),
		attribute.Int("order.lines", len(items)),
	))
	defer span.End()

	order, err := e.placeOrder(ctx, items, totals, shipping, billing, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	total, _ := order.Total.Float64()
	e.instruments.OrderPlaced(ctx, total, order.UserID == nil)
	e.publish(ctx, e.placed, order.ID, domain.OrderPlacedEvent{
		OrderID:   order.ID,
		SessionID: e.sessionID,
		UserID:    order.UserID,
		ItemCount: order.ItemCount(),
		Total:     order.Total,
		Timestamp: order.OrderDate,
	})

	return order, nil
}

func (e *Engine) placeOrder(ctx context.Context, items []domain.LineItem, totals Totals, shipping, billing domain.Address, userID *string) (*domain.Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	if err := domain.Validate(shipping); err != nil {
		return nil, fmt.Errorf("shipping address: %w", err)
	}
	if err := domain.Validate(billing); err != nil {
		return nil, fmt.Errorf("billing address: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	order := &domain.Order{
		ID:              e.newOrderID(now),
		Items:           domain.CloneLineItems(items),
		Subtotal:        totals.Subtotal,
		DiscountCode:    totals.DiscountCode,
		DiscountApplied: totals.DiscountAmount,
		Total:           totals.Total,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		OrderDate:       now,
		Status:          domain.OrderStatusProcessing,
	}
	if userID != nil {
		id := *userID
		order.UserID = &id
	}

	prevOrders, prevNotifications := e.orders, e.notifications
	e.orders = append(slices.Clip(e.orders), order)
	e.notify(order.ID, fmt.Sprintf("Order #%s placed successfully!", order.ShortID()), now)

	if err := e.commit(ctx, prevOrders, prevNotifications); err != nil {
		return nil, err
	}

	e.logger.Info("order placed", "order_id", order.ID, "session_id", e.sessionID, "total", order.Total.StringFixed(2))
	return order.Clone(), nil
}

// GetOrderByID returns a copy of the order, or false when the session has no such order.
func (e *Engine) GetOrderByID(orderID string) (*domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if order := e.find(orderID); order != nil {
		return order.Clone(), true
	}
	return nil, false
}

// UpdateOrderStatus advances an order along the status graph. Moving to the current status is a
// no-op reported as changed=false; any move the graph does not allow is a *TransitionError.
func (e *Engine) UpdateOrderStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, bool, error) {
	if !next.Valid() {
		return nil, false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	e.mu.Lock()
	order := e.find(orderID)
	if order == nil {
		e.mu.Unlock()
		return nil, false, ErrOrderNotFound
	}

	from := order.Status
	if from == next {
		clone := order.Clone()
		e.mu.Unlock()
		return clone, false, nil
	}
	if !from.CanTransitionTo(next) {
		e.mu.Unlock()
		e.logger.Info("order status transition rejected", "order_id", orderID, "from", from, "to", next)
		return nil, false, &TransitionError{OrderID: orderID, From: from, To: next}
	}

	now := e.now()
	updated := order.Clone()
	applyTransition(updated, next, now)

	prevOrders, prevNotifications := e.orders, e.notifications
	e.orders = slices.Clone(e.orders)
	e.orders[slices.Index(e.orders, order)] = updated
	e.notify(orderID, fmt.Sprintf("Order #%s status updated to %s.", updated.ShortID(), next), now)

	if err := e.commit(ctx, prevOrders, prevNotifications); err != nil {
		e.mu.Unlock()
		return nil, false, err
	}
	clone := updated.Clone()
	e.mu.Unlock()

	e.logger.Info("order status updated", "order_id", orderID, "from", from, "to", next)
	e.instruments.StatusChanged(ctx, string(from), string(next))
	e.publish(ctx, e.statusChanged, orderID, domain.OrderStatusChangedEvent{
		OrderID:   orderID,
		SessionID: e.sessionID,
		From:      from,
		To:        next,
		Timestamp: now,
	})

	return clone, true, nil
}

func applyTransition(order *domain.Order, next domain.OrderStatus, now time.Time) {
	switch next {
	case domain.OrderStatusShipped:
		order.TrackingNumber = "TN" + strconv.FormatInt(now.UnixMilli(), 10)
		eta := now.Add(shippingWindow)
		order.EstimatedDelivery = &eta
	case domain.OrderStatusDelayed:
		if order.EstimatedDelivery != nil {
			eta := order.EstimatedDelivery.Add(delayPenalty)
			order.EstimatedDelivery = &eta
		}
	case domain.OrderStatusDelivered:
		if order.EstimatedDelivery == nil {
			delivered := now
			order.EstimatedDelivery = &delivered
		}
	}
	order.Status = next
}

// MarkNotificationsRead flags the whole feed as read. Calling it again changes nothing.
func (e *Engine) MarkNotificationsRead(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !slices.ContainsFunc(e.notifications, func(n domain.Notification) bool { return !n.Read }) {
		return nil
	}

	prevOrders, prevNotifications := e.orders, e.notifications
	e.notifications = slices.Clone(e.notifications)
	for i := range e.notifications {
		e.notifications[i].Read = true
	}

	return e.commit(ctx, prevOrders, prevNotifications)
}

// Orders lists the orders of userID in placement order. A nil userID selects guest orders.
func (e *Engine) Orders(userID *string) []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []*domain.Order{}
	for _, order := range e.orders {
		if sameUser(order.UserID, userID) {
			out = append(out, order.Clone())
		}
	}
	return out
}

func (e *Engine) All() []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*domain.Order, len(e.orders))
	for i, order := range e.orders {
		out[i] = order.Clone()
	}
	return out
}

// Notifications returns the feed newest first.
func (e *Engine) Notifications() []domain.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.notifications)
}

func (e *Engine) UnreadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	for _, notification := range e.notifications {
		if !notification.Read {
			n++
		}
	}
	return n
}

func (e *Engine) find(orderID string) *domain.Order {
	for _, order := range e.orders {
		if order.ID == orderID {
			return order
		}
	}
	return nil
}

func (e *Engine) notify(orderID, message string, at time.Time) {
	n := domain.Notification{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Message:   message,
		Timestamp: at,
	}
	e.notifications = append([]domain.Notification{n}, e.notifications...)
}

func (e *Engine) newOrderID(now time.Time) string {
	for {
		var suffix strings.Builder
		for range suffixLength {
			suffix.WriteByte(suffixAlphabet[e.intn(len(suffixAlphabet))])
		}
		id := fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix.String())
		if e.find(id) == nil {
			return id
		}
	}
}

// commit persists orders and notifications. On failure both collections go back to prev; orders
// are restored in the store if only the feed write failed.
func (e *Engine) commit(ctx context.Context, prevOrders []*domain.Order, prevNotifications []domain.Notification) error {
	ordersKey := storage.SessionKey(e.sessionID, KeyOrders)
	notificationsKey := storage.SessionKey(e.sessionID, KeyNotifications)

	err := storage.Save(ctx, e.store, ordersKey, e.orders)
	if err == nil {
		err = storage.Save(ctx, e.store, notificationsKey, e.notifications)
		if err != nil {
			if rerr := storage.Save(ctx, e.store, ordersKey, prevOrders); rerr != nil {
				e.logger.Error("failed to restore orders", "error", rerr, "session_id", e.sessionID)
			}
		}
	}
	if err != nil {
		e.orders, e.notifications = prevOrders, prevNotifications
		e.logger.Error("failed to persist orders", "error", err, "session_id", e.sessionID)
		return fmt.Errorf("persist orders: %w", err)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, p Publisher, key string, event any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, key, event); err != nil {
		e.logger.Warn("failed to publish order event", "error", err, "order_id", key)
	}
}

func sameUser(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
