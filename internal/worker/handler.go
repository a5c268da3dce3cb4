// Package worker simulates a fulfillment partner: it ships every placed order and, after a delay,
// marks it delivered through the storefront's status endpoint.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/session"
)

// errOrderSettled means the storefront refused the transition, usually because the customer
// cancelled first. Fulfillment stops quietly.
var errOrderSettled = errors.New("order no longer accepts this transition")

type FulfillmentHandler struct {
	storefrontURL string
	delay         time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewFulfillmentHandler(storefrontURL string, delay time.Duration, client *http.Client, logger *slog.Logger) *FulfillmentHandler {
	return &FulfillmentHandler{
		storefrontURL: storefrontURL,
		delay:         delay,
		httpClient:    client,
		logger:        logger,
	}
}

func (h *FulfillmentHandler) Handle(ctx context.Context, _ string, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: unmarshal order placed event: %w", messaging.ErrPermanent, err)
	}
	if event.OrderID == "" || event.SessionID == "" {
		return fmt.Errorf("%w: order placed event without order or session id", messaging.ErrPermanent)
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID, "session_id", event.SessionID)

	if err := h.advance(ctx, event, domain.OrderStatusShipped); err != nil {
		return h.settle(event, err)
	}

	timer := time.NewTimer(h.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := h.advance(ctx, event, domain.OrderStatusDelivered); err != nil {
		return h.settle(event, err)
	}

	h.logger.Info("order fulfilled", "order_id", event.OrderID)
	return nil
}

func (h *FulfillmentHandler) settle(event domain.OrderPlacedEvent, err error) error {
	if errors.Is(err, errOrderSettled) {
		h.logger.Info("fulfillment stopped", "order_id", event.OrderID, "reason", err)
		return nil
	}
	h.logger.Error("failed to update order status", "error", err, "order_id", event.OrderID)
	return err
}

func (h *FulfillmentHandler) advance(ctx context.Context, event domain.OrderPlacedEvent, status domain.OrderStatus) error {
	data, err := json.Marshal(map[string]string{"status": string(status)})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/orders/%s/status", h.storefrontURL, url.PathEscape(event.OrderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(session.Header, event.SessionID)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mark order %s %s: %w", event.OrderID, status, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		h.logger.Info("order status advanced", "order_id", event.OrderID, "status", status)
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", errOrderSettled, status)
	case http.StatusNotFound:
		return fmt.Errorf("%w: order %s not found", messaging.ErrPermanent, event.OrderID)
	default:
		return fmt.Errorf("storefront returned status %d for order %s", resp.StatusCode, event.OrderID)
	}
}
