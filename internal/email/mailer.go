// Package email turns order events into customer emails. Delivery is simulated: the default
// sender only logs what it would have sent.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/messaging"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender pretends to talk to a mail provider, taking 50-200ms per message.
type LogSender struct {
	logger *slog.Logger
	jitter func() time.Duration
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{
		logger: logger,
		jitter: func() time.Duration { return time.Duration(50+rand.IntN(151)) * time.Millisecond },
	}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	timer := time.NewTimer(s.jitter())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	s.logger.InfoContext(ctx, "email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

type Mailer struct {
	sender Sender
	logger *slog.Logger
}

func NewMailer(sender Sender, logger *slog.Logger) *Mailer {
	return &Mailer{
		sender: sender,
		logger: logger,
	}
}

func (m *Mailer) HandleOrderPlaced(ctx context.Context, _ string, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: unmarshal order placed event: %w", messaging.ErrPermanent, err)
	}
	if event.OrderID == "" {
		return fmt.Errorf("%w: order placed event without order id", messaging.ErrPermanent)
	}

	return m.send(ctx, Message{
		To:      recipient(event.SessionID, event.UserID),
		Subject: fmt.Sprintf("Order #%s confirmed", event.OrderID),
		Body: fmt.Sprintf("Thanks for your order! %d item(s), total $%s.",
			event.ItemCount, event.Total.StringFixed(2)),
	})
}

func (m *Mailer) HandleStatusChanged(ctx context.Context, _ string, payload []byte) error {
	var event domain.OrderStatusChangedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: unmarshal status changed event: %w", messaging.ErrPermanent, err)
	}
	if event.OrderID == "" || !event.To.Valid() {
		return fmt.Errorf("%w: status changed event without order id or known status", messaging.ErrPermanent)
	}

	return m.send(ctx, Message{
		To:      recipient(event.SessionID, nil),
		Subject: fmt.Sprintf("Order #%s is %s", event.OrderID, event.To),
		Body:    fmt.Sprintf("Your order moved from %s to %s.", event.From, event.To),
	})
}

func (m *Mailer) send(ctx context.Context, msg Message) error {
	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %q: %w", msg.Subject, err)
	}
	return nil
}

// recipient addresses the account when there is one and the browsing session otherwise.
func recipient(sessionID string, userID *string) string {
	if userID != nil {
		return "user:" + *userID
	}
	return "session:" + sessionID
}
