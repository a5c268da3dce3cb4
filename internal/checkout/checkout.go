// Package checkout turns a session's cart into an order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/session"
)

var ErrEmptyCart = errors.New("cart is empty")

type Request struct {
	Email                 string          `json:"email" validate:"required,email"`
	Billing               domain.Address  `json:"billing"`
	Shipping              *domain.Address `json:"shipping,omitempty" validate:"required_if=UseBillingForShipping false"`
	UseBillingForShipping bool            `json:"use_billing_for_shipping"`
}

func (r Request) shippingAddress() domain.Address {
	if r.UseBillingForShipping || r.Shipping == nil {
		return r.Billing
	}
	return *r.Shipping
}

type Service struct {
	catalog cart.Catalog
	logger  *slog.Logger
}

func NewService(catalog cart.Catalog, logger *slog.Logger) *Service {
	return &Service{
		catalog: catalog,
		logger:  logger,
	}
}

// Checkout places an order for everything in the session's active cart and then clears the cart.
// Checkouts of one session run one at a time. Cart mutations are not blocked meanwhile: only the
// ordered quantities leave the cart, so a line added during checkout stays for the next order.
// The order stands even if clearing fails.
func (s *Service) Checkout(ctx context.Context, sess *session.Session, req Request) (*domain.Order, error) {
	if req.UseBillingForShipping {
		req.Shipping = nil
	}
	if err := domain.Validate(req); err != nil {
		return nil, err
	}

	defer sess.LockCheckout()()

	snap := sess.Cart.Snapshot()
	if len(snap.Items) == 0 {
		return nil, ErrEmptyCart
	}

	for _, line := range snap.Items {
		if err := s.checkStock(line); err != nil {
			s.logger.Info("checkout rejected", "session_id", sess.ID, "product_id", line.ID, "error", err)
			return nil, err
		}
	}

	shipping := req.shippingAddress()
	order, err := sess.Orders.PlaceOrder(ctx, snap.Items, orders.Totals{
		Subtotal:       snap.Subtotal,
		DiscountCode:   snap.DiscountCode,
		DiscountAmount: snap.DiscountAmount,
		Total:          snap.Total,
	}, shipping, req.Billing, sess.UserID())
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	if err := sess.Cart.ClearOrdered(ctx, snap.Items); err != nil {
		s.logger.Error("failed to clear cart after checkout", "error", err, "session_id", sess.ID, "order_id", order.ID)
	}

	s.logger.Info("checkout completed", "session_id", sess.ID, "order_id", order.ID, "email", req.Email)
	return order, nil
}

func (s *Service) checkStock(line domain.LineItem) error {
	product, ok := s.catalog.Lookup(line.ID)
	if !ok {
		return fmt.Errorf("%w: %s", cart.ErrProductNotFound, line.ID)
	}
	if line.Quantity > product.Stock {
		return &cart.StockError{
			ProductID: product.ID,
			Name:      product.Name,
			Available: product.Stock,
			InCart:    line.Quantity,
			Requested: line.Quantity,
		}
	}
	return nil
}
