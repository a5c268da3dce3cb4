package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the storefront's domain counters. A nil *Instruments records nothing.
type Instruments struct {
	stockRejections   metric.Int64Counter
	ordersPlaced      metric.Int64Counter
	orderRevenue      metric.Float64Counter
	statusTransitions metric.Int64Counter
}

func NewInstruments(meter metric.Meter) (*Instruments, error) {
	stockRejections, err := meter.Int64Counter("storefront.cart.stock_rejections",
		metric.WithDescription("Cart mutations rejected because they would exceed stock"))
	if err != nil {
		return nil, err
	}

	ordersPlaced, err := meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders created at checkout"))
	if err != nil {
		return nil, err
	}

	orderRevenue, err := meter.Float64Counter("storefront.orders.revenue",
		metric.WithDescription("Sum of order totals after discounts"))
	if err != nil {
		return nil, err
	}

	statusTransitions, err := meter.Int64Counter("storefront.orders.status_transitions",
		metric.WithDescription("Accepted order status transitions"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		stockRejections:   stockRejections,
		ordersPlaced:      ordersPlaced,
		orderRevenue:      orderRevenue,
		statusTransitions: statusTransitions,
	}, nil
}

func (i *Instruments) StockRejected(ctx context.Context, productID string) {
	if i == nil {
		return
	}
	i.stockRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("product.id", productID)))
}

func (i *Instruments) OrderPlaced(ctx context.Context, total float64, guest bool) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("order.guest", guest))
	i.ordersPlaced.Add(ctx, 1, attrs)
	i.orderRevenue.Add(ctx, total, attrs)
}

func (i *Instruments) StatusChanged(ctx context.Context, from, to string) {
	if i == nil {
		return
	}
	i.statusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order.status.from", from),
		attribute.String("order.status.to", to),
	))
}
