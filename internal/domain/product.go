package domain

import "github.com/shopspring/decimal"

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	ImageURL    string          `json:"image_url"`
}

// LineItem is a product snapshot taken when it was added, plus the quantity held.
// It does not follow later catalog changes.
type LineItem struct {
	Product
	Quantity int `json:"quantity"`
}

func NewLineItem(p Product, quantity int) LineItem {
	return LineItem{Product: p, Quantity: quantity}
}

func (l LineItem) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func CloneLineItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
