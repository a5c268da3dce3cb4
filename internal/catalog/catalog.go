package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// Catalog is a fixed, read-only product list. Stock values are ceilings, nothing decrements them.
type Catalog struct {
	products []domain.Product
	byID     map[string]int
}

func NewCatalog(products ...domain.Product) (*Catalog, error) {
	c := &Catalog{
		products: make([]domain.Product, 0, len(products)),
		byID:     make(map[string]int, len(products)),
	}

	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("product %q has no id", p.Name)
		}
		if _, exists := c.byID[p.ID]; exists {
			return nil, fmt.Errorf("duplicate product id %q", p.ID)
		}
		if p.Stock < 0 || p.Price.IsNegative() {
			return nil, fmt.Errorf("product %q has negative stock or price", p.ID)
		}
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}

	return c, nil
}

// Default returns the storefront's seeded catalog.
func Default() *Catalog {
	c, err := NewCatalog(SampleProducts()...)
	if err != nil {
		panic(err)
	}
	return c
}

func SampleProducts() []domain.Product {
	return []domain.Product{
		{
			ID:          "prod1",
			Name:        "Stylish T-Shirt",
			Price:       decimal.RequireFromString("25.99"),
			ImageURL:    "/images/shirt.png",
			Stock:       10,
			Description: "A cool t-shirt.",
			Category:    "Clothing",
		},
		{
			ID:          "prod2",
			Name:        "Comfortable Jeans",
			Price:       decimal.RequireFromString("59.99"),
			ImageURL:    "/images/jeans.jpg",
			Stock:       5,
			Description: "Great pair of jeans.",
			Category:    "Clothing",
		},
		{
			ID:          "prod3",
			Name:        "Limited Sneakers",
			Price:       decimal.RequireFromString("120.00"),
			ImageURL:    "/images/sneakers.jpg",
			Stock:       50,
			Description: "Exclusive limited edition sneakers.",
			Category:    "Footwear",
		},
		{
			ID:          "prod4",
			Name:        "Classic Watch",
			Price:       decimal.RequireFromString("199.50"),
			ImageURL:    "/images/watch.jpg",
			Stock:       3,
			Description: "An elegant timepiece.",
			Category:    "Accessories",
		},
	}
}

func (c *Catalog) Lookup(productID string) (domain.Product, bool) {
	i, ok := c.byID[productID]
	if !ok {
		return domain.Product{}, false
	}
	return c.products[i], true
}

func (c *Catalog) List() []domain.Product {
	out := make([]domain.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Search matches query case-insensitively against name and description and, when category is
// set, keeps only products in that category (also case-insensitive). Empty filters match all.
func (c *Catalog) Search(query, category string) []domain.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	category = strings.TrimSpace(category)

	out := []domain.Product{}
	for _, p := range c.products {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			continue
		}
		out = append(out, p)
	}
	return out
}
