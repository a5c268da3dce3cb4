package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	c, err := catalog.NewCatalog(
		domain.Product{ID: "p1", Name: "Widget", Price: decimal.NewFromInt(50), Stock: 5},
		domain.Product{ID: "p2", Name: "Gadget", Price: decimal.RequireFromString("25.50"), Stock: 10},
		domain.Product{ID: "p3", Name: "Gizmo", Price: decimal.RequireFromString("0.99"), Stock: 0},
		domain.Product{ID: "p4", Name: "Doohickey", Price: decimal.RequireFromString("19.99"), Stock: 3},
	)
	require.NoError(t, err)
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStore fails every Put while failing is set.
type flakyStore struct {
	*storage.MemoryStore
	mu      sync.Mutex
	failing bool
}

func (s *flakyStore) fail(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = on
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Put(ctx, key, data)
}

// shrinkingCatalog overrides the stock of selected products, standing in for a live catalog.
type shrinkingCatalog struct {
	*catalog.Catalog
	stock map[string]int
}

func (c *shrinkingCatalog) Lookup(productID string) (domain.Product, bool) {
	p, ok := c.Catalog.Lookup(productID)
	if stock, set := c.stock[productID]; ok && set {
		p.Stock = stock
	}
	return p, ok
}

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewEngine("s1", testCatalog(t), store, discardLogger()), store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertSameCart(t *testing.T, want, got Snapshot) {
	t.Helper()

	quantities := func(items []domain.LineItem) map[string]int {
		out := make(map[string]int, len(items))
		for _, item := range items {
			out[item.ID] = item.Quantity
		}
		return out
	}

	assert.Equal(t, quantities(want.Items), quantities(got.Items), "items")
	assert.Equal(t, quantities(want.Saved), quantities(got.Saved), "saved")
	assert.Equal(t, want.DiscountCode, got.DiscountCode)
	assert.True(t, want.Subtotal.Equal(got.Subtotal), "subtotal %s != %s", want.Subtotal, got.Subtotal)
	assert.True(t, want.Total.Equal(got.Total), "total %s != %s", want.Total, got.Total)
}

func TestEngine_Add(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects add beyond stock without changing state", func(t *testing.T) {
		e, _ := newTestEngine(t)

		require.NoError(t, e.Add(ctx, "p1", 3))
		assert.Equal(t, 3, e.Quantity("p1"))

		err := e.Add(ctx, "p1", 3)
		require.ErrorIs(t, err, ErrInsufficientStock)

		var stockErr *StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 5, stockErr.Available)
		assert.Equal(t, 3, stockErr.InCart)
		assert.Equal(t, 3, stockErr.Requested)
		assert.Equal(t, 3, e.Quantity("p1"))
	})

	t.Run("increments existing line", func(t *testing.T) {
		e, _ := newTestEngine(t)

		require.NoError(t, e.Add(ctx, "p2", 2))
		require.NoError(t, e.Add(ctx, "p2", 3))

		items := e.Items()
		require.Len(t, items, 1)
		assert.Equal(t, 5, items[0].Quantity)
		assert.Equal(t, "Gadget", items[0].Name)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		e, _ := newTestEngine(t)

		assert.ErrorIs(t, e.Add(ctx, "p1", 0), ErrInvalidQuantity)
		assert.ErrorIs(t, e.Add(ctx, "p1", -2), ErrInvalidQuantity)
		assert.Empty(t, e.Items())
	})

	t.Run("rejects unknown product", func(t *testing.T) {
		e, _ := newTestEngine(t)
		assert.ErrorIs(t, e.Add(ctx, "nope", 1), ErrProductNotFound)
	})

	t.Run("out of stock product cannot be added", func(t *testing.T) {
		e, _ := newTestEngine(t)
		assert.ErrorIs(t, e.Add(ctx, "p3", 1), ErrInsufficientStock)
	})

	t.Run("adding a parked product removes it from saved items", func(t *testing.T) {
		e, _ := newTestEngine(t)

		require.NoError(t, e.Add(ctx, "p2", 2))
		require.NoError(t, e.SaveForLater(ctx, "p2"))
		require.NoError(t, e.Add(ctx, "p2", 1))

		assert.Equal(t, 1, e.Quantity("p2"))
		assert.Empty(t, e.Saved())
	})
}

func TestEngine_UpdateQuantity(t *testing.T) {
	ctx := context.Background()

	t.Run("sets exact quantity", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p2", 1))

		require.NoError(t, e.UpdateQuantity(ctx, "p2", 7))
		assert.Equal(t, 7, e.Quantity("p2"))
	})

	t.Run("zero removes the line", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p2", 4))

		require.NoError(t, e.UpdateQuantity(ctx, "p2", 0))
		assert.Empty(t, e.Items())
	})

	t.Run("above stock is rejected", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p1", 2))

		err := e.UpdateQuantity(ctx, "p1", 6)
		var stockErr *StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 5, stockErr.Available)
		assert.Equal(t, 2, e.Quantity("p1"))
	})

	t.Run("missing line", func(t *testing.T) {
		e, _ := newTestEngine(t)
		assert.ErrorIs(t, e.UpdateQuantity(ctx, "p1", 2), ErrItemNotInCart)
		assert.NoError(t, e.UpdateQuantity(ctx, "p1", 0))
	})
}

func TestEngine_QuantityNeverExceedsStock(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		e, _ := newTestEngine(t)
		for step := 0; step < 40; step++ {
			qty := rng.Intn(9) - 2
			if rng.Intn(2) == 0 {
				_ = e.Add(ctx, "p1", qty)
			} else {
				_ = e.UpdateQuantity(ctx, "p1", qty)
			}
			require.LessOrEqual(t, e.Quantity("p1"), 5)
		}
	}
}

func TestEngine_Totals(t *testing.T) {
	ctx := context.Background()

	t.Run("discount on a 100 subtotal", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p1", 2))

		ok, err := e.ApplyDiscount(ctx, "SAVE10")
		require.NoError(t, err)
		require.True(t, ok)

		totals := e.Totals()
		assert.True(t, dec("100").Equal(totals.Subtotal))
		assert.True(t, dec("10").Equal(totals.DiscountAmount))
		assert.True(t, dec("90").Equal(totals.Total))
		assert.Equal(t, "SAVE10", totals.DiscountCode)
		assert.Equal(t, 2, totals.ItemCount)
	})

	t.Run("saved items do not count", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p1", 1))
		require.NoError(t, e.Add(ctx, "p2", 2))
		require.NoError(t, e.SaveForLater(ctx, "p1"))

		totals := e.Totals()
		assert.True(t, dec("51.00").Equal(totals.Subtotal), totals.Subtotal.String())
		assert.True(t, totals.Subtotal.Equal(totals.Total))
	})

	t.Run("discount is rounded to cents", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p4", 1))
		_, err := e.ApplyDiscount(ctx, "save10")
		require.NoError(t, err)

		totals := e.Totals()
		assert.True(t, dec("2.00").Equal(totals.DiscountAmount), totals.DiscountAmount.String())
		assert.True(t, dec("17.99").Equal(totals.Total), totals.Total.String())
	})

	t.Run("discount follows later quantity changes", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p1", 1))
		_, err := e.ApplyDiscount(ctx, "SAVE10")
		require.NoError(t, err)
		require.NoError(t, e.Add(ctx, "p1", 1))

		assert.True(t, dec("10").Equal(e.Totals().DiscountAmount))
	})
}

func TestEngine_ApplyDiscount(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	require.NoError(t, e.Add(ctx, "p1", 2))

	ok, err := e.ApplyDiscount(ctx, " Save10 ")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.ApplyDiscount(ctx, "FREESTUFF")
	require.NoError(t, err)
	assert.False(t, ok)

	totals := e.Totals()
	assert.Empty(t, totals.DiscountCode)
	assert.True(t, totals.DiscountAmount.IsZero())
	assert.True(t, dec("100").Equal(totals.Total))
}

func TestEngine_SaveForLaterAndMoveToCart(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip restores quantity", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p2", 4))

		require.NoError(t, e.SaveForLater(ctx, "p2"))
		assert.Equal(t, 0, e.Quantity("p2"))
		require.Len(t, e.Saved(), 1)
		assert.Equal(t, 4, e.Saved()[0].Quantity)

		require.NoError(t, e.MoveToCart(ctx, "p2"))
		assert.Equal(t, 4, e.Quantity("p2"))
		assert.Empty(t, e.Saved())
	})

	t.Run("move beyond live stock is rejected", func(t *testing.T) {
		live := &shrinkingCatalog{Catalog: testCatalog(t), stock: map[string]int{}}
		e := NewEngine("s1", live, storage.NewMemoryStore(), discardLogger())
		require.NoError(t, e.Add(ctx, "p1", 4))
		require.NoError(t, e.SaveForLater(ctx, "p1"))

		live.stock["p1"] = 2
		err := e.MoveToCart(ctx, "p1")

		var stockErr *StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 2, stockErr.Available)
		assert.Equal(t, 0, e.Quantity("p1"))
		assert.Len(t, e.Saved(), 1)
	})

	t.Run("absent products are no-ops", func(t *testing.T) {
		e, _ := newTestEngine(t)
		assert.NoError(t, e.SaveForLater(ctx, "p1"))
		assert.NoError(t, e.MoveToCart(ctx, "p1"))
		assert.NoError(t, e.RemoveFromSaved(ctx, "p1"))
		assert.NoError(t, e.Remove(ctx, "p1"))
	})

	t.Run("remove from saved", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.NoError(t, e.Add(ctx, "p2", 1))
		require.NoError(t, e.SaveForLater(ctx, "p2"))
		require.NoError(t, e.RemoveFromSaved(ctx, "p2"))
		assert.Empty(t, e.Saved())
	})
}

func TestEngine_Clear(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	require.NoError(t, e.Add(ctx, "p1", 2))
	require.NoError(t, e.Add(ctx, "p2", 1))
	require.NoError(t, e.SaveForLater(ctx, "p2"))
	_, err := e.ApplyDiscount(ctx, "SAVE10")
	require.NoError(t, err)

	require.NoError(t, e.Clear(ctx))

	snap := e.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.Saved)
	assert.Empty(t, snap.DiscountCode)
	assert.True(t, snap.Subtotal.IsZero())
	assert.True(t, snap.Total.IsZero())
}

func TestEngine_ClearOrdered(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	require.NoError(t, e.Add(ctx, "p1", 2))
	ordered := e.Items()
	require.NoError(t, e.Add(ctx, "p1", 1))
	require.NoError(t, e.Add(ctx, "p2", 4))
	require.NoError(t, e.Add(ctx, "p4", 1))
	require.NoError(t, e.SaveForLater(ctx, "p4"))
	_, err := e.ApplyDiscount(ctx, "SAVE10")
	require.NoError(t, err)

	require.NoError(t, e.ClearOrdered(ctx, append(ordered, domain.NewLineItem(domain.Product{ID: "p3"}, 1))))

	assert.Equal(t, 1, e.Quantity("p1"))
	assert.Equal(t, 4, e.Quantity("p2"))
	assert.Empty(t, e.Saved())
	assert.Empty(t, e.Totals().DiscountCode)

	reloaded, err := Load(ctx, "s1", testCatalog(t), store, discardLogger())
	require.NoError(t, err)
	assertSameCart(t, e.Snapshot(), reloaded.Snapshot())

	require.NoError(t, e.ClearOrdered(ctx, e.Items()))
	assert.Empty(t, e.Items())
}

func TestEngine_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	require.NoError(t, e.Add(ctx, "p1", 2))
	require.NoError(t, e.Add(ctx, "p2", 3))
	require.NoError(t, e.SaveForLater(ctx, "p2"))
	_, err := e.ApplyDiscount(ctx, "SAVE10")
	require.NoError(t, err)

	reloaded, err := Load(ctx, "s1", testCatalog(t), store, discardLogger())
	require.NoError(t, err)

	assertSameCart(t, e.Snapshot(), reloaded.Snapshot())

	other, err := Load(ctx, "s2", testCatalog(t), store, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, other.Items())
}

func TestLoad_DiscardsUnreadableState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, storage.SessionKey("s1", KeyItems), []byte("not json")))
	require.NoError(t, storage.Save(ctx, store, storage.SessionKey("s1", KeyDiscount), "BOGUS"))

	e, err := Load(ctx, "s1", testCatalog(t), store, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, e.Items())
	assert.Empty(t, e.Totals().DiscountCode)
}

func TestLoad_RepairsStoredState(t *testing.T) {
	ctx := context.Background()
	widget := domain.Product{ID: "p1", Name: "Widget", Price: dec("50"), Stock: 5}
	gadget := domain.Product{ID: "p2", Name: "Gadget", Price: dec("25.50"), Stock: 10}
	gizmo := domain.Product{ID: "p3", Name: "Gizmo", Price: dec("0.99"), Stock: 0}
	retired := domain.Product{ID: "gone", Name: "Retired", Price: dec("1"), Stock: 9}

	store := storage.NewMemoryStore()
	require.NoError(t, storage.Save(ctx, store, storage.SessionKey("s1", KeyItems), []domain.LineItem{
		domain.NewLineItem(widget, 9),
		domain.NewLineItem(widget, 1),
		domain.NewLineItem(gadget, 0),
		domain.NewLineItem(gizmo, 1),
		domain.NewLineItem(retired, 2),
	}))
	require.NoError(t, storage.Save(ctx, store, storage.SessionKey("s1", KeySaved), []domain.LineItem{
		domain.NewLineItem(widget, -2),
		domain.NewLineItem(widget, 1),
		domain.NewLineItem(gadget, 3),
		domain.NewLineItem(gadget, 2),
	}))

	e, err := Load(ctx, "s1", testCatalog(t), store, discardLogger())
	require.NoError(t, err)

	items := e.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ID)
	assert.Equal(t, 5, items[0].Quantity)

	saved := e.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "p2", saved[0].ID)
	assert.Equal(t, 5, saved[0].Quantity)

	assert.True(t, dec("250").Equal(e.Totals().Subtotal))

	// The repaired state was written back, so a second load sees it unchanged.
	var stored []domain.LineItem
	_, err = storage.Load(ctx, store, storage.SessionKey("s1", KeyItems), &stored)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 5, stored[0].Quantity)
}

func TestLoad_FailsWhenRepairCannotPersist(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	require.NoError(t, storage.Save(ctx, store, storage.SessionKey("s1", KeyItems),
		[]domain.LineItem{domain.NewLineItem(domain.Product{ID: "p1", Name: "Widget", Price: dec("50"), Stock: 5}, 0)}))
	store.fail(true)

	_, err := Load(ctx, "s1", testCatalog(t), store, discardLogger())
	assert.Error(t, err)
}

func TestEngine_RollsBackWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	e := NewEngine("s1", testCatalog(t), store, discardLogger())

	require.NoError(t, e.Add(ctx, "p1", 2))
	store.fail(true)

	assert.Error(t, e.Add(ctx, "p1", 1))
	assert.Error(t, e.UpdateQuantity(ctx, "p1", 4))
	assert.Error(t, e.SaveForLater(ctx, "p1"))
	assert.Error(t, e.Clear(ctx))
	_, err := e.ApplyDiscount(ctx, "SAVE10")
	assert.Error(t, err)

	assert.Equal(t, 2, e.Quantity("p1"))
	assert.Empty(t, e.Saved())
	assert.Empty(t, e.Totals().DiscountCode)

	store.fail(false)
	reloaded, err := Load(ctx, "s1", testCatalog(t), store, discardLogger())
	require.NoError(t, err)
	assertSameCart(t, e.Snapshot(), reloaded.Snapshot())
}
