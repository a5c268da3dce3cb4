// Package cart owns a session's active cart, its saved-for-later items and the applied discount.
//
// Every mutation is checked against the live catalog stock ceiling and is written to the durable
// store before it returns. A failed write rolls the in-memory state back, so callers never observe
// a mutation that was not persisted.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/storage"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrProductNotFound   = errors.New("product not found")
	ErrItemNotInCart     = errors.New("item not in cart")
)

// StockError reports a mutation that would push a product past its stock ceiling.
type StockError struct {
	ProductID string
	Name      string
	Available int
	InCart    int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("only %d of %s available in total", e.Available, e.Name)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

const (
	KeyItems    = "cart_items"
	KeySaved    = "saved_items"
	KeyDiscount = "discount_code"
)

var discountRates = map[string]decimal.Decimal{
	"SAVE10": decimal.RequireFromString("0.10"),
}

type Catalog interface {
	Lookup(productID string) (domain.Product, bool)
}

type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountCode   string          `json:"discount_code,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	ItemCount      int             `json:"item_count"`
}

type Snapshot struct {
	Items []domain.LineItem `json:"items"`
	Saved []domain.LineItem `json:"saved"`
	Totals
}

type Option func(*Engine)

func WithInstruments(inst *telemetry.Instruments) Option {
	return func(e *Engine) {
		e.instruments = inst
	}
}

type Engine struct {
	mu          sync.Mutex
	sessionID   string
	catalog     Catalog
	store       storage.Store
	logger      *slog.Logger
	instruments *telemetry.Instruments

	items        []domain.LineItem
	saved        []domain.LineItem
	discountCode string
}

type state struct {
	items        []domain.LineItem
	saved        []domain.LineItem
	discountCode string
}

func NewEngine(sessionID string, catalog Catalog, store storage.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		sessionID: sessionID,
		catalog:   catalog,
		store:     store,
		logger:    logger,
		items:     []domain.LineItem{},
		saved:     []domain.LineItem{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load restores a session's cart from the store. Entries that cannot be decoded are logged and
// replaced by their empty default; backend failures are returned. Decoded state is repaired
// before use (see repair) and any repaired key is written back.
func Load(ctx context.Context, sessionID string, catalog Catalog, store storage.Store, logger *slog.Logger, opts ...Option) (*Engine, error) {
	e := NewEngine(sessionID, catalog, store, logger, opts...)

	if err := e.load(ctx, KeyItems, &e.items); err != nil {
		return nil, err
	}
	if err := e.load(ctx, KeySaved, &e.saved); err != nil {
		return nil, err
	}
	if err := e.load(ctx, KeyDiscount, &e.discountCode); err != nil {
		return nil, err
	}

	for _, name := range e.repair() {
		if err := storage.Save(ctx, e.store, storage.SessionKey(e.sessionID, name), e.value(name)); err != nil {
			return nil, fmt.Errorf("persist repaired cart: %w", err)
		}
	}

	return e, nil
}

// repair restores the cart invariants on state read back from the store: positive quantities,
// one line per product, products still in the catalog, quantities within stock and disjoint
// collections (the active line wins). It returns the keys it changed.
func (e *Engine) repair() []string {
	var changed []string

	items, itemsChanged := e.repairLines(KeyItems, e.items)
	saved, savedChanged := e.repairLines(KeySaved, e.saved)

	saved = slices.DeleteFunc(saved, func(l domain.LineItem) bool {
		if indexOf(items, l.ID) < 0 {
			return false
		}
		e.logger.Warn("dropping saved line already in cart", "session_id", e.sessionID, "product_id", l.ID)
		savedChanged = true
		return true
	})

	e.items, e.saved = items, saved
	if itemsChanged {
		changed = append(changed, KeyItems)
	}
	if savedChanged {
		changed = append(changed, KeySaved)
	}

	if _, ok := discountRates[e.discountCode]; !ok && e.discountCode != "" {
		e.logger.Warn("dropping unknown discount code", "session_id", e.sessionID, "code", e.discountCode)
		e.discountCode = ""
		changed = append(changed, KeyDiscount)
	}

	return changed
}

func (e *Engine) repairLines(name string, lines []domain.LineItem) ([]domain.LineItem, bool) {
	out := make([]domain.LineItem, 0, len(lines))
	changed := false
	warn := func(msg, productID string, args ...any) {
		changed = true
		e.logger.Warn(msg, append([]any{"session_id", e.sessionID, "key", name, "product_id", productID}, args...)...)
	}

	for _, line := range lines {
		if line.Quantity <= 0 {
			warn("dropping line with non-positive quantity", line.ID, "quantity", line.Quantity)
			continue
		}
		if _, ok := e.catalog.Lookup(line.ID); !ok {
			warn("dropping line for product no longer in catalog", line.ID)
			continue
		}
		if i := indexOf(out, line.ID); i >= 0 {
			warn("merging duplicate line", line.ID)
			out[i].Quantity += line.Quantity
			continue
		}
		out = append(out, line)
	}

	kept := out[:0]
	for _, line := range out {
		stock := e.stockFor(line)
		switch {
		case line.Quantity <= stock:
		case stock == 0:
			warn("dropping line for out of stock product", line.ID)
			continue
		default:
			warn("capping line at stock", line.ID, "quantity", line.Quantity, "stock", stock)
			line.Quantity = stock
		}
		kept = append(kept, line)
	}
	return kept, changed
}

func (e *Engine) load(ctx context.Context, name string, dst any) error {
	_, err := storage.Load(ctx, e.store, storage.SessionKey(e.sessionID, name), dst)
	if errors.Is(err, storage.ErrCorrupt) {
		e.logger.Warn("discarding unreadable cart state", "error", err, "session_id", e.sessionID, "key", name)
		return nil
	}
	return err
}

func (e *Engine) SessionID() string {
	return e.sessionID
}

// Add puts quantity more units of productID into the active cart. The combined quantity may not
// exceed the product's stock ceiling. A product parked in saved-for-later is dropped from there
// once it is added again, keeping the two collections disjoint.
func (e *Engine) Add(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	product, ok := e.catalog.Lookup(productID)
	if !ok {
		return ErrProductNotFound
	}

	idx := indexOf(e.items, productID)
	current := 0
	if idx >= 0 {
		current = e.items[idx].Quantity
	}

	if current+quantity > product.Stock {
		return e.rejectStock(ctx, product.ID, product.Name, product.Stock, current, quantity)
	}

	prev := e.capture()
	if idx >= 0 {
		e.items[idx].Quantity += quantity
	} else {
		e.items = append(e.items, domain.NewLineItem(product, quantity))
	}

	keys := []string{KeyItems}
	if j := indexOf(e.saved, productID); j >= 0 {
		e.saved = slices.Delete(e.saved, j, j+1)
		keys = append(keys, KeySaved)
	}

	if err := e.commit(ctx, prev, keys...); err != nil {
		return err
	}

	e.logger.Info("cart item added", "session_id", e.sessionID, "product_id", productID, "quantity", current+quantity)
	return nil
}

// UpdateQuantity sets the exact quantity of an active line. Zero or less removes the line.
func (e *Engine) UpdateQuantity(ctx context.Context, productID string, newQuantity int) error {
	if newQuantity <= 0 {
		return e.Remove(ctx, productID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := indexOf(e.items, productID)
	if idx < 0 {
		return ErrItemNotInCart
	}

	line := e.items[idx]
	stock := e.stockFor(line)
	if newQuantity > stock {
		return e.rejectStock(ctx, line.ID, line.Name, stock, line.Quantity, newQuantity)
	}
	if newQuantity == line.Quantity {
		return nil
	}

	prev := e.capture()
	e.items[idx].Quantity = newQuantity

	if err := e.commit(ctx, prev, KeyItems); err != nil {
		return err
	}

	e.logger.Info("cart quantity updated", "session_id", e.sessionID, "product_id", productID, "quantity", newQuantity)
	return nil
}

func (e *Engine) Remove(ctx context.Context, productID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := indexOf(e.items, productID)
	if idx < 0 {
		return nil
	}

	prev := e.capture()
	e.items = slices.Delete(e.items, idx, idx+1)

	if err := e.commit(ctx, prev, KeyItems); err != nil {
		return err
	}

	e.logger.Info("cart item removed", "session_id", e.sessionID, "product_id", productID)
	return nil
}

// SaveForLater parks an active line. The collections are disjoint, so the line is never already
// parked.
func (e *Engine) SaveForLater(ctx context.Context, productID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := indexOf(e.items, productID)
	if idx < 0 {
		return nil
	}

	prev := e.capture()
	line := e.items[idx]
	e.items = slices.Delete(e.items, idx, idx+1)
	e.saved = append(e.saved, line)

	if err := e.commit(ctx, prev, KeyItems, KeySaved); err != nil {
		return err
	}

	e.logger.Info("cart item saved for later", "session_id", e.sessionID, "product_id", productID)
	return nil
}

// MoveToCart returns a parked line to the active cart, provided it still fits the live stock
// ceiling.
func (e *Engine) MoveToCart(ctx context.Context, productID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j := indexOf(e.saved, productID)
	if j < 0 {
		return nil
	}

	parked := e.saved[j]
	if stock := e.stockFor(parked); parked.Quantity > stock {
		return e.rejectStock(ctx, parked.ID, parked.Name, stock, 0, parked.Quantity)
	}

	prev := e.capture()
	e.saved = slices.Delete(e.saved, j, j+1)
	e.items = append(e.items, parked)

	if err := e.commit(ctx, prev, KeyItems, KeySaved); err != nil {
		return err
	}

	e.logger.Info("saved item moved to cart", "session_id", e.sessionID, "product_id", productID)
	return nil
}

func (e *Engine) RemoveFromSaved(ctx context.Context, productID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j := indexOf(e.saved, productID)
	if j < 0 {
		return nil
	}

	prev := e.capture()
	e.saved = slices.Delete(e.saved, j, j+1)

	if err := e.commit(ctx, prev, KeySaved); err != nil {
		return err
	}

	e.logger.Info("saved item removed", "session_id", e.sessionID, "product_id", productID)
	return nil
}

// ApplyDiscount matches code case-insensitively. An unrecognized code clears whatever was applied
// and reports false; the error is only for persistence failures.
func (e *Engine) ApplyDiscount(ctx context.Context, code string) (bool, error) {
	canonical := strings.ToUpper(strings.TrimSpace(code))
	_, recognized := discountRates[canonical]
	if !recognized {
		canonical = ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.discountCode != canonical {
		prev := e.capture()
		e.discountCode = canonical
		if err := e.commit(ctx, prev, KeyDiscount); err != nil {
			return false, err
		}
	}

	e.logger.Info("discount code applied", "session_id", e.sessionID, "code", code, "recognized", recognized)
	return recognized, nil
}

// Clear empties the active cart, the saved items and the discount in one step.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.capture()
	e.items = []domain.LineItem{}
	e.saved = []domain.LineItem{}
	e.discountCode = ""

	if err := e.commit(ctx, prev, KeyItems, KeySaved, KeyDiscount); err != nil {
		return err
	}

	e.logger.Info("cart cleared", "session_id", e.sessionID)
	return nil
}

// ClearOrdered is the post-checkout reset. It resets the saved items and the discount as Clear
// does, but takes only the ordered quantities out of the active cart. Anything added after the
// order was captured stays in the cart.
func (e *Engine) ClearOrdered(ctx context.Context, ordered []domain.LineItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.capture()
	for _, line := range ordered {
		idx := indexOf(e.items, line.ID)
		if idx < 0 {
			continue
		}
		if e.items[idx].Quantity -= line.Quantity; e.items[idx].Quantity <= 0 {
			e.items = slices.Delete(e.items, idx, idx+1)
		}
	}
	e.saved = []domain.LineItem{}
	e.discountCode = ""

	if err := e.commit(ctx, prev, KeyItems, KeySaved, KeyDiscount); err != nil {
		return err
	}

	e.logger.Info("ordered items cleared", "session_id", e.sessionID, "remaining", len(e.items))
	return nil
}

func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals()
}

func (e *Engine) Items() []domain.LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.CloneLineItems(e.items)
}

func (e *Engine) Saved() []domain.LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.CloneLineItems(e.saved)
}

// Snapshot returns items, saved items and totals computed from the same state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		Items:  domain.CloneLineItems(e.items),
		Saved:  domain.CloneLineItems(e.saved),
		Totals: e.totals(),
	}
}

// Quantity is the active-cart quantity held for productID.
func (e *Engine) Quantity(productID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if idx := indexOf(e.items, productID); idx >= 0 {
		return e.items[idx].Quantity
	}
	return 0
}

func (e *Engine) totals() Totals {
	subtotal := decimal.Zero
	count := 0
	for _, line := range e.items {
		subtotal = subtotal.Add(line.LineTotal())
		count += line.Quantity
	}

	discount := decimal.Zero
	if rate, ok := discountRates[e.discountCode]; ok {
		discount = subtotal.Mul(rate).Round(2)
	}

	return Totals{
		Subtotal:       subtotal,
		DiscountCode:   e.discountCode,
		DiscountAmount: discount,
		Total:          subtotal.Sub(discount),
		ItemCount:      count,
	}
}

// stockFor prefers the live catalog ceiling and falls back to the snapshot taken at add time
// for products that have left the catalog.
func (e *Engine) stockFor(line domain.LineItem) int {
	if p, ok := e.catalog.Lookup(line.ID); ok {
		return p.Stock
	}
	return line.Stock
}

func (e *Engine) rejectStock(ctx context.Context, productID, name string, available, inCart, requested int) error {
	e.instruments.StockRejected(ctx, productID)
	e.logger.Info("cart mutation rejected", "session_id", e.sessionID, "product_id", productID,
		"available", available, "in_cart", inCart, "requested", requested)
	return &StockError{
		ProductID: productID,
		Name:      name,
		Available: available,
		InCart:    inCart,
		Requested: requested,
	}
}

func (e *Engine) capture() state {
	return state{
		items:        domain.CloneLineItems(e.items),
		saved:        domain.CloneLineItems(e.saved),
		discountCode: e.discountCode,
	}
}

func (e *Engine) value(name string) any {
	switch name {
	case KeyItems:
		return e.items
	case KeySaved:
		return e.saved
	default:
		return e.discountCode
	}
}

// commit writes the named keys. On failure memory goes back to prev and keys already written are
// rewritten from prev on a best-effort basis.
func (e *Engine) commit(ctx context.Context, prev state, names ...string) error {
	for i, name := range names {
		err := storage.Save(ctx, e.store, storage.SessionKey(e.sessionID, name), e.value(name))
		if err == nil {
			continue
		}

		e.items, e.saved, e.discountCode = prev.items, prev.saved, prev.discountCode
		for _, written := range names[:i] {
			if rerr := storage.Save(ctx, e.store, storage.SessionKey(e.sessionID, written), e.value(written)); rerr != nil {
				e.logger.Error("failed to restore cart state", "error", rerr, "session_id", e.sessionID, "key", written)
			}
		}

		e.logger.Error("failed to persist cart", "error", err, "session_id", e.sessionID)
		return fmt.Errorf("persist cart: %w", err)
	}
	return nil
}

func indexOf(items []domain.LineItem, productID string) int {
	return slices.IndexFunc(items, func(l domain.LineItem) bool { return l.ID == productID })
}
