package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Sessions resolves the cart engine bound to the session of a request.
type Sessions interface {
	CartFor(r *http.Request) (*Engine, error)
}

type Handler struct {
	sessions Sessions
	logger   *slog.Logger
}

func NewHandler(sessions Sessions, logger *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger,
	}
}

// Register mounts the cart routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", h.HandleGet)
	mux.HandleFunc("DELETE /cart", h.HandleClear)
	mux.HandleFunc("POST /cart/items", h.HandleAdd)
	mux.HandleFunc("PATCH /cart/items/{productId}", h.HandleUpdateQuantity)
	mux.HandleFunc("DELETE /cart/items/{productId}", h.HandleRemove)
	mux.HandleFunc("POST /cart/items/{productId}/save", h.HandleSaveForLater)
	mux.HandleFunc("POST /cart/saved/{productId}/move", h.HandleMoveToCart)
	mux.HandleFunc("DELETE /cart/saved/{productId}", h.HandleRemoveFromSaved)
	mux.HandleFunc("POST /cart/discount", h.HandleApplyDiscount)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type discountRequest struct {
	Code string `json:"code"`
}

type discountResponse struct {
	Applied bool     `json:"applied"`
	Cart    Snapshot `json:"cart"`
}

type stockErrorResponse struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	InCart    int    `json:"in_cart"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, engine.Snapshot())
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	if err := engine.Add(r.Context(), req.ProductID, req.Quantity); err != nil {
		h.writeMutationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, engine.Snapshot())
}

func (h *Handler) HandleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mutate(w, r, func(e *Engine, productID string) error {
		return e.UpdateQuantity(r.Context(), productID, req.Quantity)
	})
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(e *Engine, productID string) error {
		return e.Remove(r.Context(), productID)
	})
}

func (h *Handler) HandleSaveForLater(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(e *Engine, productID string) error {
		return e.SaveForLater(r.Context(), productID)
	})
}

func (h *Handler) HandleMoveToCart(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(e *Engine, productID string) error {
		return e.MoveToCart(r.Context(), productID)
	})
}

func (h *Handler) HandleRemoveFromSaved(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(e *Engine, productID string) error {
		return e.RemoveFromSaved(r.Context(), productID)
	})
}

func (h *Handler) HandleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	applied, err := engine.ApplyDiscount(r.Context(), req.Code)
	if err != nil {
		h.writeMutationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, discountResponse{Applied: applied, Cart: engine.Snapshot()})
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	if err := engine.Clear(r.Context()); err != nil {
		h.writeMutationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, engine.Snapshot())
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(e *Engine, productID string) error) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	if err := fn(engine, productID); err != nil {
		h.writeMutationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, engine.Snapshot())
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	engine, err := h.sessions.CartFor(r)
	if err != nil {
		h.logger.Error("failed to resolve cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return engine, true
}

func (h *Handler) writeMutationError(w http.ResponseWriter, err error) {
	var stockErr *StockError
	switch {
	case errors.As(err, &stockErr):
		h.writeJSON(w, http.StatusConflict, stockErrorResponse{
			Error:     stockErr.Error(),
			ProductID: stockErr.ProductID,
			Available: stockErr.Available,
			InCart:    stockErr.InCart,
		})
	case errors.Is(err, ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrItemNotInCart):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("cart mutation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
