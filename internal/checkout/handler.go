package checkout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/session"
)

type Sessions interface {
	From(r *http.Request) (*session.Session, error)
}

type Handler struct {
	service  *Service
	sessions Sessions
	logger   *slog.Logger
}

func NewHandler(service *Service, sessions Sessions, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		sessions: sessions,
		logger:   logger,
	}
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.sessions.From(r)
	if err != nil {
		h.logger.Error("failed to resolve session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	order, err := h.service.Checkout(r.Context(), sess, req)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

type stockErrorResponse struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var stockErr *cart.StockError
	switch {
	case errors.As(err, &stockErr):
		h.writeJSON(w, http.StatusConflict, stockErrorResponse{
			Error:     stockErr.Error(),
			ProductID: stockErr.ProductID,
			Available: stockErr.Available,
		})
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmptyCart), errors.Is(err, orders.ErrEmptyOrder):
		h.writeError(w, http.StatusUnprocessableEntity, "cart is empty")
	case errors.Is(err, cart.ErrProductNotFound):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("checkout failed", "error", err)
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
