package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// Sessions resolves the order engine and signed-in user behind a request.
type Sessions interface {
	OrdersFor(r *http.Request) (*Engine, error)
	UserIDFor(r *http.Request) (*string, error)
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

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /orders", h.HandleList)
	mux.HandleFunc("GET /orders/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /orders/{id}/status", h.HandleUpdateStatus)
	mux.HandleFunc("GET /notifications", h.HandleNotifications)
	mux.HandleFunc("POST /notifications/read", h.HandleMarkRead)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	userID, err := h.sessions.UserIDFor(r)
	if err != nil {
		h.logger.Error("failed to resolve user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	orders := engine.Orders(userID)
	h.logger.Info("orders listed", "count", len(orders), "session_id", engine.sessionID)
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	order, found := engine.GetOrderByID(id)
	if !found {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updateStatusResponse struct {
	Order   *domain.Order `json:"order"`
	Changed bool          `json:"changed"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	order, changed, err := engine.UpdateOrderStatus(r.Context(), id, status)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to update order status", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, updateStatusResponse{Order: order, Changed: changed})
}

type notificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, notificationsResponse{
		Notifications: engine.Notifications(),
		Unread:        engine.UnreadCount(),
	})
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	if err := engine.MarkNotificationsRead(r.Context()); err != nil {
		h.logger.Error("failed to mark notifications read", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, notificationsResponse{
		Notifications: engine.Notifications(),
		Unread:        engine.UnreadCount(),
	})
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	engine, err := h.sessions.OrdersFor(r)
	if err != nil {
		h.logger.Error("failed to resolve orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return engine, true
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
