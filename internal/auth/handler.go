package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Sessions binds users to the session of a request.
type Sessions interface {
	SignIn(r *http.Request, user User) error
	SignOut(r *http.Request) error
	CurrentUser(r *http.Request) (*User, error)
}

type Handler struct {
	directory *Directory
	sessions  Sessions
	logger    *slog.Logger
}

func NewHandler(directory *Directory, sessions Sessions, logger *slog.Logger) *Handler {
	return &Handler{
		directory: directory,
		sessions:  sessions,
		logger:    logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/register", h.HandleRegister)
	mux.HandleFunc("POST /auth/logout", h.HandleLogout)
	mux.HandleFunc("GET /auth/me", h.HandleMe)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type meResponse struct {
	User *User `json:"user"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, http.StatusOK, h.directory.Login)
}

// HandleRegister creates the account and signs it in straight away.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, http.StatusCreated, h.directory.Register)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, status int, fn func(ctx context.Context, email, password string) (User, error)) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := fn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	if err := h.sessions.SignIn(r, user); err != nil {
		h.logger.Error("failed to bind user to session", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, status, meResponse{User: &user})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(r); err != nil {
		h.logger.Error("failed to sign out", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.sessions.CurrentUser(r)
	if err != nil {
		h.logger.Error("failed to load current user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, meResponse{User: user})
}

func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	switch KindOf(err) {
	case KindInvalidCredentials:
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case KindEmailExists:
		h.writeError(w, http.StatusConflict, err.Error())
	case KindInvalidInput:
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		h.logger.Error("authentication failed", "error", err)
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
