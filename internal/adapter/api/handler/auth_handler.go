package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Wilsonc7/mp-notifier/internal/usecase"
)

// Authenticator exchanges tenant credentials for a session.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (*usecase.Session, error)
}

type loginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

// AuthHandler serves POST /api/login.
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewAuthHandler(auth Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	session, err := h.auth.Login(r.Context(), req.ID, req.Password)
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, session)
}
