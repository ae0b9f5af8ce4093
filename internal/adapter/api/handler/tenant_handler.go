package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/usecase"
)

// TenantService manages tenant accounts.
type TenantService interface {
	List(ctx context.Context) ([]*domain.Tenant, error)
	Get(ctx context.Context, key string) (*domain.Tenant, error)
	Upsert(ctx context.Context, key string, in usecase.TenantInput) (*domain.Tenant, error)
	Deactivate(ctx context.Context, key string) error
	Activate(ctx context.Context, key string) error
	RotateCredential(ctx context.Context, key, credential string) error
}

// tenantResponse never carries the password hash or the credential.
type tenantResponse struct {
	Key           string      `json:"key"`
	Name          string      `json:"name"`
	DeviceToken   string      `json:"device_token"`
	Role          domain.Role `json:"role"`
	Active        bool        `json:"active"`
	HasCredential bool        `json:"has_credential"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func newTenantResponse(t *domain.Tenant) tenantResponse {
	return tenantResponse{
		Key:           t.Key,
		Name:          t.Name,
		DeviceToken:   t.DeviceToken,
		Role:          t.Role,
		Active:        t.Active,
		HasCredential: t.HasCredential(),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

type credentialRequest struct {
	Credential string `json:"credential"`
}

// TenantHandler serves /api/admin/tenants.
type TenantHandler struct {
	svc    TenantService
	logger *slog.Logger
}

func NewTenantHandler(svc TenantService, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{svc: svc, logger: logger}
}

// List handles GET /api/admin/tenants.
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.List(r.Context())
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}
	out := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, newTenantResponse(t))
	}
	respondWithJSON(w, h.logger, http.StatusOK, out)
}

// Get handles GET /api/admin/tenants/{key}.
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, newTenantResponse(t))
}

// Upsert handles PUT /api/admin/tenants/{key}.
func (h *TenantHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var in usecase.TenantInput
	if !decodeJSON(w, r, h.logger, &in) {
		return
	}
	t, err := h.svc.Upsert(r.Context(), chi.URLParam(r, "key"), in)
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, newTenantResponse(t))
}

// Deactivate handles POST /api/admin/tenants/{key}/deactivate.
func (h *TenantHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.respondNoContent(w, r, h.svc.Deactivate(r.Context(), chi.URLParam(r, "key")))
}

// Activate handles POST /api/admin/tenants/{key}/activate.
func (h *TenantHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.respondNoContent(w, r, h.svc.Activate(r.Context(), chi.URLParam(r, "key")))
}

// RotateCredential handles PUT /api/admin/tenants/{key}/credential.
func (h *TenantHandler) RotateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	h.respondNoContent(w, r, h.svc.RotateCredential(r.Context(), chi.URLParam(r, "key"), req.Credential))
}

func (h *TenantHandler) respondNoContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
