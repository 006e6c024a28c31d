package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/service"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

// UpdateTenantRequest is the PATCH /tenants/{id} body
type UpdateTenantRequest struct {
	Name string `json:"name"`
}

// StatusResponse is the lightweight lifecycle view of a tenant
type StatusResponse struct {
	ID        uuid.UUID    `json:"id"`
	Slug      string       `json:"slug"`
	Status    model.Status `json:"status"`
	LastError string       `json:"last_error,omitempty"`
}

// CreateTenant handles POST /tenants
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenant, err := h.tenants.CreateTenant(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tenant)
}

// ListTenants handles GET /tenants?status=ACTIVE,ERROR
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	var statuses []model.Status
	for _, v := range r.URL.Query()["status"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, model.Status(strings.ToUpper(s)))
			}
		}
	}

	tenants, err := h.tenants.ListTenants(r.Context(), statuses...)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []*model.Tenant{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

// GetTenant handles GET /tenants/{id}. The id may also be a slug.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

// UpdateTenant handles PATCH /tenants/{id}
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req UpdateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenant, err := h.tenants.RenameTenant(r.Context(), id, req.Name)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

// DeleteTenant handles DELETE /tenants/{id}. Teardown is asynchronous.
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	tenant, err := h.tenants.DeleteTenant(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, statusOf(tenant))
}

// RetryProvisioning handles POST /tenants/{id}/retry
func (h *Handler) RetryProvisioning(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	tenant, err := h.tenants.RetryProvisioning(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, statusOf(tenant))
}

// TenantStatus handles GET /tenants/{id}/status
func (h *Handler) TenantStatus(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, statusOf(tenant))
}

// TenantHealth handles GET /tenants/{id}/health
func (h *Handler) TenantHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	health, err := h.tenants.TenantHealth(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, health)
}

// ProvisioningLogs handles GET /tenants/{id}/logs
func (h *Handler) ProvisioningLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	logs, err := h.tenants.ProvisioningHistory(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*model.ProvisioningLog{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// lookup resolves the {tenantID} path parameter as a UUID or, failing that,
// a slug
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*model.Tenant, bool) {
	param := chi.URLParam(r, "tenantID")
	var (
		tenant *model.Tenant
		err    error
	)
	if id, perr := uuid.Parse(param); perr == nil {
		tenant, err = h.tenants.GetTenant(r.Context(), id)
	} else {
		tenant, err = h.tenants.GetTenantBySlug(r.Context(), param)
	}
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}
	return tenant, true
}

func tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return uuid.Nil, false
	}
	return id, true
}

func statusOf(t *model.Tenant) StatusResponse {
	return StatusResponse{ID: t.ID, Slug: t.Slug, Status: t.Status, LastError: t.LastError}
}

// respondServiceError maps service and store errors onto HTTP status codes
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrTenantNotFound):
		respondError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, service.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
