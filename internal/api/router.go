package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/service"
)

// Handler serves the tenant HTTP API
type Handler struct {
	tenants *service.TenantService
}

func NewHandler(tenants *service.TenantService) *Handler {
	return &Handler{tenants: tenants}
}

// NewRouter mounts the tenant routes under /tenants
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/tenants", func(r chi.Router) {
		r.Post("/", h.CreateTenant)
		r.Get("/", h.ListTenants)

		r.Route("/{tenantID}", func(r chi.Router) {
			r.Get("/", h.GetTenant)
			r.Patch("/", h.UpdateTenant)
			r.Delete("/", h.DeleteTenant)
			r.Post("/retry", h.RetryProvisioning)
			r.Get("/status", h.TenantStatus)
			r.Get("/health", h.TenantHealth)
			r.Get("/logs", h.ProvisioningLogs)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
