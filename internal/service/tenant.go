package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/platform"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

// ErrInvalidArgument wraps every request validation failure
var ErrInvalidArgument = errors.New("invalid argument")

const (
	minNameLength = 2
	maxNameLength = 100
	maxSlugLength = 63
)

// CreateTenantRequest is the input to CreateTenant
type CreateTenantRequest struct {
	Name string `json:"name"`
	// Slug is derived from Name when empty
	Slug               string `json:"slug,omitempty"`
	CustomPluginSource string `json:"custom_plugin_source,omitempty"`
}

// ServiceHealth is the platform's view of one tenant resource
type ServiceHealth struct {
	Service    string `json:"service"`
	ResourceID string `json:"resource_id"`
	State      string `json:"state,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TenantHealth aggregates the status of every tenant resource
type TenantHealth struct {
	TenantID uuid.UUID       `json:"tenant_id"`
	Status   model.Status    `json:"status"`
	Healthy  bool            `json:"healthy"`
	Services []ServiceHealth `json:"services"`
}

// TenantService is the request layer over the record store and orchestrator
type TenantService struct {
	store        store.TenantStore
	orchestrator *Orchestrator
	platform     PlatformClient
}

func NewTenantService(st store.TenantStore, orchestrator *Orchestrator, pc PlatformClient) *TenantService {
	return &TenantService{
		store:        st,
		orchestrator: orchestrator,
		platform:     pc,
	}
}

// CreateTenant validates the request, stores the tenant in PROVISIONING and
// queues its first provisioning run
func (s *TenantService) CreateTenant(ctx context.Context, req CreateTenantRequest) (*model.Tenant, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return nil, err
	}
	if err := validatePluginSource(req.CustomPluginSource); err != nil {
		return nil, err
	}

	if _, err := s.store.GetByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: name %q is already taken", store.ErrDuplicate, name)
	} else if !errors.Is(err, store.ErrTenantNotFound) {
		log.Error().Err(err).Msg("Failed to check name uniqueness")
		return nil, err
	}

	slug, err := s.resolveSlug(ctx, name, strings.TrimSpace(req.Slug))
	if err != nil {
		return nil, err
	}

	tenant := &model.Tenant{
		Slug:               slug,
		Name:               name,
		Status:             model.StatusProvisioning,
		ResourceIDs:        map[string]string{},
		CustomPluginSource: strings.TrimSpace(req.CustomPluginSource),
	}
	if err := s.store.Create(ctx, tenant); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			log.Error().Err(err).Msg("Failed to create tenant")
		}
		return nil, err
	}
	log.Info().Str("tenant_id", tenant.ID.String()).Str("slug", tenant.Slug).Msg("Tenant created")

	// The reconciler picks up tenants whose first run never got queued
	if err := s.orchestrator.EnqueueProvision(ctx, tenant.ID); err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID.String()).Msg("Failed to queue provisioning")
	}
	return tenant, nil
}

// GetTenant retrieves a tenant by ID
func (s *TenantService) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return s.store.Get(ctx, id)
}

// GetTenantBySlug retrieves a tenant by slug
func (s *TenantService) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return s.store.GetBySlug(ctx, slug)
}

// ListTenants returns every tenant, optionally restricted to some statuses
func (s *TenantService) ListTenants(ctx context.Context, statuses ...model.Status) ([]*model.Tenant, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, st)
		}
	}
	return s.store.List(ctx, statuses...)
}

// RenameTenant changes the display name. The slug never changes.
func (s *TenantService) RenameTenant(ctx context.Context, id uuid.UUID, name string) (*model.Tenant, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if other, err := s.store.GetByName(ctx, name); err == nil && other.ID != id {
		return nil, fmt.Errorf("%w: name %q is already taken", store.ErrDuplicate, name)
	} else if err != nil && !errors.Is(err, store.ErrTenantNotFound) {
		return nil, err
	}

	return updateTenant(ctx, s.store, id, func(t *model.Tenant) error {
		if t.Name == name {
			return errUnchanged
		}
		t.Name = name
		return nil
	})
}

// DeleteTenant starts teardown of the tenant's resources. The record is kept
// and ends up SUSPENDED.
func (s *TenantService) DeleteTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	if err := s.orchestrator.EnqueueCleanup(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// RetryProvisioning re-runs provisioning for a tenant in ERROR
func (s *TenantService) RetryProvisioning(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != model.StatusError {
		return nil, fmt.Errorf("%w: only tenants in %s can be retried, tenant is %s", ErrInvalidTransition, model.StatusError, t.Status)
	}
	if err := s.orchestrator.EnqueueProvision(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// TenantHealth asks the platform for the state of every tenant resource.
// Failures are reported per service and never change the lifecycle state.
func (s *TenantService) TenantHealth(ctx context.Context, id uuid.UUID) (*TenantHealth, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	health := &TenantHealth{
		TenantID: t.ID,
		Status:   t.Status,
		Healthy:  t.Status == model.StatusActive && len(t.ResourceIDs) > 0,
		Services: make([]ServiceHealth, 0, len(t.ResourceIDs)),
	}
	for _, name := range sortedKeys(t.ResourceIDs) {
		sh := ServiceHealth{Service: name, ResourceID: t.ResourceIDs[name]}
		st, err := s.platform.Status(ctx, sh.ResourceID)
		switch {
		case err == nil:
			sh.State = st.State
			sh.URL = st.URL
		case platform.KindOf(err) == platform.KindNotFound:
			sh.State = "missing"
			sh.Error = err.Error()
			health.Healthy = false
		default:
			sh.Error = err.Error()
			health.Healthy = false
		}
		health.Services = append(health.Services, sh)
	}
	return health, nil
}

// ProvisioningHistory returns the tenant's provisioning log, newest first
func (s *TenantService) ProvisioningHistory(ctx context.Context, id uuid.UUID) ([]*model.ProvisioningLog, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ProvisioningLogs(ctx, id)
}

// resolveSlug validates an explicit slug or derives a free one from name,
// appending -1, -2, ... until it is unused
func (s *TenantService) resolveSlug(ctx context.Context, name, explicit string) (string, error) {
	if explicit != "" {
		if !isValidSlug(explicit) {
			return "", fmt.Errorf("%w: invalid slug format", ErrInvalidArgument)
		}
		taken, err := s.slugTaken(ctx, explicit)
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("%w: slug %q is already taken", store.ErrDuplicate, explicit)
		}
		return explicit, nil
	}

	base := slugify(name)
	if base == "" {
		return "", fmt.Errorf("%w: name has no characters usable in a slug", ErrInvalidArgument)
	}
	candidate := base
	for n := 1; ; n++ {
		taken, err := s.slugTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		suffix := "-" + strconv.Itoa(n)
		trimmed := base
		if len(trimmed)+len(suffix) > maxSlugLength {
			trimmed = strings.TrimRight(trimmed[:maxSlugLength-len(suffix)], "-")
		}
		candidate = trimmed + suffix
	}
}

func (s *TenantService) slugTaken(ctx context.Context, slug string) (bool, error) {
	_, err := s.store.GetBySlug(ctx, slug)
	if errors.Is(err, store.ErrTenantNotFound) {
		return false, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to check slug uniqueness")
		return false, err
	}
	return true, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	n := utf8.RuneCountInString(name)
	if n < minNameLength {
		return "", fmt.Errorf("%w: name must be at least %d characters", ErrInvalidArgument, minNameLength)
	}
	if n > maxNameLength {
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrInvalidArgument, maxNameLength)
	}
	return name, nil
}

// validatePluginSource accepts an absolute URL, optionally with a #ref
func validatePluginSource(source string) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil
	}
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: custom plugin source must be an absolute URL", ErrInvalidArgument)
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git":
		return nil
	}
	return fmt.Errorf("%w: unsupported plugin source scheme %q", ErrInvalidArgument, u.Scheme)
}

// slugify lowercases name and collapses every run of characters outside
// [a-z0-9] into a single hyphen
func slugify(name string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

// isValidSlug checks the slug against ^[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?$
func isValidSlug(slug string) bool {
	if len(slug) < 1 || len(slug) > maxSlugLength {
		return false
	}
	for i, r := range slug {
		if i == 0 || i == len(slug)-1 {
			if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
				return false
			}
		} else {
			if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
				return false
			}
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
