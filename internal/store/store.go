package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

var (
	// ErrTenantNotFound is returned when no tenant matches the lookup
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrConflict is returned by Save when the stored version moved on
	ErrConflict = errors.New("tenant was modified concurrently")
	// ErrDuplicate is returned when a slug or name is already taken
	ErrDuplicate = errors.New("tenant already exists")
)

// TenantStore persists tenant records. Save is a compare-and-swap on
// Tenant.Version: it succeeds only when the stored version equals the
// caller's, and bumps it on success.
type TenantStore interface {
	Create(ctx context.Context, tenant *model.Tenant) error
	Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	// GetByName matches the display name case-insensitively
	GetByName(ctx context.Context, name string) (*model.Tenant, error)
	Save(ctx context.Context, tenant *model.Tenant) error
	// List returns tenants ordered by creation time, optionally restricted
	// to the given statuses.
	List(ctx context.Context, statuses ...model.Status) ([]*model.Tenant, error)
	CreateProvisioningLog(ctx context.Context, entry *model.ProvisioningLog) error
	ProvisioningLogs(ctx context.Context, tenantID uuid.UUID) ([]*model.ProvisioningLog, error)
	Close() error
}

func cloneTenant(t *model.Tenant) *model.Tenant {
	c := *t
	if t.ResourceIDs != nil {
		c.ResourceIDs = make(map[string]string, len(t.ResourceIDs))
		for k, v := range t.ResourceIDs {
			c.ResourceIDs[k] = v
		}
	}
	return &c
}

func statusSet(statuses []model.Status) map[model.Status]bool {
	if len(statuses) == 0 {
		return nil
	}
	set := make(map[model.Status]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}
