package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

// MemoryStore is an in-process TenantStore. Records are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	clock   clock.Clock
	tenants map[uuid.UUID]*model.Tenant
	logs    []*model.ProvisioningLog
}

// NewMemoryStore creates an empty store. A nil clock uses wall time.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:   clk,
		tenants: make(map[uuid.UUID]*model.Tenant),
	}
}

func (s *MemoryStore) Create(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if t.Slug == tenant.Slug || strings.EqualFold(t.Name, tenant.Name) {
			return ErrDuplicate
		}
	}
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if _, exists := s.tenants[tenant.ID]; exists {
		return ErrDuplicate
	}
	if tenant.ResourceIDs == nil {
		tenant.ResourceIDs = map[string]string{}
	}
	tenant.Version = 1
	tenant.CreatedAt = s.clock.Now()
	tenant.UpdatedAt = tenant.CreatedAt

	s.tenants[tenant.ID] = cloneTenant(tenant)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return cloneTenant(t), nil
}

func (s *MemoryStore) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return s.find(func(t *model.Tenant) bool { return t.Slug == slug })
}

func (s *MemoryStore) GetByName(ctx context.Context, name string) (*model.Tenant, error) {
	return s.find(func(t *model.Tenant) bool { return strings.EqualFold(t.Name, name) })
}

func (s *MemoryStore) find(match func(*model.Tenant) bool) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if match(t) {
			return cloneTenant(t), nil
		}
	}
	return nil, ErrTenantNotFound
}

func (s *MemoryStore) Save(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tenants[tenant.ID]
	if !ok {
		return ErrTenantNotFound
	}
	if current.Version != tenant.Version {
		return ErrConflict
	}
	if tenant.Name != current.Name {
		for id, t := range s.tenants {
			if id != tenant.ID && strings.EqualFold(t.Name, tenant.Name) {
				return ErrDuplicate
			}
		}
	}

	tenant.Version++
	tenant.UpdatedAt = s.clock.Now()
	if tenant.ResourceIDs == nil {
		tenant.ResourceIDs = map[string]string{}
	}
	s.tenants[tenant.ID] = cloneTenant(tenant)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, statuses ...model.Status) ([]*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := statusSet(statuses)
	out := make([]*model.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		if filter != nil && !filter[t.Status] {
			continue
		}
		out = append(out, cloneTenant(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Slug < out[j].Slug
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CreateProvisioningLog(ctx context.Context, entry *model.ProvisioningLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	c := *entry
	s.logs = append(s.logs, &c)
	return nil
}

func (s *MemoryStore) ProvisioningLogs(ctx context.Context, tenantID uuid.UUID) ([]*model.ProvisioningLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.ProvisioningLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].TenantID == tenantID {
			c := *s.logs[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
