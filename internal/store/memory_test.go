package store

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	tenant := &model.Tenant{Slug: "acme", Name: "Acme", Status: model.StatusProvisioning}
	require.NoError(t, s.Create(ctx, tenant))
	assert.NotEqual(t, uuid.Nil, tenant.ID)
	assert.Equal(t, int64(1), tenant.Version)

	got, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant, got)

	got.ResourceIDs["web"] = "srv-1"
	again, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, again.ResourceIDs, "returned records must not alias the store")

	byName, err := s.GetByName(ctx, "aCmE")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, byName.ID)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTenantNotFound)
	_, err = s.GetBySlug(ctx, "other")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStore_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Create(ctx, &model.Tenant{Slug: "acme", Name: "Acme"}))

	assert.ErrorIs(t, s.Create(ctx, &model.Tenant{Slug: "acme", Name: "Other"}), ErrDuplicate)
	assert.ErrorIs(t, s.Create(ctx, &model.Tenant{Slug: "acme-1", Name: "ACME"}), ErrDuplicate)

	other := &model.Tenant{Slug: "globex", Name: "Globex"}
	require.NoError(t, s.Create(ctx, other))
	other.Name = "acme"
	assert.ErrorIs(t, s.Save(ctx, other), ErrDuplicate)
}

func TestMemoryStore_SaveCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	s := NewMemoryStore(mock)

	tenant := &model.Tenant{Slug: "acme", Name: "Acme", Status: model.StatusProvisioning}
	require.NoError(t, s.Create(ctx, tenant))
	stale, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)

	mock.Add(time.Minute)
	tenant.Status = model.StatusActive
	require.NoError(t, s.Save(ctx, tenant))
	assert.Equal(t, int64(2), tenant.Version)
	assert.Equal(t, mock.Now(), tenant.UpdatedAt)

	stale.Status = model.StatusError
	assert.ErrorIs(t, s.Save(ctx, stale), ErrConflict)

	got, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)

	missing := &model.Tenant{ID: uuid.New()}
	assert.ErrorIs(t, s.Save(ctx, missing), ErrTenantNotFound)
}

func TestMemoryStore_ListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	s := NewMemoryStore(mock)

	for _, slug := range []string{"first", "second", "third"} {
		require.NoError(t, s.Create(ctx, &model.Tenant{Slug: slug, Name: slug, Status: model.StatusProvisioning}))
		mock.Add(time.Second)
	}
	second, err := s.GetBySlug(ctx, "second")
	require.NoError(t, err)
	second.Status = model.StatusDeleting
	require.NoError(t, s.Save(ctx, second))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Slug)
	assert.Equal(t, "third", all[2].Slug)

	deleting, err := s.List(ctx, model.StatusDeleting)
	require.NoError(t, err)
	require.Len(t, deleting, 1)
	assert.Equal(t, "second", deleting[0].Slug)
}

func TestMemoryStore_ProvisioningLogsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	id := uuid.New()

	require.NoError(t, s.CreateProvisioningLog(ctx, &model.ProvisioningLog{TenantID: id, Step: "deploy", Status: "retry"}))
	require.NoError(t, s.CreateProvisioningLog(ctx, &model.ProvisioningLog{TenantID: uuid.New(), Step: "deploy", Status: "failed"}))
	require.NoError(t, s.CreateProvisioningLog(ctx, &model.ProvisioningLog{TenantID: id, Step: "deploy", Status: "succeeded"}))

	logs, err := s.ProvisioningLogs(ctx, id)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "succeeded", logs[0].Status)
	assert.Equal(t, "retry", logs[1].Status)
}
