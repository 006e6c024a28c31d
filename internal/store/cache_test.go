package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	gets    int
	deletes int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore(nil)
	rdb := newFakeRedis()
	s := NewCachedStore(inner, rdb, time.Minute)

	tenant := &model.Tenant{Slug: "acme", Name: "Acme", Status: model.StatusProvisioning}
	require.NoError(t, s.Create(ctx, tenant))
	assert.False(t, rdb.has(cacheKey(tenant.ID)))

	got, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Slug)
	assert.True(t, rdb.has(cacheKey(tenant.ID)))

	// A change behind the cache's back is not visible until invalidation
	direct, err := inner.Get(ctx, tenant.ID)
	require.NoError(t, err)
	direct.Name = "Renamed"
	require.NoError(t, inner.Save(ctx, direct))

	cached, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", cached.Name)
}

func TestCachedStore_SaveInvalidates(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	s := NewCachedStore(NewMemoryStore(nil), rdb, time.Minute)

	tenant := &model.Tenant{Slug: "acme", Name: "Acme", Status: model.StatusProvisioning}
	require.NoError(t, s.Create(ctx, tenant))
	loaded, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)

	loaded.Status = model.StatusActive
	require.NoError(t, s.Save(ctx, loaded))
	assert.False(t, rdb.has(cacheKey(tenant.ID)))

	got, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestCachedStore_ConflictDropsStaleEntry(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore(nil)
	rdb := newFakeRedis()
	s := NewCachedStore(inner, rdb, time.Minute)

	tenant := &model.Tenant{Slug: "acme", Name: "Acme", Status: model.StatusProvisioning}
	require.NoError(t, s.Create(ctx, tenant))
	stale, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)

	direct, err := inner.Get(ctx, tenant.ID)
	require.NoError(t, err)
	direct.Status = model.StatusDeleting
	require.NoError(t, inner.Save(ctx, direct))

	stale.Status = model.StatusActive
	assert.ErrorIs(t, s.Save(ctx, stale), ErrConflict)
	assert.False(t, rdb.has(cacheKey(tenant.ID)))

	fresh, err := s.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleting, fresh.Status)
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	s := NewCachedStore(NewMemoryStore(nil), rdb, 0)

	_, err := s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTenantNotFound)
	assert.Empty(t, rdb.data)
}
