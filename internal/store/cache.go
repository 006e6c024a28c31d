package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

// RedisClient is the subset of *redis.Client the cache needs
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// CachedStore puts a Redis read-through cache for Get in front of another
// TenantStore. Every write drops the cached entry, including failed saves,
// so a conflicting writer always reloads from the backing store.
type CachedStore struct {
	TenantStore
	redis RedisClient
	ttl   time.Duration
}

func NewCachedStore(inner TenantStore, rdb RedisClient, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedStore{TenantStore: inner, redis: rdb, ttl: ttl}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("tenant:%s", id.String())
}

func (s *CachedStore) Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	key := cacheKey(id)
	if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
		tenant := &model.Tenant{}
		if err := json.Unmarshal([]byte(cached), tenant); err == nil {
			return tenant, nil
		}
	}

	// Cache miss, query the backing store
	tenant, err := s.TenantStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(tenant); err == nil {
		if err := s.redis.SetEx(ctx, key, data, s.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("tenant_id", id.String()).Msg("Failed to cache tenant")
		}
	}
	return tenant, nil
}

func (s *CachedStore) Create(ctx context.Context, tenant *model.Tenant) error {
	if err := s.TenantStore.Create(ctx, tenant); err != nil {
		return err
	}
	s.invalidate(ctx, tenant.ID)
	return nil
}

func (s *CachedStore) Save(ctx context.Context, tenant *model.Tenant) error {
	err := s.TenantStore.Save(ctx, tenant)
	s.invalidate(ctx, tenant.ID)
	return err
}

func (s *CachedStore) Close() error {
	err := s.TenantStore.Close()
	if cerr := s.redis.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *CachedStore) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.redis.Del(ctx, cacheKey(id)).Err(); err != nil {
		log.Warn().Err(err).Str("tenant_id", id.String()).Msg("Failed to invalidate tenant cache")
	}
}
