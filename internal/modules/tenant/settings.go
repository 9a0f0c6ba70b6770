// README: Tenant dispatch settings and providers (static, store-backed with Redis cache).
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetdispatch/internal/logger"
	"fleetdispatch/internal/types"
)

// Settings are the per-tenant switches the scheduler honours.
type Settings struct {
	StopSell bool `json:"stop_sell"`
	// AutoAssignMinFare is in minor units; zero means no minimum.
	AutoAssignMinFare int64 `json:"auto_assign_min_fare"`
}

type SettingsProvider interface {
	Settings(ctx context.Context, tenantID types.ID) (Settings, error)
}

// Static serves fixed settings. Unknown tenants get the zero value.
type Static map[types.ID]Settings

func (s Static) Settings(_ context.Context, tenantID types.ID) (Settings, error) {
	return s[tenantID], nil
}

const DefaultCacheTTL = 30 * time.Second

// RedisCache caches another provider's answers in Redis. Redis failures
// fall through to the wrapped provider.
type RedisCache struct {
	next   SettingsProvider
	client *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewRedisCache(next SettingsProvider, client *redis.Client, ttl time.Duration, log logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &RedisCache{next: next, client: client, ttl: ttl, log: log}
}

func cacheKey(tenantID types.ID) string {
	return fmt.Sprintf("tenant:%s:settings", tenantID)
}

func (c *RedisCache) Settings(ctx context.Context, tenantID types.ID) (Settings, error) {
	raw, err := c.client.Get(ctx, cacheKey(tenantID)).Bytes()
	if err == nil {
		var s Settings
		if jerr := json.Unmarshal(raw, &s); jerr == nil {
			return s, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warnf("tenant settings cache read %s: %v", tenantID, err)
	}

	s, err := c.next.Settings(ctx, tenantID)
	if err != nil {
		return Settings{}, err
	}
	if b, err := json.Marshal(s); err == nil {
		if err := c.client.Set(ctx, cacheKey(tenantID), b, c.ttl).Err(); err != nil {
			c.log.Warnf("tenant settings cache write %s: %v", tenantID, err)
		}
	}
	return s, nil
}

// Invalidate drops the cached settings of a tenant.
func (c *RedisCache) Invalidate(ctx context.Context, tenantID types.ID) error {
	return c.client.Del(ctx, cacheKey(tenantID)).Err()
}

// Memo caches answers for the lifetime of the value. The scheduler builds
// one per tick.
type Memo struct {
	next  SettingsProvider
	cache map[types.ID]Settings
}

func NewMemo(next SettingsProvider) *Memo {
	return &Memo{next: next, cache: make(map[types.ID]Settings)}
}

func (m *Memo) Settings(ctx context.Context, tenantID types.ID) (Settings, error) {
	if s, ok := m.cache[tenantID]; ok {
		return s, nil
	}
	s, err := m.next.Settings(ctx, tenantID)
	if err != nil {
		return Settings{}, err
	}
	m.cache[tenantID] = s
	return s, nil
}
