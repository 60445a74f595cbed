package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"pdl_sync/internal/domain"
)

const agenciesCacheKey = "agencies:all"

func propertiesCacheKey(agencyID int64) string { return fmt.Sprintf("properties:%d", agencyID) }

// NopCache satisfies domain.Cache when no Redis is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (NopCache) Set(context.Context, string, any, int) error    { return nil }
func (NopCache) Del(context.Context, string) error              { return nil }

// GuardedCache counts invalidations. A reader samples Epoch before loading
// from the store and fills the cache only if no Del happened meanwhile, so a
// load that raced a sync cannot pin stale data for a whole TTL. The reconciler
// and the query service must share one instance.
type GuardedCache struct {
	domain.Cache
	epoch atomic.Uint64
}

func NewGuardedCache(c domain.Cache) *GuardedCache { return &GuardedCache{Cache: c} }

func (g *GuardedCache) Del(ctx context.Context, key string) error {
	g.epoch.Add(1)
	return g.Cache.Del(ctx, key)
}

func (g *GuardedCache) Epoch() uint64 { return g.epoch.Load() }
