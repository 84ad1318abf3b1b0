package rbac

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/assessly/pkg/observability"
)

// CacheConfig configures the grant list cache
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultCacheConfig returns the default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 10000,
		TTL:        5 * time.Minute,
	}
}

// CachedLedger caches per-user grant lists in front of another ledger.
// Writes through this ledger invalidate the affected user; writes made
// elsewhere become visible once the entry's TTL lapses.
type CachedLedger struct {
	next    GrantLedger
	cache   *lru.LRU[string, []*PermissionGrant]
	metrics *observability.Metrics
}

// NewCachedLedger wraps next with an LRU cache
func NewCachedLedger(next GrantLedger, cfg CacheConfig, metrics *observability.Metrics) *CachedLedger {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}

	return &CachedLedger{
		next:    next,
		cache:   lru.NewLRU[string, []*PermissionGrant](cfg.MaxEntries, nil, cfg.TTL),
		metrics: metrics,
	}
}

// Append writes through and invalidates the user's cached list
func (c *CachedLedger) Append(ctx context.Context, grant *PermissionGrant) error {
	err := c.next.Append(ctx, grant)
	if grant != nil {
		c.cache.Remove(grant.UserID)
	}
	return err
}

// Remove writes through and invalidates the user's cached list
func (c *CachedLedger) Remove(ctx context.Context, userID, permissionID string) (int, error) {
	removed, err := c.next.Remove(ctx, userID, permissionID)
	c.cache.Remove(userID)
	return removed, err
}

// ListForUser serves from cache when possible
func (c *CachedLedger) ListForUser(ctx context.Context, userID string) ([]*PermissionGrant, error) {
	if cached, ok := c.cache.Get(userID); ok {
		c.metrics.RecordCacheHit()
		return cloneGrants(cached), nil
	}
	c.metrics.RecordCacheMiss()

	grants, err := c.next.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(userID, cloneGrants(grants))
	return grants, nil
}

// RemoveExpired sweeps the underlying ledger and drops the whole cache
func (c *CachedLedger) RemoveExpired(ctx context.Context, now time.Time) (int, error) {
	removed, err := c.next.RemoveExpired(ctx, now)
	c.cache.Purge()
	return removed, err
}

// Len returns the number of cached users
func (c *CachedLedger) Len() int {
	return c.cache.Len()
}

func cloneGrants(grants []*PermissionGrant) []*PermissionGrant {
	result := make([]*PermissionGrant, 0, len(grants))
	for _, g := range grants {
		result = append(result, cloneGrant(g))
	}
	return result
}
