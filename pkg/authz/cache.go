package authz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is the backstop TTL for cached bundles. Invalidation
// signals are the primary mechanism; the TTL only bounds the damage of a
// missed signal.
const DefaultCacheTTL = 5 * time.Minute

// DefaultCacheSize bounds the number of cached principals.
const DefaultCacheSize = 4096

type cacheEntry struct {
	bundle   *Bundle
	grantGen uint64
}

// BundleCache memoizes per-principal permission bundles. Entries are
// replaced wholesale, never mutated in place. Role invalidation evicts
// through the role→principal index, so principals not holding the role
// keep their entries. Entries are tagged with the grant generation
// current when population *started* and the tag is re-checked at publish
// time under the same lock the invalidation takes, so data fetched
// before an invalidation can never be published after it.
type BundleCache struct {
	resolver *Resolver
	depts    *DeptIndex
	entries  *lru.LRU[int64, *cacheEntry]
	group    singleflight.Group

	grantGen atomic.Uint64

	mu     sync.Mutex
	byRole map[int64]map[int64]struct{} // role id -> principal ids holding it

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBundleCache creates a cache over the given resolver. size <= 0 and
// ttl <= 0 fall back to the defaults.
func NewBundleCache(resolver *Resolver, depts *DeptIndex, size int, ttl time.Duration) *BundleCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &BundleCache{
		resolver: resolver,
		depts:    depts,
		entries:  lru.NewLRU[int64, *cacheEntry](size, nil, ttl),
		byRole:   map[int64]map[int64]struct{}{},
	}
}

// Bundle returns the cached bundle for the principal, populating on miss.
// Concurrent misses for the same principal coalesce into a single store
// round trip. Store failures and canceled contexts never populate the
// cache.
func (c *BundleCache) Bundle(ctx context.Context, principal *Principal) (*Bundle, error) {
	if e, ok := c.entries.Get(principal.ID); ok && c.fresh(e) {
		c.hits.Add(1)
		return e.bundle, nil
	}
	c.misses.Add(1)

	key := fmt.Sprintf("principal:%d", principal.ID)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have already repopulated.
		if e, ok := c.entries.Get(principal.ID); ok && c.fresh(e) {
			return e.bundle, nil
		}

		gen := c.grantGen.Load()
		bundle, err := c.resolver.BuildBundle(ctx, principal)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			// Canceled mid-flight: the result may be partial from the
			// caller's point of view, so hand it back without caching.
			return nil, ctx.Err()
		}
		bundle.GrantGen = gen
		c.store(principal, &cacheEntry{bundle: bundle, grantGen: gen})
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bundle), nil
}

// Authorize resolves one permission code for the principal through the
// cache.
func (c *BundleCache) Authorize(ctx context.Context, principal *Principal, code string) (*EffectiveGrant, error) {
	bundle, err := c.Bundle(ctx, principal)
	if err != nil {
		return nil, err
	}
	return c.resolver.Evaluate(bundle, principal, code)
}

// InvalidateRole evicts every cached principal holding the role and
// advances the grant generation so in-flight populations started before
// the signal cannot be published afterwards. Principals not holding the
// role keep their entries.
func (c *BundleCache) InvalidateRole(roleID int64) {
	c.mu.Lock()
	c.grantGen.Add(1)
	principals := c.byRole[roleID]
	delete(c.byRole, roleID)
	c.mu.Unlock()

	for id := range principals {
		c.entries.Remove(id)
		c.group.Forget(fmt.Sprintf("principal:%d", id))
	}
}

// InvalidateAll drops every entry. Used as an administrative escape
// hatch; department-tree rebuilds stale entries through the snapshot
// version instead.
func (c *BundleCache) InvalidateAll() {
	c.mu.Lock()
	c.grantGen.Add(1)
	c.byRole = map[int64]map[int64]struct{}{}
	c.mu.Unlock()
	c.entries.Purge()
}

// Stats returns hit/miss counters and the current entry count.
func (c *BundleCache) Stats() (hits, misses uint64, size int) {
	return c.hits.Load(), c.misses.Load(), c.entries.Len()
}

// fresh reports whether an entry may be served: its department snapshot
// version must match the live index, since DEPT_AND_BELOW predicates are
// materialized against the snapshot the bundle was built under. Grant
// staleness is handled by eviction, not by a freshness check.
func (c *BundleCache) fresh(e *cacheEntry) bool {
	return c.depts == nil || e.bundle.DeptVersion == c.depts.Version()
}

func (c *BundleCache) store(principal *Principal, e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Publish and invalidation are serialized on mu: either this entry
	// is indexed before the invalidation scans byRole and gets evicted
	// with the rest, or the generation already advanced and the stale
	// result is discarded here.
	if e.grantGen != c.grantGen.Load() {
		return
	}
	c.entries.Add(principal.ID, e)

	for _, roleID := range e.bundle.RoleIDs {
		set, ok := c.byRole[roleID]
		if !ok {
			set = map[int64]struct{}{}
			c.byRole[roleID] = set
		}
		set[principal.ID] = struct{}{}
	}
}
