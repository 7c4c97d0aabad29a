package tenant

import (
	"sync"
	"time"
)

// lookupCache is an in-process TTL cache mapping (platform,
// platform_account_id) to a resolved tenant id, with separate
// positive/negative TTLs. Modeled on the subject+tenant TTL map used
// for authorization caching elsewhere in the ecosystem, narrowed to a
// single background cleanup goroutine and two expiries instead of one.
type lookupCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	positiveTTL time.Duration
	negativeTTL time.Duration
}

type cacheEntry struct {
	tenantID string // empty means "known not to resolve" (negative entry)
	expires  time.Time
}

func newLookupCache(positiveTTL, negativeTTL time.Duration) *lookupCache {
	c := &lookupCache{
		entries:     make(map[string]cacheEntry),
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
	}
	go c.cleanupExpired()
	return c
}

func cacheKey(platform, accountID string) string {
	return platform + ":" + accountID
}

// get reports (tenantID, found). found is true for both positive and
// negative cache hits; callers distinguish by checking tenantID == "".
func (c *lookupCache) get(platform, accountID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(platform, accountID)]
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.tenantID, true
}

func (c *lookupCache) setPositive(platform, accountID, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(platform, accountID)] = cacheEntry{
		tenantID: tenantID,
		expires:  time.Now().Add(c.positiveTTL),
	}
}

func (c *lookupCache) setNegative(platform, accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(platform, accountID)] = cacheEntry{
		expires: time.Now().Add(c.negativeTTL),
	}
}

func (c *lookupCache) cleanupExpired() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, entry := range c.entries {
			if now.After(entry.expires) {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}
