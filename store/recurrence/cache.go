package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/cyp0633/localcal/store/temporal"
)

// CacheEntry represents a cached expansion result
type CacheEntry struct {
	Result     []temporal.Value
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// Cache keeps recent window expansions. Keys are derived from the rule text,
// the anchor and the window, so edits to a series never hit stale entries.
type Cache struct {
	entries    map[string]*CacheEntry
	mutex      sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// CacheConfig holds configuration for the expansion cache
type CacheConfig struct {
	TTL        time.Duration // How long entries stay valid
	MaxEntries int           // Maximum number of entries before eviction
}

// DefaultCacheConfig provides sensible defaults for expansion caching
var DefaultCacheConfig = CacheConfig{
	TTL:        15 * time.Minute,
	MaxEntries: 1000,
}

// NewCache creates a new expansion cache with the given configuration
func NewCache(config CacheConfig) *Cache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig.TTL
	}
	return &Cache{
		entries:    make(map[string]*CacheEntry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        time.Now,
	}
}

// Key hashes everything an expansion depends on.
func Key(rule *Rule, anchor temporal.Value, windowStart, windowEnd time.Time) string {
	hasher := sha256.New()
	hasher.Write([]byte(rule.String()))
	hasher.Write([]byte{0})
	hasher.Write([]byte(anchor.Canonical()))
	hasher.Write([]byte{0})
	if loc := anchor.Location(); loc != nil {
		hasher.Write([]byte(loc.String()))
	}
	if anchor.IsFloating() {
		hasher.Write([]byte("floating"))
	}
	hasher.Write([]byte{0})
	hasher.Write([]byte(windowStart.Format(time.RFC3339Nano)))
	hasher.Write([]byte(windowStart.Location().String()))
	hasher.Write([]byte{0})
	hasher.Write([]byte(windowEnd.Format(time.RFC3339Nano)))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Get retrieves a cached result if it exists and hasn't expired
func (c *Cache) Get(key string) ([]temporal.Value, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(entry.ExpiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.AccessedAt = now
	return entry.Result, true
}

// Set stores a result in the cache
func (c *Cache) Set(key string, result []temporal.Value) {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &CacheEntry{
		Result:     result,
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}
	if len(c.entries) > c.maxEntries {
		c.cleanup(now)
	}
}

// cleanup removes expired entries, then the least recently accessed ones
// until the cache is within its limit.
func (c *Cache) cleanup(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].AccessedAt.Before(c.entries[keys[j]].AccessedAt)
	})
	for _, key := range keys[:len(keys)-c.maxEntries] {
		delete(c.entries, key)
	}
}

// Purge drops expired entries.
func (c *Cache) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	expired := 0
	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}
	return CacheStats{
		TotalEntries:   len(c.entries),
		ExpiredEntries: expired,
		ActiveEntries:  len(c.entries) - expired,
	}
}

// CacheStats provides information about cache usage
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
