package selection

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/logging"
)

// Cache stores selection results keyed by candidate pool and rule state.
// Entries expire after the TTL; expired entries are purged lazily on reads.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int64
	misses  int64
}

type cacheEntry struct {
	result    core.SelectionResult
	createdAt time.Time
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// NewCache creates a result cache with the given TTL
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// CacheKey derives a stable key from the candidate pool and rule. Candidate
// IDs are sorted so pool order never matters; only the requester bonuses and
// the raw instruction feed the rule part, since those are what change the
// selection outcome.
func CacheKey(candidates []core.CandidateAction, rule core.SelectionRule) string {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.ID != "" {
			ids = append(ids, string(c.ID))
		}
	}
	sort.Strings(ids)

	var rulePairs []string
	for name, bonus := range rule.EntityBonuses.Requester {
		rulePairs = append(rulePairs, name+":"+strconv.FormatFloat(bonus, 'g', -1, 64))
	}
	sort.Strings(rulePairs)

	combined := strings.Join(ids, ",") + "|" + strings.Join(rulePairs, ",") + "|" + rule.RawInstruction
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for key, if present and fresh
func (c *Cache) Get(key string) (core.SelectionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return core.SelectionResult{}, false
	}

	c.hits++
	keyPrefix := key
	if len(keyPrefix) > 16 {
		keyPrefix = keyPrefix[:16]
	}
	logging.Debug("selection cache hit: %s", keyPrefix)
	return copyResult(entry.result), true
}

// Put stores a result under key
func (c *Cache) Put(key string, result core.SelectionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: copyResult(result), createdAt: time.Now()}
}

// Invalidate removes one entry
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll clears the cache. Called on every rule change.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) > 0 {
		logging.Debug("selection cache cleared: %d entries", len(c.entries))
	}
	c.entries = make(map[string]cacheEntry)
}

// Stats returns hit/miss counters and the live entry count
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked()
	return CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

func (c *Cache) purgeExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}

func copyResult(r core.SelectionResult) core.SelectionResult {
	out := r
	out.SelectedIDs = append([]core.ActionID(nil), r.SelectedIDs...)
	return out
}
