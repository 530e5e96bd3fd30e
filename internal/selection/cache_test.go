package selection

import (
	"testing"
	"time"

	"github.com/worklens/worklens/internal/core"
)

func cachePool(ids ...string) []core.CandidateAction {
	pool := make([]core.CandidateAction, 0, len(ids))
	for _, id := range ids {
		pool = append(pool, core.CandidateAction{ID: core.ActionID(id)})
	}
	return pool
}

// =============================================================================
// Cache Key Tests
// =============================================================================

func TestCacheKey_PoolOrderIndependent(t *testing.T) {
	rule := *core.DefaultRule()

	k1 := CacheKey(cachePool("a", "b", "c"), rule)
	k2 := CacheKey(cachePool("c", "a", "b"), rule)
	if k1 != k2 {
		t.Error("cache key should not depend on candidate order")
	}
}

func TestCacheKey_ChangesWithPool(t *testing.T) {
	rule := *core.DefaultRule()

	k1 := CacheKey(cachePool("a", "b"), rule)
	k2 := CacheKey(cachePool("a", "b", "c"), rule)
	if k1 == k2 {
		t.Error("cache key should change when the candidate ID set changes")
	}
}

func TestCacheKey_ChangesWithRequesterRule(t *testing.T) {
	base := *core.DefaultRule()
	withRule := *core.DefaultRule()
	withRule.EntityBonuses.Requester["김철수"] = 4.0

	if CacheKey(cachePool("a"), base) == CacheKey(cachePool("a"), withRule) {
		t.Error("cache key should change with requester rules")
	}
}

func TestCacheKey_ChangesWithInstruction(t *testing.T) {
	base := *core.DefaultRule()
	withInstruction := *core.DefaultRule()
	withInstruction.RawInstruction = "김철수 우선"

	if CacheKey(cachePool("a"), base) == CacheKey(cachePool("a"), withInstruction) {
		t.Error("cache key should change with the instruction")
	}
}

// =============================================================================
// Cache Behavior Tests
// =============================================================================

func TestCache_PutGet(t *testing.T) {
	c := NewCache(time.Minute)

	result := core.SelectionResult{
		SelectedIDs: []core.ActionID{"a", "b"},
		Reasoning:   "test",
		Source:      core.SourceLLM,
	}
	c.Put("key1", result)

	got, ok := c.Get("key1")
	if !ok {
		t.Fatal("Get() = miss, want hit")
	}
	if len(got.SelectedIDs) != 2 || got.SelectedIDs[0] != "a" || got.SelectedIDs[1] != "b" {
		t.Errorf("SelectedIDs = %v, want [a b]", got.SelectedIDs)
	}

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("Hits = %d, want 1", stats.Hits)
	}
}

func TestCache_MissCounts(t *testing.T) {
	c := NewCache(time.Minute)

	if _, ok := c.Get("absent"); ok {
		t.Error("Get() = hit, want miss")
	}
	if stats := c.Stats(); stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(time.Millisecond)

	c.Put("key1", core.SelectionResult{SelectedIDs: []core.ActionID{"a"}})
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Error("Get() = hit, want expired entry purged")
	}
	if stats := c.Stats(); stats.Entries != 0 {
		t.Errorf("Entries = %d, want 0 after purge", stats.Entries)
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("key1", core.SelectionResult{})
	c.Put("key2", core.SelectionResult{})

	c.InvalidateAll()
	if stats := c.Stats(); stats.Entries != 0 {
		t.Errorf("Entries = %d, want 0 after InvalidateAll", stats.Entries)
	}
}

func TestCache_ResultIsolated(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("key1", core.SelectionResult{SelectedIDs: []core.ActionID{"a"}})

	got, _ := c.Get("key1")
	got.SelectedIDs[0] = "mutated"

	again, _ := c.Get("key1")
	if again.SelectedIDs[0] != "a" {
		t.Error("cached result should not be affected by caller mutation")
	}
}
