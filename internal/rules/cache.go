package rules

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/opensource-finance/heron/internal/domain"
)

// ProgramCache is a bounded, thread-safe cache of compiled rule sets.
// Entries are evicted oldest-first; reads do not refresh an entry.
type ProgramCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
	hits     int64
	misses   int64
}

type programEntry struct {
	key string
	set *RuleSet
}

// CacheStats reports compiled rule cache usage.
type CacheStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
}

// NewProgramCache creates a cache holding at most capacity rule sets.
func NewProgramCache(capacity int) *ProgramCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &ProgramCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the rule set stored under key.
func (c *ProgramCache) Get(key string) (*RuleSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return elem.Value.(*programEntry).set, true
}

// peek looks key up without touching the hit and miss counters.
func (c *ProgramCache) peek(key string) (*RuleSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*programEntry).set, true
}

// Add stores set under key unless the key is already present, then
// evicts the oldest entries beyond capacity. It returns the stored set.
func (c *ProgramCache) Add(key string, set *RuleSet) *RuleSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*programEntry).set
	}

	c.items[key] = c.order.PushFront(&programEntry{key: key, set: set})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*programEntry).key)
	}
	return set
}

// Len returns the number of cached rule sets.
func (c *ProgramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of cache counters.
func (c *ProgramCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.order.Len(),
		Capacity: c.capacity,
	}
}

// Clear drops every entry and resets counters.
func (c *ProgramCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.hits, c.misses = 0, 0
}

type ruleFingerprint struct {
	ID         int64                 `json:"id"`
	Priority   int                   `json:"priority"`
	Definition domain.RuleDefinition `json:"definition"`
}

// CacheKey derives a content-addressed key for a criterion's rule set.
// The key ignores the order of rules but changes with any rule's id,
// priority or definition.
func CacheKey(criteriaKey string, rules []*domain.Rule) string {
	prints := make([]string, 0, len(rules))
	for _, r := range rules {
		data, err := json.Marshal(ruleFingerprint{ID: r.ID, Priority: r.Priority, Definition: r.Definition})
		if err != nil {
			// Unserializable definitions still get a distinct, stable key.
			data = []byte(err.Error())
		}
		prints = append(prints, string(data))
	}
	sort.Strings(prints)

	h := sha256.New()
	h.Write([]byte(criteriaKey))
	for _, p := range prints {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return criteriaKey + ":" + hex.EncodeToString(h.Sum(nil))
}
