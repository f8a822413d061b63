package subagent

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultCacheTTL is how long a cached reply stays valid.
const DefaultCacheTTL = time.Hour

// sweepEvery is how many inserts pass between sweeps of expired entries.
const sweepEvery = 256

type cacheEntry struct {
	response string
	expires  time.Time
}

// responseCache maps (chunk content, question, model) to a raw reply.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[uint64]cacheEntry
	puts    int
}

func newResponseCache(ttl time.Duration, now func() time.Time) *responseCache {
	return &responseCache{ttl: ttl, now: now, entries: make(map[uint64]cacheEntry)}
}

func (c *responseCache) get(key uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.response, true
}

func (c *responseCache) put(key uint64, response string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{response: response, expires: c.now().Add(c.ttl)}
	c.puts++
	if c.puts%sweepEvery == 0 {
		c.sweepLocked()
	}
}

// purge drops expired entries and returns how many remain.
func (c *responseCache) purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	return len(c.entries)
}

func (c *responseCache) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

// cacheKey hashes whitespace-normalized content with the question and model.
func cacheKey(content, question, model string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strings.Join(strings.Fields(content), " "))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strings.TrimSpace(question))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(model)
	return d.Sum64()
}
