package cache

import (
	"context"
	"sync"
	"time"
)

// entry is either pending (ready open) or filled (ready closed). A failed
// fill is removed from the map before ready closes, so the next caller
// retries while the waiters of the failed fill all observe the same error.
type entry[V any] struct {
	value     V
	err       error
	createdAt time.Time
	ttl       time.Duration
	ready     chan struct{}
	filled    bool // guarded by Cache.mu; true once the fill resolved
}

func (e *entry[V]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// Stats are cumulative read counters. A caller waiting on another caller's
// in-flight fill counts as a hit: the upstream call was collapsed away.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache is a key-value store with per-entry expiry and at-most-one concurrent
// fill per key. Expiry is checked lazily on read; there is no background
// eviction, which is acceptable because the key space is bounded by the
// universe of one run. Fills run outside the map lock, so distinct keys fetch
// in parallel.
type Cache[V any] struct {
	mu     sync.Mutex
	m      map[string]*entry[V]
	hits   int64
	misses int64
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{m: make(map[string]*entry[V])}
}

// GetOrFetch returns the cached value for key, or invokes fetch exactly once
// per concurrently-requested key and caches a successful result for ttl.
// Concurrent callers for the same key during a pending fill all observe that
// fill's outcome. An expired entry is treated as absent.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	c.mu.Lock()
	e, ok := c.m[key]
	if ok && e.filled && e.expired(time.Now()) {
		delete(c.m, key)
		ok = false
	}
	if ok {
		if e.filled {
			c.hits++
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		// Pending fill by another caller; wait for it.
		c.hits++
		c.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if e.err != nil {
			return zero, e.err
		}
		return e.value, nil
	}

	e = &entry[V]{ttl: ttl, ready: make(chan struct{})}
	c.m[key] = e
	c.misses++
	c.mu.Unlock()

	v, err := fetch(ctx)

	c.mu.Lock()
	e.filled = true
	if err != nil {
		e.err = err
		if c.m[key] == e {
			delete(c.m, key)
		}
	} else {
		e.value = v
		e.createdAt = time.Now()
	}
	close(e.ready)
	c.mu.Unlock()

	if err != nil {
		return zero, err
	}
	return v, nil
}

// Put installs a completed entry, replacing any live or pending one for the
// key. Used by the quote stream to keep snapshot entries warm; pending
// fetchers of a replaced entry still resolve against their own fill.
func (c *Cache[V]) Put(key string, v V, ttl time.Duration) {
	e := &entry[V]{value: v, createdAt: time.Now(), ttl: ttl, filled: true, ready: make(chan struct{})}
	close(e.ready)
	c.mu.Lock()
	c.m[key] = e
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet
// lazily evicted.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Stats returns cumulative hit/miss counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}
