// Package cache provides the ephemeral stores behind IP blocking and alert throttling.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrScopeRequired is returned when a key is used without an instance scope.
var ErrScopeRequired = errors.New("cache scope is required")

// LRUCache is a thread-safe LRU cache with TTL support.
// Values and counters share one recency list, so counters are evicted too.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type entry struct {
	key       string
	value     []byte
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get retrieves a value. A miss returns nil, nil.
func (c *LRUCache) Get(ctx context.Context, scope string, key string) ([]byte, error) {
	if scope == "" {
		return nil, ErrScopeRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(scopedKey(scope, key))
	if e == nil {
		return nil, nil
	}
	return e.value, nil
}

// Set stores a value with TTL. A non-positive TTL stores nothing.
func (c *LRUCache) Set(ctx context.Context, scope string, key string, value []byte, ttl time.Duration) error {
	if scope == "" {
		return ErrScopeRequired
	}
	if ttl <= 0 {
		return c.Delete(ctx, scope, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.put(&entry{key: scopedKey(scope, key), value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// Delete removes a value.
func (c *LRUCache) Delete(ctx context.Context, scope string, key string) error {
	if scope == "" {
		return ErrScopeRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[scopedKey(scope, key)]; ok {
		c.remove(elem)
	}
	return nil
}

// IncrementCounter increments a fixed-window counter and returns the new value.
func (c *LRUCache) IncrementCounter(ctx context.Context, scope string, key string, window time.Duration) (int64, error) {
	if scope == "" {
		return 0, ErrScopeRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	full := scopedKey(scope, counterPrefix+key)
	if e := c.lookup(full); e != nil {
		e.count++
		return e.count, nil
	}

	c.put(&entry{key: full, count: 1, expiresAt: c.now().Add(window)})
	return 1, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns the current size and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

// lookup returns a live entry and marks it recently used. Callers hold mu.
func (c *LRUCache) lookup(key string) *entry {
	elem, ok := c.items[key]
	if !ok {
		return nil
	}
	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.remove(elem)
		return nil
	}
	c.order.MoveToFront(elem)
	return e
}

// put inserts or replaces an entry and evicts past capacity. Callers hold mu.
func (c *LRUCache) put(e *entry) {
	if elem, ok := c.items[e.key]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return
	}
	c.items[e.key] = c.order.PushFront(e)
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
}

func (c *LRUCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}

const counterPrefix = "counter:"

func scopedKey(scope, key string) string {
	return scope + ":" + key
}
