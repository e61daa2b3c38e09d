// Package session keeps per-visitor server-side state with a sliding TTL.
package session

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store holds visitor sessions in memory. Each session is a small string map
// that expires after ttl of inactivity.
type Store struct {
	items *gocache.Cache
	ttl   time.Duration
	mu    sync.Mutex
}

type data struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStore creates a store. A non-positive ttl defaults to two hours.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{
		items: gocache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

// Get returns a session value and refreshes the session's expiry.
func (s *Store) Get(sessionID, key string) (string, bool) {
	d := s.lookup(sessionID, false)
	if d == nil {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[key]
	return v, ok
}

// Set stores a session value, creating the session if needed.
func (s *Store) Set(sessionID, key, value string) {
	d := s.lookup(sessionID, true)
	d.mu.Lock()
	d.values[key] = value
	d.mu.Unlock()
}

// Delete removes one value from a session.
func (s *Store) Delete(sessionID, key string) {
	if d := s.lookup(sessionID, false); d != nil {
		d.mu.Lock()
		delete(d.values, key)
		d.mu.Unlock()
	}
}

// Destroy drops a whole session.
func (s *Store) Destroy(sessionID string) {
	s.items.Delete(sessionID)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.items.ItemCount()
}

func (s *Store) lookup(sessionID string, create bool) *data {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.items.Get(sessionID); ok {
		d := v.(*data)
		s.items.Set(sessionID, d, s.ttl)
		return d
	}
	if !create {
		return nil
	}
	d := &data{values: make(map[string]string)}
	s.items.Set(sessionID, d, s.ttl)
	return d
}
