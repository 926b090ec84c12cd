package cache

import (
	"strings"
	"sync"
	"time"
)

// entry is one cached value with its expiry deadline
type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Store is an in-process key-value cache with per-key expiry. It backs the
// ephemeral job status records and short-lived memoized lookups; contents are
// lost on process restart by design.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	stop    chan struct{}
}

// New creates a cache store and starts its expiry janitor
func New() *Store {
	s := &Store{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Set stores a value with a TTL
func (s *Store) Set(key string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Get returns the value for key, or false if missing or expired
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a key
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Keys returns all live keys with the given prefix
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var keys []string
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Close stops the janitor goroutine
func (s *Store) Close() {
	close(s.stop)
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
