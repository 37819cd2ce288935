// Package cachetest provides an in-memory cache.Store for tests. It also covers
// the raw string surface of the Redis client used by the replay guards.
package cachetest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store keeps JSON blobs in a map and counts operations.
type Store struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration

	Gets    int
	Sets    int
	ReadErr error
}

func NewStore() *Store {
	return &Store{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *Store) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if s.ReadErr != nil {
		return false, s.ReadErr
	}
	raw, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *Store) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sets++
	s.entries[key] = raw
	s.ttls[key] = ttl
	return nil
}

func (s *Store) DeleteByPrefix(_ context.Context, prefixes ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.entries {
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix+":") {
				delete(s.entries, key)
				delete(s.ttls, key)
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *Store) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	_, exists := s.entries[key]
	s.mu.Unlock()
	if exists {
		return false, nil
	}
	return true, s.Set(ctx, key, value, ttl)
}

func (s *Store) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = []byte(fmt.Sprint(value))
	s.ttls[key] = ttl
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
		delete(s.ttls, key)
	}
	return nil
}

func (s *Store) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

// Keys returns the keys currently held.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Raw returns the stored bytes for key.
func (s *Store) Raw(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key]
}

// TTL returns the expiry the entry was stored with.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}
