package cache

import (
	"context"
	"time"
)

// MemoryStore is a process-local Store backed by the TTL LRU. Values are
// copied on the way in and out so callers cannot alias cached bytes.
type MemoryStore struct {
	lru *LRU[string, []byte]
}

func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{lru: NewLRU[string, []byte](capacity, FeedTTL)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	value, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), value...), true
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	value = append([]byte(nil), value...)
	if ttl <= 0 {
		s.lru.Put(key, value)
		return true
	}
	s.lru.PutTTL(key, value, ttl)
	return true
}
