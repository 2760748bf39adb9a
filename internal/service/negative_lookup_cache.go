package service

import (
	"context"
	"sync"
	"time"
)

// NegativeLookupCacheStore remembers lookups that are known to fail so the
// activation path can skip a full candidate scan. Entries are opaque keys
// grouped by namespace; invalidating a namespace drops all of them.
type NegativeLookupCacheStore interface {
	Get(ctx context.Context, namespace, key string) (bool, error)
	Set(ctx context.Context, namespace, key string, ttl time.Duration) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

type NoopNegativeLookupCacheStore struct{}

func NewNoopNegativeLookupCacheStore() *NoopNegativeLookupCacheStore {
	return &NoopNegativeLookupCacheStore{}
}

func (NoopNegativeLookupCacheStore) Get(context.Context, string, string) (bool, error) {
	return false, nil
}

func (NoopNegativeLookupCacheStore) Set(context.Context, string, string, time.Duration) error {
	return nil
}

func (NoopNegativeLookupCacheStore) InvalidateNamespace(context.Context, string) error {
	return nil
}

const defaultNegativeCacheMaxEntries = 10000

// InMemoryNegativeLookupCacheStore is process-local. When a namespace is full,
// expired entries are swept and, failing that, the namespace is reset.
type InMemoryNegativeLookupCacheStore struct {
	mu         sync.Mutex
	namespaces map[string]map[string]time.Time
	maxEntries int
	now        func() time.Time
}

func NewInMemoryNegativeLookupCacheStore() *InMemoryNegativeLookupCacheStore {
	return &InMemoryNegativeLookupCacheStore{
		namespaces: make(map[string]map[string]time.Time),
		maxEntries: defaultNegativeCacheMaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryNegativeLookupCacheStore) Get(_ context.Context, namespace, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.namespaces[namespace]
	expiresAt, ok := entries[key]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(entries, key)
		return false, nil
	}
	return true, nil
}

func (s *InMemoryNegativeLookupCacheStore) Set(_ context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	entries, ok := s.namespaces[namespace]
	if !ok {
		entries = make(map[string]time.Time)
		s.namespaces[namespace] = entries
	}
	if _, exists := entries[key]; !exists && len(entries) >= s.maxEntries {
		for k, exp := range entries {
			if !now.Before(exp) {
				delete(entries, k)
			}
		}
		if len(entries) >= s.maxEntries {
			entries = make(map[string]time.Time)
			s.namespaces[namespace] = entries
		}
	}
	entries[key] = now.Add(ttl)
	return nil
}

func (s *InMemoryNegativeLookupCacheStore) InvalidateNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	delete(s.namespaces, namespace)
	s.mu.Unlock()
	return nil
}
