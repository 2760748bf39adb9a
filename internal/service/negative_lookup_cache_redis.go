package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNegativeLookupCacheStore shares negative entries across instances.
// Each namespace carries a generation counter that is part of every data key,
// so invalidation is a single INCR and stale generations simply expire.
type RedisNegativeLookupCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNegativeLookupCacheStore(client redis.UniversalClient, prefix string) *RedisNegativeLookupCacheStore {
	if prefix == "" {
		prefix = "license"
	}
	return &RedisNegativeLookupCacheStore{client: client, prefix: prefix + ":negative"}
}

func (s *RedisNegativeLookupCacheStore) Get(ctx context.Context, namespace, key string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	gen, err := s.generation(ctx, namespace)
	if err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.dataKey(namespace, gen, key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisNegativeLookupCacheStore) Set(ctx context.Context, namespace, key string, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	gen, err := s.generation(ctx, namespace)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.dataKey(namespace, gen, key), "1", ttl).Err()
}

func (s *RedisNegativeLookupCacheStore) InvalidateNamespace(ctx context.Context, namespace string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.generationKey(namespace)).Err()
}

func (s *RedisNegativeLookupCacheStore) generation(ctx context.Context, namespace string) (int64, error) {
	gen, err := s.client.Get(ctx, s.generationKey(namespace)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (s *RedisNegativeLookupCacheStore) dataKey(namespace string, gen int64, key string) string {
	return fmt.Sprintf("%s:%s:%d:%s", s.prefix, normalizeToken(namespace), gen, hashToken(key))
}

func (s *RedisNegativeLookupCacheStore) generationKey(namespace string) string {
	return fmt.Sprintf("%s:%s:gen", s.prefix, normalizeToken(namespace))
}
