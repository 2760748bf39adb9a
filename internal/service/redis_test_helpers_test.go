package service

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newRedisNegativeCacheForTest returns a miniredis-backed negative cache plus
// the server, so tests can fast-forward TTLs and inspect stored keys.
func newRedisNegativeCacheForTest(t *testing.T, prefix string) (*miniredis.Miniredis, *RedisNegativeLookupCacheStore) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, NewRedisNegativeLookupCacheStore(client, prefix)
}
