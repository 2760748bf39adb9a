package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/security"
)

func TestRedisNegativeLookupCacheStoreSetGetInvalidateAndExpiry(t *testing.T) {
	ctx := context.Background()
	server, store := newRedisNegativeCacheForTest(t, "neg_test")

	key := hashToken("DSWIFT-AAAA-BBBB-CCCC-DDDD")

	if hit, err := store.Get(ctx, invalidKeyNamespace, key); err != nil || hit {
		t.Fatalf("expected initial miss, got hit=%v err=%v", hit, err)
	}

	if err := store.Set(ctx, invalidKeyNamespace, key, 2*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if hit, err := store.Get(ctx, invalidKeyNamespace, key); err != nil || !hit {
		t.Fatalf("expected hit after set, got hit=%v err=%v", hit, err)
	}

	server.FastForward(3 * time.Second)
	if hit, err := store.Get(ctx, invalidKeyNamespace, key); err != nil || hit {
		t.Fatalf("expected miss after ttl, got hit=%v err=%v", hit, err)
	}

	if err := store.Set(ctx, invalidKeyNamespace, key, time.Minute); err != nil {
		t.Fatalf("set before invalidate: %v", err)
	}
	if err := store.InvalidateNamespace(ctx, invalidKeyNamespace); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if hit, err := store.Get(ctx, invalidKeyNamespace, key); err != nil || hit {
		t.Fatalf("expected miss after invalidate, got hit=%v err=%v", hit, err)
	}

	if err := store.Set(ctx, invalidKeyNamespace, key, time.Minute); err != nil {
		t.Fatalf("set after invalidate: %v", err)
	}
	if hit, _ := store.Get(ctx, invalidKeyNamespace, key); !hit {
		t.Fatal("expected new generation entries to be readable")
	}
}

func TestRedisNegativeLookupCacheStoreNeverStoresRawKey(t *testing.T) {
	ctx := context.Background()
	server, store := newRedisNegativeCacheForTest(t, "neg_raw")

	raw := "DSWIFT-SECRET-PLAIN"
	if err := store.Set(ctx, invalidKeyNamespace, raw, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	for _, k := range server.Keys() {
		if strings.Contains(k, raw) {
			t.Fatalf("raw key leaked into redis key %q", k)
		}
	}
}

func TestRedisNegativeCacheIsSharedAcrossServiceInstances(t *testing.T) {
	ctx := context.Background()
	_, cache := newRedisNegativeCacheForTest(t, "neg_shared")
	store := newFakeActivationStore()
	cfg := ActivationConfig{NegativeCacheTTL: time.Minute}
	a := NewActivationService(store, security.NewKeyCodec("DSWIFT"), cache, cfg)
	b := NewActivationService(store, security.NewKeyCodec("DSWIFT"), cache, cfg)

	const unknown = "DSWIFT-ZZZZ-ZZZZ-ZZZZ-ZZZZ"
	if _, err := a.Activate(ctx, ActivateInput{Key: unknown, Fingerprint: "fp"}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := b.Activate(ctx, ActivateInput{Key: unknown, Fingerprint: "fp"}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey from second instance, got %v", err)
	}
	if got := store.listCalls(); got != 1 {
		t.Fatalf("expected second instance to hit the shared cache, got %d scans", got)
	}

	plaintext, err := b.Issue(ctx, "U1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.Activate(ctx, ActivateInput{Key: plaintext, Fingerprint: "fp"}); err != nil {
		t.Fatalf("activate key issued by other instance: %v", err)
	}
}
