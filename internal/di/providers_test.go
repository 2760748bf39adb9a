package di

import (
	"context"
	"testing"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/config"
	"github.com/sandeepkv93/license-activation-service/internal/database"
	"github.com/sandeepkv93/license-activation-service/internal/service"

	miniredis "github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"
)

func toolingConfig(t *testing.T) *config.Config {
	return &config.Config{
		DatabaseDriver:             config.DatabaseDriverSQLite,
		DatabaseURL:                "file:" + t.Name() + "?mode=memory&cache=shared",
		KeyProductTag:              "DSWIFT",
		KeyDefaultMaxDevices:       1,
		KeyIssueMaxAttempts:        3,
		ActivationStoreTimeout:     time.Second,
		ActivationPrefixLookup:     true,
		ActivationNegativeCacheTTL: time.Minute,
		RateLimitMode:              config.RateLimitModeLocal,
	}
}

func TestProvideNegativeCacheSelection(t *testing.T) {
	cfg := toolingConfig(t)
	if _, ok := provideNegativeCache(cfg, &RedisClient{}).(*service.InMemoryNegativeLookupCacheStore); !ok {
		t.Fatal("expected in-memory cache without redis")
	}

	server := miniredis.RunT(t)
	cfg.RedisEnabled = true
	cfg.RedisAddr = server.Addr()
	rc, cleanup, err := provideRedis(context.Background(), cfg)
	if err != nil {
		t.Fatalf("provide redis: %v", err)
	}
	t.Cleanup(cleanup)
	if _, ok := provideNegativeCache(cfg, rc).(*service.RedisNegativeLookupCacheStore); !ok {
		t.Fatal("expected redis cache when redis is enabled")
	}

	cfg.ActivationNegativeCacheTTL = 0
	if _, ok := provideNegativeCache(cfg, rc).(*service.NoopNegativeLookupCacheStore); !ok {
		t.Fatal("expected noop cache when ttl is zero")
	}
}

func TestProvideRedisFailsWhenUnreachable(t *testing.T) {
	cfg := toolingConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisAddr = "127.0.0.1:1"
	if _, _, err := provideRedis(context.Background(), cfg); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestInitializeToolingIssuesKeys(t *testing.T) {
	tooling, cleanup, err := InitializeTooling(context.Background(), toolingConfig(t))
	if err != nil {
		t.Fatalf("initialize tooling: %v", err)
	}
	t.Cleanup(cleanup)

	plaintext, err := tooling.Service.Issue(context.Background(), "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tooling.Service.Activate(context.Background(), service.ActivateInput{Key: plaintext, Fingerprint: "fp"}); err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func TestProvideDBCleanupClosesPool(t *testing.T) {
	db, cleanup, err := provideDB(toolingConfig(t))
	if err != nil {
		t.Fatalf("provide db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping before cleanup: %v", err)
	}
	cleanup()
	if err := sqlDB.Ping(); err == nil {
		t.Fatal("expected closed pool after cleanup")
	}
}

func TestRedisClientCloseIsIdempotent(t *testing.T) {
	cfg := toolingConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisAddr = miniredis.RunT(t).Addr()
	rc, cleanup, err := provideRedis(context.Background(), cfg)
	if err != nil {
		t.Fatalf("provide redis: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	cleanup()
	if err := rc.Close(); err != nil {
		t.Fatalf("repeated close must be a no-op, got %v", err)
	}

	disabled := &RedisClient{}
	if err := disabled.Close(); err != nil {
		t.Fatalf("close without client: %v", err)
	}
}

func TestInitializeToolingReleasesDBWhenRedisFails(t *testing.T) {
	var opened *gorm.DB
	prev := openDatabase
	openDatabase = func(cfg *config.Config) (*gorm.DB, error) {
		db, err := database.Open(cfg)
		opened = db
		return db, err
	}
	t.Cleanup(func() { openDatabase = prev })

	cfg := toolingConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisAddr = "127.0.0.1:1"
	tooling, cleanup, err := InitializeTooling(context.Background(), cfg)
	if err == nil {
		cleanup()
		t.Fatalf("expected redis connection error, got tooling %+v", tooling)
	}
	if cleanup != nil {
		t.Fatal("failed injector must not hand back a cleanup")
	}
	if opened == nil {
		t.Fatal("expected database to be opened before redis")
	}
	sqlDB, err := opened.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Ping(); err == nil {
		t.Fatal("expected database pool to be closed after failed initialization")
	}
}
