package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/app"
	"github.com/sandeepkv93/license-activation-service/internal/config"
	"github.com/sandeepkv93/license-activation-service/internal/database"
	"github.com/sandeepkv93/license-activation-service/internal/health"
	"github.com/sandeepkv93/license-activation-service/internal/http/handler"
	"github.com/sandeepkv93/license-activation-service/internal/http/middleware"
	"github.com/sandeepkv93/license-activation-service/internal/http/router"
	"github.com/sandeepkv93/license-activation-service/internal/observability"
	"github.com/sandeepkv93/license-activation-service/internal/repository"
	"github.com/sandeepkv93/license-activation-service/internal/security"
	"github.com/sandeepkv93/license-activation-service/internal/service"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var StoreSet = wire.NewSet(
	provideDB,
	provideRedis,
	repository.NewActivationStore,
	wire.Bind(new(repository.ActivationStore), new(*repository.GormActivationStore)),
)

var ServiceSet = wire.NewSet(
	provideKeyCodec,
	wire.Bind(new(service.KeyCodec), new(*security.KeyCodec)),
	provideNegativeCache,
	provideActivationConfig,
	service.NewActivationService,
	wire.Bind(new(service.ActivationServiceInterface), new(*service.ActivationService)),
)

var HTTPSet = wire.NewSet(
	handler.NewKeyHandler,
	handler.NewDeviceHandler,
	provideJWTManager,
	provideReadiness,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

// RedisClient wraps a nil client when REDIS_ENABLED=false. Close is safe to
// call from both the app shutdown sequence and the injector cleanup.
type RedisClient struct {
	redis.UniversalClient

	closeOnce sync.Once
	closeErr  error
}

func (rc *RedisClient) Close() error {
	if rc == nil || rc.UniversalClient == nil {
		return nil
	}
	rc.closeOnce.Do(func() { rc.closeErr = rc.UniversalClient.Close() })
	return rc.closeErr
}

var openDatabase = database.Open

func provideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if cfg.DatabaseDriver == config.DatabaseDriverSQLite {
		// local sqlite deployments migrate on boot; postgres uses the migrate command.
		if err := database.Migrate(db); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return db, cleanup, nil
}

func provideRedis(ctx context.Context, cfg *config.Config) (*RedisClient, func(), error) {
	if !cfg.RedisEnabled {
		return &RedisClient{}, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	rc := &RedisClient{UniversalClient: client}
	return rc, func() { _ = rc.Close() }, nil
}

func provideKeyCodec(cfg *config.Config) *security.KeyCodec {
	return security.NewKeyCodec(cfg.KeyProductTag)
}

func provideNegativeCache(cfg *config.Config, rc *RedisClient) service.NegativeLookupCacheStore {
	switch {
	case cfg.ActivationNegativeCacheTTL <= 0:
		return service.NewNoopNegativeLookupCacheStore()
	case rc.UniversalClient != nil:
		return service.NewRedisNegativeLookupCacheStore(rc.UniversalClient, cfg.RedisKeyPrefix)
	default:
		return service.NewInMemoryNegativeLookupCacheStore()
	}
}

func provideActivationConfig(cfg *config.Config) service.ActivationConfig {
	return service.ActivationConfig{
		DefaultMaxDevices: cfg.KeyDefaultMaxDevices,
		IssueMaxAttempts:  cfg.KeyIssueMaxAttempts,
		StoreTimeout:      cfg.ActivationStoreTimeout,
		PrefixLookup:      cfg.ActivationPrefixLookup,
		NegativeCacheTTL:  cfg.ActivationNegativeCacheTTL,
	}
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func provideReadiness(cfg *config.Config, db *gorm.DB, rc *RedisClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if rc.UniversalClient != nil {
		checkers = append(checkers, health.NewRedisChecker(rc.UniversalClient))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, cfg.ReadinessProbeCacheTTL, checkers...)
}

func provideRouterDependencies(
	cfg *config.Config,
	keys *handler.KeyHandler,
	devices *handler.DeviceHandler,
	jwtMgr *security.JWTManager,
	readiness *health.ProbeRunner,
	rc *RedisClient,
) router.Dependencies {
	dep := router.Dependencies{
		KeyHandler:           keys,
		DeviceHandler:        devices,
		JWTManager:           jwtMgr,
		InternalTokenHash:    cfg.InternalTokenHash,
		CORSOrigins:          cfg.CORSOrigins,
		APIRateLimitRPM:      cfg.APIRateLimitRPM,
		ActivateRateLimitRPM: cfg.ActivateRateLimitRPM,
		Readiness:            readiness,
		EnableOTelHTTP:       cfg.EnableOTelHTTP,
	}
	if cfg.RateLimitMode == config.RateLimitModeRedis && rc.UniversalClient != nil {
		limiter := middleware.NewRedisFixedWindowLimiter(rc.UniversalClient, cfg.RedisKeyPrefix+":rl")
		dep.GlobalRateLimiter = middleware.NewScopedRateLimiter(
			limiter, middleware.NewRateLimitPolicy(cfg.APIRateLimitRPM, time.Minute), middleware.FailOpen, "api", nil,
		).Middleware()
		dep.ActivateRateLimiter = middleware.NewScopedRateLimiter(
			limiter, middleware.NewRateLimitPolicy(cfg.ActivateRateLimitRPM, time.Minute), middleware.FailClosed, "activate", nil,
		).Middleware()
	}
	return dep
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability.Runtime, func(), error) {
	rt, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	timeout := cfg.ShutdownObservabilityTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return rt, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = rt.Shutdown(shutdownCtx)
	}, nil
}

func provideApp(cfg *config.Config, server *http.Server, runtime *observability.Runtime, db *gorm.DB, rc *RedisClient) *app.App {
	closers := []app.Closer{func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}}
	if rc.UniversalClient != nil {
		closers = append(closers, rc.Close)
	}
	return app.New(cfg, runtime.Logger, server, runtime, closers...)
}
