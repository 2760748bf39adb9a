package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"

	RateLimitModeLocal = "local"
	RateLimitModeRedis = "redis"
)

// DefaultCORSOrigins are the desktop shell and local dev origins that always
// receive CORS headers.
var DefaultCORSOrigins = []string{
	"tauri://localhost",
	"http://localhost:1420",
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseDriver string
	DatabaseURL    string

	RedisEnabled   bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string

	InternalTokenHash string

	CORSOrigins []string

	KeyProductTag        string
	KeyDefaultMaxDevices int
	KeyIssueMaxAttempts  int

	ActivationStoreTimeout     time.Duration
	ActivationPrefixLookup     bool
	ActivationNegativeCacheTTL time.Duration

	ActivateRateLimitRPM int
	APIRateLimitRPM      int
	RateLimitMode        string

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
	ReadinessProbeTimeout        time.Duration
	ReadinessProbeCacheTTL       time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	EnableOTelHTTP            bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg, err := loadFromEnv()
	profile := os.Getenv("APP_ENV")
	if err == nil {
		profile = cfg.AppEnv
	}
	recordConfigLoad(context.Background(), profile, err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseError reports an environment variable whose value has the wrong type.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Key, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError carries every rule the loaded configuration breaks.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	return "validate config: " + errors.Join(e.Problems...).Error()
}

func (e *ValidationError) Unwrap() []error { return e.Problems }

func loadFromEnv() (*Config, error) {
	p := &envParser{}
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", DatabaseDriverSQLite)),
		DatabaseURL:    getEnv("DATABASE_URL", "file:activation.db?_foreign_keys=on"),

		RedisEnabled:   p.bool("REDIS_ENABLED", false),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        p.int("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "activation"),

		JWTIssuer:       getEnv("JWT_ISSUER", "identity"),
		JWTAudience:     getEnv("JWT_AUDIENCE", "license-activation-service"),
		JWTAccessSecret: os.Getenv("JWT_ACCESS_SECRET"),

		InternalTokenHash: os.Getenv("INTERNAL_TOKEN_HASH"),

		CORSOrigins: mergeOrigins(DefaultCORSOrigins, splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS"))),

		KeyProductTag:        strings.ToUpper(getEnv("KEY_PRODUCT_TAG", "DSWIFT")),
		KeyDefaultMaxDevices: p.int("KEY_DEFAULT_MAX_DEVICES", 1),
		KeyIssueMaxAttempts:  p.int("KEY_ISSUE_MAX_ATTEMPTS", 3),

		ActivationStoreTimeout:     p.duration("ACTIVATION_STORE_TIMEOUT", 5*time.Second),
		ActivationPrefixLookup:     p.bool("ACTIVATION_PREFIX_LOOKUP", true),
		ActivationNegativeCacheTTL: p.duration("ACTIVATION_NEGATIVE_CACHE_TTL", 30*time.Second),

		ActivateRateLimitRPM: p.int("ACTIVATE_RATE_LIMIT_RPM", 30),
		APIRateLimitRPM:      p.int("API_RATE_LIMIT_RPM", 300),
		RateLimitMode:        strings.ToLower(getEnv("RATE_LIMIT_MODE", RateLimitModeLocal)),

		ShutdownTimeout:              p.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     p.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: p.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),
		ReadinessProbeTimeout:        p.duration("READINESS_PROBE_TIMEOUT", time.Second),
		ReadinessProbeCacheTTL:       p.duration("READINESS_PROBE_CACHE_TTL", time.Second),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "license-activation-service"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", getEnv("APP_ENV", "development")),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        p.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.bool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSamplingRatio:    p.float("OTEL_TRACE_SAMPLING_RATIO", 1.0),
		EnableOTelHTTP:            p.bool("OTEL_HTTP_ENABLED", false),
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q", DatabaseDriverSQLite, DatabaseDriverPostgres))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be at least 32 characters"))
	}
	if c.KeyProductTag == "" || strings.ContainsFunc(c.KeyProductTag, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) {
		errs = append(errs, errors.New("KEY_PRODUCT_TAG must be uppercase alphanumeric"))
	}
	if c.KeyDefaultMaxDevices < 1 {
		errs = append(errs, errors.New("KEY_DEFAULT_MAX_DEVICES must be positive"))
	}
	if c.KeyIssueMaxAttempts < 1 || c.KeyIssueMaxAttempts > 10 {
		errs = append(errs, errors.New("KEY_ISSUE_MAX_ATTEMPTS must be between 1 and 10"))
	}
	if c.ActivationStoreTimeout <= 0 {
		errs = append(errs, errors.New("ACTIVATION_STORE_TIMEOUT must be positive"))
	}
	if c.ActivationNegativeCacheTTL < 0 {
		errs = append(errs, errors.New("ACTIVATION_NEGATIVE_CACHE_TTL must not be negative"))
	}
	switch c.RateLimitMode {
	case RateLimitModeLocal:
	case RateLimitModeRedis:
		if !c.RedisEnabled {
			errs = append(errs, errors.New("RATE_LIMIT_MODE=redis requires REDIS_ENABLED=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MODE must be %q or %q", RateLimitModeLocal, RateLimitModeRedis))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	if c.ShutdownHTTPDrainTimeout+c.ShutdownObservabilityTimeout > c.ShutdownTimeout {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must cover http drain and observability timeouts"))
	}
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Problems: errs}
}

type envParser struct {
	errs []error
}

func (p *envParser) err() error { return errors.Join(p.errs...) }

func (p *envParser) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, &ParseError{Key: key, Err: err})
		return def
	}
	return n
}

func (p *envParser) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, &ParseError{Key: key, Err: err})
		return def
	}
	return b
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, &ParseError{Key: key, Err: err})
		return def
	}
	return d
}

func (p *envParser) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, &ParseError{Key: key, Err: err})
		return def
	}
	return f
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func mergeOrigins(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, o := range list {
			if _, ok := seen[o]; ok {
				continue
			}
			seen[o] = struct{}{}
			out = append(out, o)
		}
	}
	return out
}
