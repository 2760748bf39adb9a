package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/http/response"
	"github.com/sandeepkv93/license-activation-service/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// RateLimitPolicy combines a sliding sustained window with a refilling burst
// bucket. Backends that cannot model the bucket only honor the window.
type RateLimitPolicy struct {
	SustainedLimit    int
	SustainedWindow   time.Duration
	BurstCapacity     int
	BurstRefillPerSec float64
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

// NewRateLimiter is a process-local per-IP limiter of limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewScopedRateLimiter(NewLocalHybridLimiter(), NewRateLimitPolicy(limit, window), FailClosed, "api", nil)
}

func NewScopedRateLimiter(limiter Limiter, policy RateLimitPolicy, mode FailureMode, scope string, keyFunc func(r *http.Request) string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = ClientIPKey
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(policy),
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = ClientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", string(rl.mode))
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				writeRateLimitHeaders(w.Header(), rl.policy.SustainedLimit, 0, time.Now().Add(rl.policy.SustainedWindow))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.SustainedWindow))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.SustainedLimit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", string(rl.mode))
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", string(rl.mode))
			next.ServeHTTP(w, r)
		})
	}
}

type localHybridLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*hybridBucket
	nextSweep time.Time
	now       func() time.Time
}

type hybridBucket struct {
	tokens     float64
	lastRefill time.Time
	hits       []time.Time
}

func NewLocalHybridLimiter() Limiter {
	return &localHybridLimiter{
		buckets:   make(map[string]*hybridBucket),
		nextSweep: time.Now().Add(time.Minute),
		now:       time.Now,
	}
}

func (l *localHybridLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, b := range l.buckets {
			if now.Sub(b.lastRefill) > 2*policy.SustainedWindow {
				delete(l.buckets, k)
			}
		}
		l.nextSweep = now.Add(policy.SustainedWindow)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &hybridBucket{tokens: float64(policy.BurstCapacity), lastRefill: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(policy.BurstCapacity), b.tokens+elapsed*policy.BurstRefillPerSec)
		b.lastRefill = now
	}

	cutoff := now.Add(-policy.SustainedWindow)
	kept := b.hits[:0]
	for _, hit := range b.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	b.hits = kept

	var retry time.Duration
	if b.tokens < 1 {
		retry = time.Duration(math.Ceil((1 - b.tokens) / policy.BurstRefillPerSec * float64(time.Second)))
	}
	if len(b.hits) >= policy.SustainedLimit {
		if windowRetry := b.hits[0].Add(policy.SustainedWindow).Sub(now); windowRetry > retry {
			retry = windowRetry
		}
	}
	allowed := retry <= 0
	if allowed {
		b.tokens = math.Max(b.tokens-1, 0)
		b.hits = append(b.hits, now)
	} else if retry < time.Second {
		retry = time.Second
	}

	remaining := min(int(math.Floor(b.tokens)), policy.SustainedLimit-len(b.hits))
	resetAt := now.Add(policy.SustainedWindow)
	switch {
	case !allowed:
		resetAt = now.Add(retry)
	case len(b.hits) > 0:
		resetAt = b.hits[0].Add(policy.SustainedWindow)
	}
	return Decision{
		Allowed:    allowed,
		RetryAfter: retry,
		Remaining:  max(remaining, 0),
		ResetAt:    resetAt,
	}, nil
}

// NewRateLimitPolicy spreads limit requests over window with a burst equal to limit.
func NewRateLimitPolicy(limit int, window time.Duration) RateLimitPolicy {
	return normalizePolicy(RateLimitPolicy{SustainedLimit: limit, SustainedWindow: window})
}

func normalizePolicy(p RateLimitPolicy) RateLimitPolicy {
	if p.SustainedLimit <= 0 {
		p.SustainedLimit = 1
	}
	if p.SustainedWindow <= 0 {
		p.SustainedWindow = time.Minute
	}
	if p.BurstCapacity < p.SustainedLimit {
		p.BurstCapacity = p.SustainedLimit
	}
	if p.BurstRefillPerSec <= 0 {
		p.BurstRefillPerSec = float64(p.SustainedLimit) / p.SustainedWindow.Seconds()
	}
	return p
}

// ClientIPKey keys on the remote address; chi's RealIP middleware has already
// applied any trusted forwarding headers.
func ClientIPKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
