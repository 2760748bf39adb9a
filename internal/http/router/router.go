package router

import (
	"net/http"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/health"
	"github.com/sandeepkv93/license-activation-service/internal/http/handler"
	"github.com/sandeepkv93/license-activation-service/internal/http/middleware"
	"github.com/sandeepkv93/license-activation-service/internal/http/response"
	"github.com/sandeepkv93/license-activation-service/internal/security"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Dependencies struct {
	KeyHandler           *handler.KeyHandler
	DeviceHandler        *handler.DeviceHandler
	JWTManager           *security.JWTManager
	InternalTokenHash    string
	CORSOrigins          []string
	APIRateLimitRPM      int
	ActivateRateLimitRPM int
	GlobalRateLimiter    RateLimiterFunc
	ActivateRateLimiter  RateLimiterFunc
	Readiness            *health.ProbeRunner
	EnableOTelHTTP       bool
}

type RateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(64 << 10))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	activateLimiter := dep.ActivateRateLimiter
	if activateLimiter == nil {
		activateLimiter = middleware.NewScopedRateLimiter(
			middleware.NewLocalHybridLimiter(),
			middleware.NewRateLimitPolicy(dep.ActivateRateLimitRPM, time.Minute),
			middleware.FailClosed,
			"activate",
			nil,
		).Middleware()
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(activateLimiter).Post("/activate", dep.DeviceHandler.Activate)
		r.With(middleware.InternalTokenMiddleware(dep.InternalTokenHash)).Post("/devices/deactivate", dep.DeviceHandler.Deactivate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(dep.JWTManager))
			r.Get("/keys", dep.KeyHandler.List)
			r.Post("/keys", dep.KeyHandler.Issue)
			r.Post("/keys/{id}/revoke", dep.KeyHandler.Revoke)
			r.Get("/devices", dep.DeviceHandler.List)
			r.Delete("/devices/{id}", dep.DeviceHandler.Unlink)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
