package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/domain"
	"github.com/sandeepkv93/license-activation-service/internal/health"
	"github.com/sandeepkv93/license-activation-service/internal/http/handler"
	"github.com/sandeepkv93/license-activation-service/internal/repository"
	"github.com/sandeepkv93/license-activation-service/internal/security"
	"github.com/sandeepkv93/license-activation-service/internal/service"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testInternalToken = "operator-token-0123456789"

type unhealthyChecker struct{}

func (unhealthyChecker) Check(ctx context.Context) health.CheckResult {
	return health.CheckResult{Name: "db", Healthy: false, Error: "db down"}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newRouterTestDeps(t *testing.T) Dependencies {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.ActivationKey{}, &domain.Device{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	svc := service.NewActivationService(
		repository.NewActivationStore(db),
		security.NewKeyCodec("DSWIFT"),
		service.NewInMemoryNegativeLookupCacheStore(),
		service.ActivationConfig{PrefixLookup: true, NegativeCacheTTL: time.Minute, StoreTimeout: 5 * time.Second},
	)
	hash, err := security.HashInternalToken(testInternalToken)
	if err != nil {
		t.Fatalf("hash internal token: %v", err)
	}
	return Dependencies{
		KeyHandler:           handler.NewKeyHandler(svc),
		DeviceHandler:        handler.NewDeviceHandler(svc),
		JWTManager:           security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456"),
		InternalTokenHash:    hash,
		CORSOrigins:          []string{"tauri://localhost"},
		APIRateLimitRPM:      1000,
		ActivateRateLimitRPM: 1000,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func bearer(t *testing.T, dep Dependencies, owner string) map[string]string {
	t.Helper()
	token, err := dep.JWTManager.SignAccessToken(owner, time.Hour)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rr.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, rr, nil)
	if env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rr.Body.String())
	}
	return env.Error.Code
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		r := NewRouter(newRouterTestDeps(t))
		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready, got %d %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		dep := newRouterTestDeps(t)
		dep.Readiness = health.NewProbeRunner(time.Second, 0, unhealthyChecker{})
		rr := perform(NewRouter(dep), http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if code := errorCode(t, rr); code != "DEPENDENCY_UNREADY" {
			t.Fatalf("expected DEPENDENCY_UNREADY, got %s", code)
		}
	})
}

func TestRouterActivationLifecycle(t *testing.T) {
	dep := newRouterTestDeps(t)
	r := NewRouter(dep)
	owner := bearer(t, dep, "U1")

	rr := perform(r, http.MethodPost, "/api/v1/keys", owner, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("issue expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var issued struct {
		Plaintext string `json:"plaintext"`
	}
	decode(t, rr, &issued)
	if !strings.HasPrefix(issued.Plaintext, "DSWIFT-") {
		t.Fatalf("unexpected plaintext %q", issued.Plaintext)
	}

	activate := func(fp string) *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{"key":%q,"device_fingerprint":%q,"label":"Studio"}`, issued.Plaintext, fp)
		return perform(r, http.MethodPost, "/api/v1/activate", nil, body)
	}

	rr = activate("fp-A")
	if rr.Code != http.StatusOK {
		t.Fatalf("activate expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var act struct {
		OK              bool   `json:"ok"`
		ActivationKeyID string `json:"activation_key_id"`
		DeviceID        string `json:"device_id"`
	}
	decode(t, rr, &act)
	if !act.OK || act.ActivationKeyID == "" || act.DeviceID == "" {
		t.Fatalf("unexpected activation payload %+v", act)
	}

	if rr = activate("fp-B"); rr.Code != http.StatusForbidden || errorCode(t, rr) != "DEVICE_LIMIT" {
		t.Fatalf("expected 403 DEVICE_LIMIT, got %d %s", rr.Code, rr.Body.String())
	}
	if rr = activate("fp-A"); rr.Code != http.StatusOK {
		t.Fatalf("re-activation expected 200, got %d", rr.Code)
	}

	rr = perform(r, http.MethodGet, "/api/v1/keys", owner, "")
	if rr.Code != http.StatusOK || strings.Contains(rr.Body.String(), "key_hash") {
		t.Fatalf("list keys expected 200 without hashes, got %d %s", rr.Code, rr.Body.String())
	}

	other := bearer(t, dep, "U2")
	if rr = perform(r, http.MethodPost, "/api/v1/keys/"+act.ActivationKeyID+"/revoke", other, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign revoke expected 404, got %d", rr.Code)
	}
	rr = perform(r, http.MethodPost, "/api/v1/keys/"+act.ActivationKeyID+"/revoke", owner, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("revoke expected 200 ok, got %d %s", rr.Code, rr.Body.String())
	}
	var revoked map[string]any
	decode(t, rr, &revoked)
	if len(revoked) != 1 || revoked["ok"] != true {
		t.Fatalf("revoke payload must be exactly {ok}, got %v", revoked)
	}

	if rr = activate("fp-A"); rr.Code != http.StatusBadRequest || errorCode(t, rr) != "INVALID_KEY" {
		t.Fatalf("activate after revoke expected 400 INVALID_KEY, got %d %s", rr.Code, rr.Body.String())
	}

	rr = perform(r, http.MethodGet, "/api/v1/devices", owner, "")
	var devices []struct {
		ID        string     `json:"id"`
		RevokedAt *time.Time `json:"revoked_at"`
	}
	decode(t, rr, &devices)
	if len(devices) != 1 || devices[0].RevokedAt == nil {
		t.Fatalf("expected one revoked device, got %+v", devices)
	}

	if rr = perform(r, http.MethodDelete, "/api/v1/devices/"+devices[0].ID, owner, ""); rr.Code != http.StatusOK {
		t.Fatalf("unlink expected 200, got %d", rr.Code)
	}
	if rr = perform(r, http.MethodDelete, "/api/v1/devices/"+devices[0].ID, owner, ""); rr.Code != http.StatusOK {
		t.Fatalf("repeated unlink expected 200, got %d", rr.Code)
	}
}

func TestRouterRequestValidationAndAuth(t *testing.T) {
	dep := newRouterTestDeps(t)
	r := NewRouter(dep)

	cases := []struct {
		name    string
		method  string
		target  string
		headers map[string]string
		body    string
		status  int
		code    string
	}{
		{"activate missing fingerprint", http.MethodPost, "/api/v1/activate", nil, `{"key":"DSWIFT-AAAA"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"activate empty body", http.MethodPost, "/api/v1/activate", nil, "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"activate malformed", http.MethodPost, "/api/v1/activate", nil, `{"key":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"activate unknown key", http.MethodPost, "/api/v1/activate", nil, `{"key":"DSWIFT-NOPE-NOPE-NOPE-NOPE","device_fingerprint":"fp"}`, http.StatusBadRequest, "INVALID_KEY"},
		{"activate wrong method", http.MethodGet, "/api/v1/activate", nil, "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"issue without token", http.MethodPost, "/api/v1/keys", nil, "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"list devices bad token", http.MethodGet, "/api/v1/devices", map[string]string{"Authorization": "Bearer nope"}, "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"deactivate without internal token", http.MethodPost, "/api/v1/devices/deactivate", nil, `{"device_fingerprint":"fp"}`, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"deactivate missing fingerprint", http.MethodPost, "/api/v1/devices/deactivate", map[string]string{"X-Internal-Token": testInternalToken}, `{}`, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := perform(r, tc.method, tc.target, tc.headers, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}

	rr := perform(r, http.MethodPost, "/api/v1/devices/deactivate", map[string]string{"X-Internal-Token": testInternalToken}, `{"device_fingerprint":"fp"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("trusted deactivate expected 200, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	r := NewRouter(newRouterTestDeps(t))
	rr := perform(r, http.MethodOptions, "/api/v1/activate", map[string]string{"Origin": "tauri://localhost"}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "tauri://localhost" {
		t.Fatalf("expected tauri origin allowed, got %v", rr.Header())
	}
}

func TestRouterActivateRateLimited(t *testing.T) {
	dep := newRouterTestDeps(t)
	dep.ActivateRateLimitRPM = 2
	r := NewRouter(dep)

	body := `{"key":"DSWIFT-NOPE-NOPE-NOPE-NOPE","device_fingerprint":"fp"}`
	for i := 0; i < 2; i++ {
		if rr := perform(r, http.MethodPost, "/api/v1/activate", nil, body); rr.Code != http.StatusBadRequest {
			t.Fatalf("request %d expected 400, got %d", i, rr.Code)
		}
	}
	rr := perform(r, http.MethodPost, "/api/v1/activate", nil, body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}
