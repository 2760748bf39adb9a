package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureDefaultLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestAuditRecordsOwnerAndDetails(t *testing.T) {
	buf := captureDefaultLogger(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/keys/k1/revoke", nil)
	req.Header.Set("X-Request-Id", "req-42")

	Audit(req, AuditKeyRevoked, "owner-1", "key_id", "k1", "devices_revoked", 2)

	var rec struct {
		Event     string         `json:"event"`
		OwnerID   string         `json:"owner_id"`
		RequestID string         `json:"request_id"`
		HTTP      map[string]any `json:"http"`
		Details   map[string]any `json:"details"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode audit record: %v (%s)", err, buf.String())
	}
	if rec.Event != string(AuditKeyRevoked) || rec.OwnerID != "owner-1" || rec.RequestID != "req-42" {
		t.Fatalf("unexpected audit record %+v", rec)
	}
	if rec.HTTP["path"] != "/api/v1/keys/k1/revoke" || rec.Details["key_id"] != "k1" {
		t.Fatalf("missing http or detail attrs: %+v", rec)
	}
}

func TestAuditMarksTrustedCallsInternal(t *testing.T) {
	buf := captureDefaultLogger(t)
	Audit(httptest.NewRequest(http.MethodPost, "/api/v1/devices/deactivate", nil), AuditDevicesDeactivated, "")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode audit record: %v", err)
	}
	if rec["owner_id"] != "internal" {
		t.Fatalf("expected internal owner, got %v", rec["owner_id"])
	}
}
