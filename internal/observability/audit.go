package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type AuditEvent string

const (
	AuditKeyIssued          AuditEvent = "activation_key.issued"
	AuditKeyRevoked         AuditEvent = "activation_key.revoked"
	AuditDeviceUnlinked     AuditEvent = "device.unlinked"
	AuditDevicesDeactivated AuditEvent = "device.deactivated"
)

// Audit records a state-changing call made by ownerID. Trusted backend calls
// pass an empty owner and are logged as "internal". Plaintext keys and
// fingerprints must never be passed in attrs.
func Audit(r *http.Request, event AuditEvent, ownerID string, attrs ...any) {
	if ownerID == "" {
		ownerID = "internal"
	}
	requestID := chimiddleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get("X-Request-Id")
	}
	slog.InfoContext(r.Context(), "audit",
		slog.String("event", string(event)),
		slog.String("owner_id", ownerID),
		slog.String("request_id", requestID),
		slog.Group("http", "method", r.Method, "path", r.URL.Path),
		slog.Group("details", attrs...),
	)
}
