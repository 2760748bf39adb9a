package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/http/response"
	"github.com/sandeepkv93/license-activation-service/internal/service"
)

const retryAfterUnavailable = 2 * time.Second

var errBodyTooLarge = errors.New("request body too large")

// writeServiceError maps service errors onto the response envelope. Store
// failures are logged with their cause and reported with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var storeErr *service.StoreError
	switch {
	case errors.Is(err, errBodyTooLarge):
		response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
	case errors.Is(err, service.ErrServiceUnavailable):
		slog.WarnContext(r.Context(), "activation store unavailable", "error", err)
		response.Unavailable(w, r, retryAfterUnavailable, "service temporarily unavailable")
	case errors.As(err, &storeErr):
		slog.ErrorContext(r.Context(), "activation store failure", "op", storeErr.Op, "error", storeErr.Err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
	case errors.Is(err, service.ErrUnauthorized):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	case errors.Is(err, service.ErrInvalidKey):
		response.Error(w, r, http.StatusBadRequest, "INVALID_KEY", "invalid or expired key", nil)
	case errors.Is(err, service.ErrDeviceLimitExceeded):
		response.Error(w, r, http.StatusForbidden, "DEVICE_LIMIT", "device limit reached", nil)
	case errors.Is(err, service.ErrNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, service.ErrInvalidRequest):
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	default:
		slog.ErrorContext(r.Context(), "unhandled service error", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
	}
}

// decodeJSON reads a single JSON object. An empty body decodes to the zero
// value so that field validation reports what is missing. A body cut off by
// the BodyLimit middleware is reported as errBodyTooLarge.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return fmt.Errorf("%w: malformed JSON body", service.ErrInvalidRequest)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected trailing data", service.ErrInvalidRequest)
	}
	return nil
}

func missingFields(names ...string) error {
	return fmt.Errorf("%w: missing %s", service.ErrInvalidRequest, joinOr(names))
}

func joinOr(names []string) string {
	switch len(names) {
	case 0:
		return "fields"
	case 1:
		return names[0]
	default:
		out := names[0]
		for _, n := range names[1 : len(names)-1] {
			out += ", " + n
		}
		return out + " or " + names[len(names)-1]
	}
}
