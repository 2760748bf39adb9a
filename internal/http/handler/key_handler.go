package handler

import (
	"net/http"

	"github.com/sandeepkv93/license-activation-service/internal/http/middleware"
	"github.com/sandeepkv93/license-activation-service/internal/http/response"
	"github.com/sandeepkv93/license-activation-service/internal/observability"
	"github.com/sandeepkv93/license-activation-service/internal/service"

	"github.com/go-chi/chi/v5"
)

type KeyHandler struct {
	svc service.ActivationServiceInterface
}

func NewKeyHandler(svc service.ActivationServiceInterface) *KeyHandler {
	return &KeyHandler{svc: svc}
}

// Issue returns the plaintext exactly once.
func (h *KeyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	plaintext, err := h.svc.Issue(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, observability.AuditKeyIssued, ownerID)
	response.JSON(w, r, http.StatusCreated, map[string]string{"plaintext": plaintext})
}

func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.svc.ListKeys(r.Context(), middleware.OwnerIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, keys)
}

func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	ownerID := middleware.OwnerIDFromContext(r.Context())
	res, err := h.svc.Revoke(r.Context(), keyID, ownerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, observability.AuditKeyRevoked, ownerID,
		"key_id", keyID,
		"devices_revoked", res.DevicesRevoked,
		"cascade_failed", res.Note != "",
	)
	response.JSON(w, r, http.StatusOK, res)
}
