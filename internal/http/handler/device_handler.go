package handler

import (
	"net/http"
	"strings"

	"github.com/sandeepkv93/license-activation-service/internal/http/middleware"
	"github.com/sandeepkv93/license-activation-service/internal/http/response"
	"github.com/sandeepkv93/license-activation-service/internal/observability"
	"github.com/sandeepkv93/license-activation-service/internal/service"

	"github.com/go-chi/chi/v5"
)

type DeviceHandler struct {
	svc service.ActivationServiceInterface
}

func NewDeviceHandler(svc service.ActivationServiceInterface) *DeviceHandler {
	return &DeviceHandler{svc: svc}
}

type activateRequest struct {
	Key               string  `json:"key"`
	DeviceFingerprint string  `json:"device_fingerprint"`
	Label             *string `json:"label"`
}

type activateResponse struct {
	OK              bool   `json:"ok"`
	ActivationKeyID string `json:"activation_key_id"`
	DeviceID        string `json:"device_id"`
}

type deactivateRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
}

// Activate is called by client applications holding a plaintext key; it does
// not require an owner session.
func (h *DeviceHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Key) == "" || strings.TrimSpace(req.DeviceFingerprint) == "" {
		writeServiceError(w, r, missingFields("key", "device_fingerprint"))
		return
	}
	res, err := h.svc.Activate(r.Context(), service.ActivateInput{
		Key:         req.Key,
		Fingerprint: req.DeviceFingerprint,
		Label:       req.Label,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, activateResponse{
		OK:              true,
		ActivationKeyID: res.ActivationKeyID,
		DeviceID:        res.DeviceID,
	})
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.ListDevices(r.Context(), middleware.OwnerIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, devices)
}

func (h *DeviceHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if err := h.svc.Unlink(r.Context(), deviceID, ownerID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, observability.AuditDeviceUnlinked, ownerID, "device_id", deviceID)
	response.JSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

// Deactivate removes a fingerprint everywhere. Routed behind the internal token.
func (h *DeviceHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.DeviceFingerprint) == "" {
		writeServiceError(w, r, missingFields("device_fingerprint"))
		return
	}
	if err := h.svc.Deactivate(r.Context(), req.DeviceFingerprint); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, observability.AuditDevicesDeactivated, "")
	response.JSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}
