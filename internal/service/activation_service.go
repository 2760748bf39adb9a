package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/domain"
	"github.com/sandeepkv93/license-activation-service/internal/observability"
	"github.com/sandeepkv93/license-activation-service/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "license-activation-service/service"

	invalidKeyNamespace = "activation.invalid_key"

	// RevokeNoteDevicesFailed is returned when the key is revoked but the
	// device cascade could not be applied.
	RevokeNoteDevicesFailed = "Key revoked; failed to update devices"
)

type ActivationConfig struct {
	DefaultMaxDevices int
	IssueMaxAttempts  int
	StoreTimeout      time.Duration
	PrefixLookup      bool
	NegativeCacheTTL  time.Duration
}

type ActivateInput struct {
	Key         string
	Fingerprint string
	Label       *string
}

type ActivationResult struct {
	ActivationKeyID string `json:"activation_key_id"`
	DeviceID        string `json:"device_id"`
	Reactivated     bool   `json:"reactivated"`
}

type RevokeResult struct {
	OK             bool   `json:"ok"`
	Note           string `json:"note,omitempty"`
	DevicesRevoked int64  `json:"-"`
}

type KeyView struct {
	ID         string           `json:"id"`
	KeyPrefix  string           `json:"key_prefix"`
	Status     domain.KeyStatus `json:"status"`
	MaxDevices int              `json:"max_devices"`
	ExpiresAt  *time.Time       `json:"expires_at"`
	CreatedAt  time.Time        `json:"created_at"`
}

type DeviceView struct {
	ID              string     `json:"id"`
	ActivationKeyID string     `json:"activation_key_id"`
	Label           *string    `json:"label"`
	Fingerprint     string     `json:"fingerprint"`
	LastSeen        time.Time  `json:"last_seen"`
	RevokedAt       *time.Time `json:"revoked_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ActivationService struct {
	store    repository.ActivationStore
	codec    KeyCodec
	negCache NegativeLookupCacheStore
	cfg      ActivationConfig
	now      func() time.Time
	tracer   trace.Tracer
}

func NewActivationService(store repository.ActivationStore, codec KeyCodec, negCache NegativeLookupCacheStore, cfg ActivationConfig) *ActivationService {
	if negCache == nil {
		negCache = NewNoopNegativeLookupCacheStore()
	}
	if cfg.DefaultMaxDevices < 1 {
		cfg.DefaultMaxDevices = domain.DefaultMaxDevices
	}
	if cfg.IssueMaxAttempts < 1 {
		cfg.IssueMaxAttempts = 3
	}
	return &ActivationService{
		store:    store,
		codec:    codec,
		negCache: negCache,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer(tracerName),
	}
}

// Issue creates a fresh active key for ownerID and returns its plaintext.
// The plaintext is never stored and cannot be recovered later.
func (s *ActivationService) Issue(ctx context.Context, ownerID string) (plaintext string, err error) {
	ctx, finish := s.begin(ctx, "issue")
	defer func() { finish(err) }()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", ErrUnauthorized
	}

	for attempt := 1; attempt <= s.cfg.IssueMaxAttempts; attempt++ {
		candidate, genErr := s.codec.Generate()
		if genErr != nil {
			return "", fmt.Errorf("generate activation key: %w", genErr)
		}
		hash, hashErr := s.codec.Hash(candidate)
		if hashErr != nil {
			return "", fmt.Errorf("hash activation key: %w", hashErr)
		}
		key := &domain.ActivationKey{
			OwnerID:    ownerID,
			KeyHash:    hash,
			KeyPrefix:  s.codec.PrefixFor(candidate),
			Status:     domain.KeyStatusActive,
			MaxDevices: s.cfg.DefaultMaxDevices,
		}
		insertErr := s.call(ctx, "insert_key", func(ctx context.Context) error {
			return s.store.InsertKey(ctx, key)
		})
		if errors.Is(insertErr, repository.ErrDuplicateKeyHash) {
			slog.WarnContext(ctx, "activation key hash collision, retrying", "attempt", attempt)
			continue
		}
		if insertErr != nil {
			return "", insertErr
		}
		if cacheErr := s.negCache.InvalidateNamespace(ctx, invalidKeyNamespace); cacheErr != nil {
			slog.WarnContext(ctx, "invalidate negative activation cache failed", "error", cacheErr)
		}
		slog.InfoContext(ctx, "activation key issued", "key_id", key.ID, "owner_id", ownerID, "key_prefix", key.KeyPrefix)
		return candidate, nil
	}
	return "", &StoreError{Op: "insert_key", Err: repository.ErrDuplicateKeyHash}
}

// Activate binds fingerprint to the key matching plaintext. A fingerprint that
// is already bound to the key is refreshed even when the key is at its cap.
func (s *ActivationService) Activate(ctx context.Context, in ActivateInput) (res *ActivationResult, err error) {
	ctx, finish := s.begin(ctx, "activate")
	defer func() { finish(err) }()

	plaintext := strings.TrimSpace(in.Key)
	fingerprint := strings.TrimSpace(in.Fingerprint)
	if plaintext == "" || fingerprint == "" {
		return nil, ErrInvalidRequest
	}

	cacheKey := hashToken(plaintext)
	if hit, cacheErr := s.negCache.Get(ctx, invalidKeyNamespace, cacheKey); cacheErr != nil {
		observability.RecordNegativeCacheEvent(ctx, "error")
		slog.WarnContext(ctx, "negative activation cache lookup failed", "error", cacheErr)
	} else if hit {
		observability.RecordNegativeCacheEvent(ctx, "hit")
		return nil, ErrInvalidKey
	} else {
		observability.RecordNegativeCacheEvent(ctx, "miss")
	}

	key, err := s.findKey(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	if key == nil || key.IsExpired(s.now()) {
		s.rememberInvalid(ctx, cacheKey)
		return nil, ErrInvalidKey
	}

	device := &domain.Device{
		Fingerprint: fingerprint,
		Label:       in.Label,
		LastSeen:    s.now(),
	}
	var bound repository.BindResult
	err = s.call(ctx, "bind_device", func(ctx context.Context) error {
		var bindErr error
		bound, bindErr = s.store.BindDevice(ctx, key, device)
		return bindErr
	})
	switch {
	case errors.Is(err, repository.ErrDeviceLimitExceeded):
		return nil, ErrDeviceLimitExceeded
	case errors.Is(err, repository.ErrKeyNotActive):
		// revoked between lookup and bind
		return nil, ErrInvalidKey
	case err != nil:
		return nil, err
	}

	slog.InfoContext(ctx, "device activated",
		"key_id", key.ID,
		"device_id", bound.DeviceID,
		"reactivated", bound.Reactivated,
	)
	return &ActivationResult{
		ActivationKeyID: key.ID,
		DeviceID:        bound.DeviceID,
		Reactivated:     bound.Reactivated,
	}, nil
}

// Revoke marks the key revoked and best-effort revokes its devices. Missing
// and foreign keys both report ErrNotFound.
func (s *ActivationService) Revoke(ctx context.Context, keyID, ownerID string) (res *RevokeResult, err error) {
	ctx, finish := s.begin(ctx, "revoke")
	defer func() { finish(err) }()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrUnauthorized
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, ErrInvalidRequest
	}

	var updated []domain.ActivationKey
	err = s.call(ctx, "update_key_status", func(ctx context.Context) error {
		var updateErr error
		updated, updateErr = s.store.UpdateKeyStatus(ctx, keyID, ownerID, domain.KeyStatusRevoked)
		return updateErr
	})
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, ErrNotFound
	}

	result := &RevokeResult{OK: true}
	cascadeErr := s.call(ctx, "revoke_devices", func(ctx context.Context) error {
		n, revokeErr := s.store.RevokeDevicesForKey(ctx, keyID, ownerID)
		result.DevicesRevoked = n
		return revokeErr
	})
	if cascadeErr != nil {
		slog.ErrorContext(ctx, "revoke device cascade failed", "key_id", keyID, "error", cascadeErr)
		result.Note = RevokeNoteDevicesFailed
	}
	slog.InfoContext(ctx, "activation key revoked", "key_id", keyID, "owner_id", ownerID, "devices_revoked", result.DevicesRevoked)
	return result, nil
}

// Unlink removes one of ownerID's devices. Unknown or foreign ids are a no-op.
func (s *ActivationService) Unlink(ctx context.Context, deviceID, ownerID string) (err error) {
	ctx, finish := s.begin(ctx, "unlink")
	defer func() { finish(err) }()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return ErrUnauthorized
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrInvalidRequest
	}
	return s.call(ctx, "delete_device", func(ctx context.Context) error {
		_, deleteErr := s.store.DeleteDevice(ctx, deviceID, ownerID)
		return deleteErr
	})
}

// Deactivate deletes every device row with the fingerprint, across all keys
// and owners. Callers must be trusted.
func (s *ActivationService) Deactivate(ctx context.Context, fingerprint string) (err error) {
	ctx, finish := s.begin(ctx, "deactivate")
	defer func() { finish(err) }()

	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return ErrInvalidRequest
	}
	var removed int64
	err = s.call(ctx, "delete_devices_by_fingerprint", func(ctx context.Context) error {
		var deleteErr error
		removed, deleteErr = s.store.DeleteDevicesByFingerprint(ctx, fingerprint)
		return deleteErr
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "devices deactivated by fingerprint", "removed", removed)
	return nil
}

func (s *ActivationService) ListKeys(ctx context.Context, ownerID string) (views []KeyView, err error) {
	ctx, finish := s.begin(ctx, "list_keys")
	defer func() { finish(err) }()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrUnauthorized
	}
	var keys []domain.ActivationKey
	err = s.call(ctx, "list_keys", func(ctx context.Context) error {
		var listErr error
		keys, listErr = s.store.ListKeysByOwner(ctx, ownerID)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	views = make([]KeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, KeyView{
			ID:         k.ID,
			KeyPrefix:  k.KeyPrefix,
			Status:     k.Status,
			MaxDevices: k.MaxDevices,
			ExpiresAt:  k.ExpiresAt,
			CreatedAt:  k.CreatedAt,
		})
	}
	return views, nil
}

func (s *ActivationService) ListDevices(ctx context.Context, ownerID string) (views []DeviceView, err error) {
	ctx, finish := s.begin(ctx, "list_devices")
	defer func() { finish(err) }()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrUnauthorized
	}
	var devices []domain.Device
	err = s.call(ctx, "list_devices", func(ctx context.Context) error {
		var listErr error
		devices, listErr = s.store.ListDevicesByOwner(ctx, ownerID)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	views = make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, DeviceView{
			ID:              d.ID,
			ActivationKeyID: d.ActivationKeyID,
			Label:           d.Label,
			Fingerprint:     d.Fingerprint,
			LastSeen:        d.LastSeen,
			RevokedAt:       d.RevokedAt,
			CreatedAt:       d.CreatedAt,
		})
	}
	return views, nil
}

// findKey returns the non-revoked key whose hash verifies against plaintext,
// or nil. With prefix lookup the candidate set is narrowed first, but every
// candidate is still verified.
func (s *ActivationService) findKey(ctx context.Context, plaintext string) (*domain.ActivationKey, error) {
	prefix := ""
	if s.cfg.PrefixLookup {
		prefix = s.codec.PrefixFor(plaintext)
	}
	var candidates []domain.ActivationKey
	err := s.call(ctx, "list_non_revoked_keys", func(ctx context.Context) error {
		var listErr error
		candidates, listErr = s.store.ListNonRevokedKeys(ctx, prefix)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if s.codec.Verify(plaintext, candidates[i].KeyHash) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (s *ActivationService) rememberInvalid(ctx context.Context, cacheKey string) {
	if s.cfg.NegativeCacheTTL <= 0 {
		return
	}
	if err := s.negCache.Set(ctx, invalidKeyNamespace, cacheKey, s.cfg.NegativeCacheTTL); err != nil {
		slog.WarnContext(ctx, "negative activation cache write failed", "error", err)
	}
}

// call runs one store operation under the configured timeout and normalizes
// its error. Store sentinels the service interprets pass through unchanged.
func (s *ActivationService) call(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx := ctx
	if s.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()
	}
	err := fn(callCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDuplicateKeyHash),
		errors.Is(err, repository.ErrDeviceLimitExceeded),
		errors.Is(err, repository.ErrKeyNotActive):
		return err
	default:
		return newStoreError(op, err, callCtx)
	}
}

func (s *ActivationService) begin(ctx context.Context, operation string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "activation."+operation)
	return ctx, func(err error) {
		outcome := outcomeOf(err)
		span.SetAttributes(attribute.String("activation.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		observability.RecordActivationEvent(ctx, operation, outcome, time.Since(start))
	}
}
