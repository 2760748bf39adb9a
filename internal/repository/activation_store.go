package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/license-activation-service/internal/domain"
	"github.com/sandeepkv93/license-activation-service/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicateKeyHash        = errors.New("activation key hash already exists")
	ErrDeviceLimitExceeded     = errors.New("device limit reached")
	ErrKeyNotActive            = errors.New("activation key is not active")
	ErrInvalidStatusTransition = errors.New("invalid activation key status transition")
)

// BindResult is the outcome of an atomic device bind.
type BindResult struct {
	DeviceID    string
	Reactivated bool
}

// ActivationStore persists activation keys and the devices bound to them.
// Owner-scoped mutations match on both id and owner so that a foreign row is
// indistinguishable from a missing one.
type ActivationStore interface {
	ListNonRevokedKeys(ctx context.Context, prefix string) ([]domain.ActivationKey, error)
	ListKeysByOwner(ctx context.Context, ownerID string) ([]domain.ActivationKey, error)
	InsertKey(ctx context.Context, key *domain.ActivationKey) error
	UpdateKeyStatus(ctx context.Context, id, ownerID string, status domain.KeyStatus) ([]domain.ActivationKey, error)

	CountDevices(ctx context.Context, activationKeyID, ownerID string) (int64, error)
	UpsertDevice(ctx context.Context, device *domain.Device) (string, error)
	BindDevice(ctx context.Context, key *domain.ActivationKey, device *domain.Device) (BindResult, error)
	ListDevicesByOwner(ctx context.Context, ownerID string) ([]domain.Device, error)
	RevokeDevicesForKey(ctx context.Context, activationKeyID, ownerID string) (int64, error)
	DeleteDevice(ctx context.Context, id, ownerID string) (int64, error)
	DeleteDevicesByFingerprint(ctx context.Context, fingerprint string) (int64, error)
}

type GormActivationStore struct{ db *gorm.DB }

func NewActivationStore(db *gorm.DB) *GormActivationStore { return &GormActivationStore{db: db} }

func (r *GormActivationStore) ListNonRevokedKeys(ctx context.Context, prefix string) ([]domain.ActivationKey, error) {
	var keys []domain.ActivationKey
	q := r.db.WithContext(ctx).Where("status <> ?", domain.KeyStatusRevoked)
	if prefix != "" {
		q = q.Where("key_prefix = ?", prefix)
	}
	if err := q.Find(&keys).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "activation_key", "list_non_revoked", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "activation_key", "list_non_revoked", "success")
	return keys, nil
}

func (r *GormActivationStore) ListKeysByOwner(ctx context.Context, ownerID string) ([]domain.ActivationKey, error) {
	var keys []domain.ActivationKey
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "activation_key", "list_by_owner", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "activation_key", "list_by_owner", "success")
	return keys, nil
}

func (r *GormActivationStore) InsertKey(ctx context.Context, key *domain.ActivationKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "activation_key", "insert", "conflict")
			return ErrDuplicateKeyHash
		}
		observability.RecordRepositoryOperation(ctx, "activation_key", "insert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "activation_key", "insert", "success")
	return nil
}

// UpdateKeyStatus returns the updated rows; an empty slice means nothing matched id+owner.
func (r *GormActivationStore) UpdateKeyStatus(ctx context.Context, id, ownerID string, status domain.KeyStatus) ([]domain.ActivationKey, error) {
	from := domain.KeyStatusesTransitionableTo(status)
	if len(from) == 0 {
		observability.RecordRepositoryOperation(ctx, "activation_key", "update_status", "error")
		return nil, ErrInvalidStatusTransition
	}
	db := r.db.WithContext(ctx)
	res := db.Model(&domain.ActivationKey{}).
		Where("id = ? AND owner_id = ? AND status IN ?", id, ownerID, from).
		Update("status", status)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "activation_key", "update_status", "error")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "activation_key", "update_status", "not_found")
		return []domain.ActivationKey{}, nil
	}
	var updated []domain.ActivationKey
	if err := db.Where("id = ? AND owner_id = ?", id, ownerID).Find(&updated).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "activation_key", "update_status", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "activation_key", "update_status", "success")
	return updated, nil
}

func (r *GormActivationStore) CountDevices(ctx context.Context, activationKeyID, ownerID string) (int64, error) {
	count, err := countDevices(r.db.WithContext(ctx), activationKeyID, ownerID)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device", "count", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "device", "count", "success")
	return count, nil
}

func (r *GormActivationStore) UpsertDevice(ctx context.Context, device *domain.Device) (string, error) {
	id, err := upsertDevice(r.db.WithContext(ctx), device)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device", "upsert", "error")
		return "", err
	}
	observability.RecordRepositoryOperation(ctx, "device", "upsert", "success")
	return id, nil
}

// BindDevice runs the re-activation check, the device cap check and the upsert
// in one transaction holding a row lock on the key, so concurrent binds for the
// same key cannot both pass the cap.
func (r *GormActivationStore) BindDevice(ctx context.Context, key *domain.ActivationKey, device *domain.Device) (BindResult, error) {
	var result BindResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked domain.ActivationKey
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND status <> ?", key.ID, domain.KeyStatusRevoked).
			First(&locked).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrKeyNotActive
			}
			return err
		}

		var existing domain.Device
		err = tx.Where("activation_key_id = ? AND fingerprint = ?", locked.ID, device.Fingerprint).Take(&existing).Error
		switch {
		case err == nil:
			result.Reactivated = true
		case errors.Is(err, gorm.ErrRecordNotFound):
			count, err := countDevices(tx, locked.ID, locked.OwnerID)
			if err != nil {
				return err
			}
			if count >= int64(locked.DeviceCap()) {
				return ErrDeviceLimitExceeded
			}
		default:
			return err
		}

		device.ActivationKeyID = locked.ID
		device.OwnerID = locked.OwnerID
		id, err := upsertDevice(tx, device)
		if err != nil {
			return err
		}
		result.DeviceID = id
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDeviceLimitExceeded):
			observability.RecordRepositoryOperation(ctx, "device", "bind", "limit_exceeded")
		case errors.Is(err, ErrKeyNotActive):
			observability.RecordRepositoryOperation(ctx, "device", "bind", "key_not_active")
		default:
			observability.RecordRepositoryOperation(ctx, "device", "bind", "error")
		}
		return BindResult{}, err
	}
	observability.RecordRepositoryOperation(ctx, "device", "bind", "success")
	return result, nil
}

func (r *GormActivationStore) ListDevicesByOwner(ctx context.Context, ownerID string) ([]domain.Device, error) {
	var devices []domain.Device
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&devices).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device", "list_by_owner", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "device", "list_by_owner", "success")
	return devices, nil
}

func (r *GormActivationStore) RevokeDevicesForKey(ctx context.Context, activationKeyID, ownerID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Device{}).
		Where("activation_key_id = ? AND owner_id = ? AND revoked_at IS NULL", activationKeyID, ownerID).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device", "revoke_for_key", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "device", "revoke_for_key", "success")
	return res.RowsAffected, nil
}

func (r *GormActivationStore) DeleteDevice(ctx context.Context, id, ownerID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&domain.Device{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device", "delete", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "device", "delete", "success")
	return res.RowsAffected, nil
}

func (r *GormActivationStore) DeleteDevicesByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		Delete(&domain.Device{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device", "delete_by_fingerprint", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "device", "delete_by_fingerprint", "success")
	return res.RowsAffected, nil
}

func countDevices(db *gorm.DB, activationKeyID, ownerID string) (int64, error) {
	var count int64
	err := db.Model(&domain.Device{}).
		Where("activation_key_id = ? AND owner_id = ?", activationKeyID, ownerID).
		Count(&count).Error
	return count, err
}

// upsertDevice inserts or refreshes the row for (activation_key_id, fingerprint)
// and reloads it, since on conflict the surviving id is the stored one.
// An absent label keeps whatever label the device already has.
func upsertDevice(db *gorm.DB, device *domain.Device) (string, error) {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.LastSeen.IsZero() {
		device.LastSeen = time.Now().UTC()
	}
	updates := []string{"last_seen", "updated_at"}
	if device.Label != nil {
		updates = append(updates, "label")
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "activation_key_id"}, {Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(device).Error
	if err != nil {
		return "", err
	}
	var stored domain.Device
	if err := db.Where("activation_key_id = ? AND fingerprint = ?", device.ActivationKeyID, device.Fingerprint).
		Take(&stored).Error; err != nil {
		return "", err
	}
	*device = stored
	return stored.ID, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
