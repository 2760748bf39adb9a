package domain

import "time"

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

const DefaultMaxDevices = 1

type ActivationKey struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerID    string     `gorm:"size:64;index;not null" json:"owner_id"`
	KeyHash    string     `gorm:"size:160;uniqueIndex;not null" json:"-"`
	KeyPrefix  string     `gorm:"size:32;index" json:"key_prefix"`
	Status     KeyStatus  `gorm:"size:16;index;not null;default:active" json:"status"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`
	MaxDevices int        `gorm:"not null;default:1" json:"max_devices"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (ActivationKey) TableName() string { return "activation_keys" }

// IsExpired reports whether the key carries an expiry that is not after now.
func (k *ActivationKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// DeviceCap is the effective device limit; non-positive values fall back to the default.
func (k *ActivationKey) DeviceCap() int {
	if k.MaxDevices <= 0 {
		return DefaultMaxDevices
	}
	return k.MaxDevices
}

// KeyStatusesTransitionableTo lists the statuses a key may hold before moving to target.
// Revocation is terminal, so nothing ever leaves revoked.
func KeyStatusesTransitionableTo(target KeyStatus) []KeyStatus {
	switch target {
	case KeyStatusRevoked:
		return []KeyStatus{KeyStatusActive, KeyStatusRevoked}
	case KeyStatusActive:
		return []KeyStatus{KeyStatusActive}
	default:
		return nil
	}
}

func CanTransitionKeyStatus(from, to KeyStatus) bool {
	for _, s := range KeyStatusesTransitionableTo(to) {
		if s == from {
			return true
		}
	}
	return false
}
