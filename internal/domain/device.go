package domain

import "time"

type Device struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerID         string     `gorm:"size:64;index;not null" json:"owner_id"`
	ActivationKeyID string     `gorm:"size:36;not null;uniqueIndex:idx_devices_key_fingerprint,priority:1" json:"activation_key_id"`
	Fingerprint     string     `gorm:"size:255;not null;uniqueIndex:idx_devices_key_fingerprint,priority:2;index:idx_devices_fingerprint" json:"fingerprint"`
	Label           *string    `gorm:"size:255" json:"label,omitempty"`
	LastSeen        time.Time  `gorm:"not null" json:"last_seen"`
	RevokedAt       *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

func (d *Device) IsRevoked() bool { return d.RevokedAt != nil }
