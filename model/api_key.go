package model

import "time"

// DeviceApiKey is a long-lived credential bound to a physical device.
// Only the SHA-256 hash of the key is ever stored; the plaintext exists
// once, at generation time, and is returned to the caller out-of-band.
type DeviceApiKey struct {
	ID          string `json:"id" gorm:"primaryKey;type:text;not null"`
	TenantID    string `json:"tenant_id" gorm:"not null;index;size:64"`
	DeviceID    string `json:"device_id" gorm:"not null;index;size:64"`
	ApiKeyHash  string `json:"-" gorm:"uniqueIndex;not null;size:64"`
	Description string `json:"description" gorm:"size:255"`

	IsActive   bool       `json:"is_active" gorm:"default:true;not null"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" gorm:"index"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" gorm:"index"`
	UsageCount int        `json:"usage_count" gorm:"default:0;not null"`

	// JSON array of allowed IPs; entries may be exact IPs, CIDR ranges or
	// "*". Empty means no restriction.
	AllowedIpAddresses string `json:"allowed_ip_addresses,omitempty" gorm:"type:text"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" gorm:"default:60;not null"`

	IsDeleted bool      `json:"is_deleted" gorm:"default:false;not null;index"`
	CreatedBy string    `json:"created_by" gorm:"size:128"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (k *DeviceApiKey) IsExpiredAt(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
