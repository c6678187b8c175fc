package model

import "time"

// AttendanceDevice is a physical biometric/attendance device registered to
// a tenant. API keys are always bound to one of these.
type AttendanceDevice struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text;not null"`
	TenantID     string    `json:"tenant_id" gorm:"not null;index;size:64"`
	Name         string    `json:"name" gorm:"not null;size:255"`
	SerialNumber string    `json:"serial_number" gorm:"size:128;index"`
	Location     string    `json:"location" gorm:"size:255"`
	IsDeleted    bool      `json:"is_deleted" gorm:"default:false;not null;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"not null"`
}
