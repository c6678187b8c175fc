package model

import "time"

// AuditLog records a security-relevant event. Metadata is a JSON blob and
// must never contain plaintext credentials.
type AuditLog struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text;not null"`
	ActionType  string    `json:"action_type" gorm:"not null;index;size:64"`
	Severity    string    `json:"severity" gorm:"not null;size:16"`
	UserID      *string   `json:"user_id,omitempty" gorm:"index;size:64"`
	Description string    `json:"description" gorm:"type:text"`
	Metadata    string    `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null;index"`
}

// SecurityAlert is raised for events that need operator attention, e.g. an
// auto-blacklisted IP.
type SecurityAlert struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text;not null"`
	AlertType   string    `json:"alert_type" gorm:"not null;index;size:64"`
	Severity    string    `json:"severity" gorm:"not null;size:16"`
	Status      string    `json:"status" gorm:"not null;size:32"`
	Title       string    `json:"title" gorm:"size:255"`
	Description string    `json:"description" gorm:"type:text"`
	IpAddress   string    `json:"ip_address" gorm:"size:64;index"`
	RiskScore   int       `json:"risk_score" gorm:"default:0;not null"`
	DetectedAt  time.Time `json:"detected_at" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
}
