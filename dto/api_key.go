package dto

import "time"

type GenerateApiKeyRequest struct {
	DeviceID           string     `json:"device_id" validate:"required"`
	Description        string     `json:"description" validate:"required,max=255"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	AllowedIpAddresses []string   `json:"allowed_ip_addresses,omitempty" validate:"omitempty,dive,ip_or_cidr"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute" validate:"omitempty,min=1,max=10000"`
}

func (r GenerateApiKeyRequest) Validate() error {
	return GetValidator().Struct(r)
}

// ApiKeyInfo is the sanitized view of a key returned to callers. The hash
// is never exposed.
type ApiKeyInfo struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	DeviceID           string     `json:"device_id"`
	Description        string     `json:"description"`
	IsActive           bool       `json:"is_active"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	UsageCount         int        `json:"usage_count"`
	AllowedIpAddresses []string   `json:"allowed_ip_addresses,omitempty"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
}

// GenerateApiKeyResponse carries the plaintext key exactly once. It cannot
// be recovered afterwards.
type GenerateApiKeyResponse struct {
	ApiKey       ApiKeyInfo `json:"api_key"`
	PlaintextKey string     `json:"plaintext_key"`
}

// ApiKeyValidationResult is the outcome of presenting a key. Failures are
// typed outcomes, not errors.
type ApiKeyValidationResult struct {
	IsValid           bool   `json:"is_valid"`
	ApiKeyID          string `json:"api_key_id,omitempty"`
	DeviceID          string `json:"device_id,omitempty"`
	TenantID          string `json:"tenant_id,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	RateLimitExceeded bool   `json:"rate_limit_exceeded"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}
