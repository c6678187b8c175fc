package dto

import "time"

// RateLimitResult is the outcome of a single rate-limit check. Denials are
// normal typed outcomes, not errors.
type RateLimitResult struct {
	IsAllowed         bool      `json:"is_allowed"`
	CurrentCount      int       `json:"current_count"`
	Limit             int       `json:"limit"`
	ResetsAt          time.Time `json:"resets_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds"`
	DenialReason      string    `json:"denial_reason,omitempty"`
	IsBlacklisted     bool      `json:"is_blacklisted"`
}

// Remaining returns how many requests are left in the current window.
func (r *RateLimitResult) Remaining() int {
	remaining := r.Limit - r.CurrentCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

type RateLimitStatus struct {
	Key           string    `json:"key"`
	CurrentCount  int       `json:"current_count"`
	Limit         int       `json:"limit"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	IsBlacklisted bool      `json:"is_blacklisted"`
}

type BlacklistRequest struct {
	IpAddress       string `json:"ip_address" validate:"required,ip"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=525600"`
	Reason          string `json:"reason" validate:"required,max=500"`
}

func (r BlacklistRequest) Validate() error {
	return GetValidator().Struct(r)
}

type BlacklistStatusResponse struct {
	IpAddress     string `json:"ip_address"`
	IsBlacklisted bool   `json:"is_blacklisted"`
}
