package model

import "time"

// CacheSchemaVersion versions the payloads below. Readers treat a record
// with an unknown version as absent instead of guessing at its layout.
const CacheSchemaVersion = 1

// SlidingWindowRecord is the rolling timestamp log persisted per rate-limit
// key. Every timestamp is within [now-window, now] at read time; stale
// entries are pruned on each access.
type SlidingWindowRecord struct {
	SchemaVersion int           `json:"schema_version"`
	WindowStart   time.Time     `json:"window_start"`
	Window        time.Duration `json:"window"`
	Limit         int           `json:"limit"`
	Requests      []time.Time   `json:"requests"`
}

// BlacklistEntry is the durable record of a blacklisted IP. An IP is
// blacklisted iff an entry exists with ExpiresAt in the future.
type BlacklistEntry struct {
	SchemaVersion int       `json:"schema_version"`
	IpAddress     string    `json:"ip_address"`
	Reason        string    `json:"reason"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}
