package shared

const (
	UserID   = "user_id"
	DeviceID = "device_id"
	TenantID = "tenant_id"
	ApiKeyID = "api_key_id"

	// Endpoint categories for rate limiting
	EndpointAuthentication = "authentication"
	EndpointSuperAdmin     = "superadmin"
	EndpointGeneral        = "general"

	// Audit severities
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"

	// Audit action types
	ActionUnauthorizedAccessAttempt = "UNAUTHORIZED_ACCESS_ATTEMPT"
	ActionSecuritySettingChanged    = "SECURITY_SETTING_CHANGED"
	ActionApiKeyCreated             = "DEVICE_API_KEY_CREATED"
	ActionApiKeyRevoked             = "DEVICE_API_KEY_REVOKED"
	ActionApiKeyRotated             = "DEVICE_API_KEY_ROTATED"
	ActionApiKeyAuthFailed          = "DEVICE_API_KEY_AUTH_FAILED"
	ActionApiKeyAuthSuccess         = "DEVICE_API_KEY_AUTH_SUCCESS"
	ActionApiKeyRateLimited         = "DEVICE_API_KEY_RATE_LIMITED"

	// Security alert types / statuses
	AlertTypeUnauthorizedAccess = "UNAUTHORIZED_ACCESS"
	AlertStatusNew              = "NEW"
)
