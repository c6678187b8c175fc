package handlers

import (
	"context"
	"time"

	"github.com/hrforge/sentinel_api/dto"
)

type RateLimitServiceInterface interface {
	BlacklistIP(ctx context.Context, ipAddress string, duration time.Duration, reason string) bool
	UnblacklistIP(ctx context.Context, ipAddress string) bool
	IsBlacklisted(ctx context.Context, ipAddress string) bool
	GetRateLimitStatus(ctx context.Context, key string) *dto.RateLimitStatus
	ResetRateLimit(ctx context.Context, key string) bool
}

type ApiKeyServiceInterface interface {
	GenerateApiKey(ctx context.Context, req *dto.GenerateApiKeyRequest, createdBy string) (*dto.GenerateApiKeyResponse, error)
	ValidateApiKey(ctx context.Context, plaintext, ipAddress string) *dto.ApiKeyValidationResult
	RevokeApiKey(ctx context.Context, apiKeyID, revokedBy string) error
	RotateApiKey(ctx context.Context, apiKeyID, rotatedBy string) (*dto.GenerateApiKeyResponse, error)
	GetApiKeyByID(ctx context.Context, apiKeyID string) (*dto.ApiKeyInfo, error)
	GetDeviceApiKeys(ctx context.Context, deviceID string) ([]dto.ApiKeyInfo, error)
	GetTenantApiKeys(ctx context.Context, tenantID string) ([]dto.ApiKeyInfo, error)
	GetExpiringApiKeys(ctx context.Context, within time.Duration) ([]dto.ApiKeyInfo, error)
	GetStaleApiKeys(ctx context.Context, unusedFor time.Duration) ([]dto.ApiKeyInfo, error)
}
