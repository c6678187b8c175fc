package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hrforge/sentinel_api/dto"
	"github.com/hrforge/sentinel_api/model"
	"github.com/hrforge/sentinel_api/shared"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ApiKeyService manages long-lived device credentials: generation,
// validation, rotation and revocation. Plaintext keys exist only at
// generation time; storage and lookup go through the SHA-256 hash.
type ApiKeyService struct {
	appContext.DefaultService

	dbSvc    *DatabaseService
	auditSvc SecurityAuditor

	throttle *minuteThrottle

	nowFn func() time.Time
}

const API_KEY_SVC = "api_key_svc"

const (
	// 48 random bytes encode to a 64 char base64url key.
	apiKeyBytes = 48

	defaultKeyLifetime        = 365 * 24 * time.Hour
	defaultRateLimitPerMinute = 60
)

func (svc ApiKeyService) Id() string {
	return API_KEY_SVC
}

func (svc *ApiKeyService) Configure(ctx *appContext.Context) error {
	svc.throttle = newMinuteThrottle()
	svc.nowFn = time.Now
	return svc.DefaultService.Configure(ctx)
}

func (svc *ApiKeyService) Start() error {
	svc.dbSvc = svc.Service(DATABASE_SVC).(*DatabaseService)
	svc.auditSvc = svc.Service(AUDIT_SVC).(*AuditService)
	return nil
}

// ==================== KEY GENERATION ====================

// GenerateApiKey mints a new credential for a registered device. The
// plaintext key is returned exactly once and never persisted or logged.
func (svc *ApiKeyService) GenerateApiKey(ctx context.Context, req *dto.GenerateApiKeyRequest, createdBy string) (*dto.GenerateApiKeyResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, shared.NewAppErrorWithData(http.StatusBadRequest, "Validation failed", dto.FormatValidationErrors(err))
	}

	device, err := svc.dbSvc.FindDevice(req.DeviceID)
	if err != nil {
		return nil, err
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil {
		t := svc.nowFn().Add(defaultKeyLifetime)
		expiresAt = &t
	}

	rateLimit := req.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = defaultRateLimitPerMinute
	}

	return svc.create(ctx, device, req.Description, expiresAt, req.AllowedIpAddresses, rateLimit, createdBy)
}

func (svc *ApiKeyService) create(ctx context.Context, device *model.AttendanceDevice, description string, expiresAt *time.Time, allowedIPs []string, rateLimit int, createdBy string) (*dto.GenerateApiKeyResponse, error) {
	plaintext, err := generateSecureApiKey()
	if err != nil {
		log.WithError(err).Error("Failed to generate API key material")
		return nil, shared.NewAppError(http.StatusInternalServerError, "Failed to generate API key")
	}

	allowedJSON := ""
	if len(allowedIPs) > 0 {
		allowedJSON, err = sonic.MarshalString(allowedIPs)
		if err != nil {
			return nil, shared.NewAppError(http.StatusBadRequest, "Invalid allowed IP list")
		}
	}

	id, _ := uuid.NewV7()
	now := svc.nowFn()

	key := &model.DeviceApiKey{
		ID:                 id.String(),
		TenantID:           device.TenantID,
		DeviceID:           device.ID,
		ApiKeyHash:         hashApiKey(plaintext),
		Description:        description,
		IsActive:           true,
		ExpiresAt:          expiresAt,
		AllowedIpAddresses: allowedJSON,
		RateLimitPerMinute: rateLimit,
		CreatedBy:          createdBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := svc.dbSvc.Db().WithContext(ctx).Create(key).Error; err != nil {
		return nil, svc.dbSvc.HandleError(err)
	}

	log.WithFields(log.Fields{
		"api_key_id": key.ID,
		"device_id":  key.DeviceID,
		"tenant_id":  key.TenantID,
	}).Info("Device API key generated")

	if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionApiKeyCreated, shared.SeverityInfo, &createdBy,
		fmt.Sprintf("API key generated for device %s", device.ID),
		map[string]interface{}{
			"api_key_id": key.ID,
			"device_id":  device.ID,
			"expires_at": expiresAt,
		}); err != nil {
		log.WithError(err).Warn("Failed to audit API key generation")
	}

	return &dto.GenerateApiKeyResponse{
		ApiKey:       svc.toInfo(key),
		PlaintextKey: plaintext,
	}, nil
}

// ==================== KEY VALIDATION ====================

// ValidateApiKey checks a presented plaintext key and, on success,
// records the usage. Ordering: existence, active flag, expiry, IP
// allow-list, per-key throttle. Failures are typed results, not errors.
func (svc *ApiKeyService) ValidateApiKey(ctx context.Context, plaintext, ipAddress string) *dto.ApiKeyValidationResult {
	now := svc.nowFn()

	if plaintext == "" {
		RecordApiKeyValidation(OutcomeInvalid)
		return &dto.ApiKeyValidationResult{IsValid: false, FailureReason: "API key is required"}
	}

	hash := hashApiKey(plaintext)

	var key model.DeviceApiKey
	err := svc.dbSvc.Db().WithContext(ctx).
		Where("api_key_hash = ? AND is_deleted = ?", hash, false).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RecordApiKeyValidation(OutcomeInvalid)
			svc.auditAuthFailure(ctx, nil, ipAddress, "Invalid API key")
			return &dto.ApiKeyValidationResult{IsValid: false, FailureReason: "Invalid API key"}
		}
		log.WithError(err).Error("API key lookup failed")
		RecordApiKeyValidation(OutcomeCheckFailed)
		return &dto.ApiKeyValidationResult{IsValid: false, FailureReason: "API key validation error"}
	}

	// The unique index already matched the hash; this comparison is the
	// final gate and runs in constant time.
	if !constantTimeEquals(key.ApiKeyHash, hash) {
		RecordApiKeyValidation(OutcomeInvalid)
		svc.auditAuthFailure(ctx, &key, ipAddress, "Invalid API key")
		return &dto.ApiKeyValidationResult{IsValid: false, FailureReason: "Invalid API key"}
	}

	if !key.IsActive {
		RecordApiKeyValidation(OutcomeInactive)
		svc.auditAuthFailure(ctx, &key, ipAddress, "API key is inactive")
		return &dto.ApiKeyValidationResult{IsValid: false, FailureReason: "API key is inactive"}
	}

	if key.IsExpiredAt(now) {
		reason := fmt.Sprintf("API key expired on %s", key.ExpiresAt.Format("2006-01-02"))
		RecordApiKeyValidation(OutcomeExpired)
		svc.auditAuthFailure(ctx, &key, ipAddress, reason)
		return &dto.ApiKeyValidationResult{
			IsValid:       false,
			FailureReason: reason,
		}
	}

	if !svc.isIpAllowed(key.AllowedIpAddresses, ipAddress) {
		RecordApiKeyValidation(OutcomeIPRejected)
		svc.auditAuthFailure(ctx, &key, ipAddress, "IP address not allowed")
		return &dto.ApiKeyValidationResult{IsValid: false, FailureReason: "IP address not allowed"}
	}

	if !svc.throttle.allow(key.ApiKeyHash, key.RateLimitPerMinute, now) {
		RecordApiKeyValidation(OutcomeThrottled)
		if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionApiKeyRateLimited, shared.SeverityWarning, nil,
			fmt.Sprintf("API key rate limit exceeded for device %s", key.DeviceID),
			map[string]interface{}{
				"api_key_id": key.ID,
				"device_id":  key.DeviceID,
				"ip_address": ipAddress,
				"limit":      key.RateLimitPerMinute,
			}); err != nil {
			log.WithError(err).Warn("Failed to audit API key throttle event")
		}
		return &dto.ApiKeyValidationResult{
			IsValid:           false,
			FailureReason:     "Rate limit exceeded",
			RateLimitExceeded: true,
			RetryAfterSeconds: 60 - now.Second(),
		}
	}

	if err := svc.dbSvc.Db().WithContext(ctx).Model(&model.DeviceApiKey{}).
		Where("id = ?", key.ID).
		Updates(map[string]interface{}{
			"last_used_at": now,
			"usage_count":  gorm.Expr("usage_count + 1"),
			"updated_at":   now,
		}).Error; err != nil {
		// Usage bookkeeping must not reject an otherwise valid key.
		log.WithError(err).WithField("api_key_id", key.ID).Warn("Failed to record API key usage")
	}

	RecordApiKeyValidation(OutcomeValid)

	if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionApiKeyAuthSuccess, shared.SeverityInfo, nil,
		fmt.Sprintf("API key authenticated for device %s", key.DeviceID),
		map[string]interface{}{
			"api_key_id": key.ID,
			"device_id":  key.DeviceID,
			"ip_address": ipAddress,
		}); err != nil {
		log.WithError(err).Warn("Failed to audit API key auth success")
	}

	return &dto.ApiKeyValidationResult{
		IsValid:  true,
		ApiKeyID: key.ID,
		DeviceID: key.DeviceID,
		TenantID: key.TenantID,
	}
}

// auditAuthFailure records a rejected key presentation. key is nil when
// the presented credential matched no row; the hash itself is never
// written to the audit trail.
func (svc *ApiKeyService) auditAuthFailure(ctx context.Context, key *model.DeviceApiKey, ipAddress, reason string) {
	description := fmt.Sprintf("API key authentication rejected: %s", reason)
	metadata := map[string]interface{}{
		"ip_address": ipAddress,
		"reason":     reason,
	}
	if key != nil {
		description = fmt.Sprintf("API key authentication rejected for device %s: %s", key.DeviceID, reason)
		metadata["api_key_id"] = key.ID
		metadata["device_id"] = key.DeviceID
	}

	if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionApiKeyAuthFailed, shared.SeverityWarning, nil,
		description, metadata); err != nil {
		log.WithError(err).Warn("Failed to audit API key auth failure")
	}
}

// isIpAllowed evaluates the key's allow-list against the source address.
// An empty list or a "*" entry permits any address; entries may be exact
// IPs or CIDR ranges.
func (svc *ApiKeyService) isIpAllowed(allowedJSON, ipAddress string) bool {
	if allowedJSON == "" {
		return true
	}

	var allowed []string
	if err := sonic.UnmarshalString(allowedJSON, &allowed); err != nil {
		log.WithError(err).Warn("Unreadable allowed IP list, rejecting")
		return false
	}
	if len(allowed) == 0 {
		return true
	}

	ip := net.ParseIP(ipAddress)

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "*" {
			return true
		}
		if entry == ipAddress {
			return true
		}
		if strings.Contains(entry, "/") && ip != nil {
			if _, ipnet, err := net.ParseCIDR(entry); err == nil && ipnet.Contains(ip) {
				return true
			}
		}
	}

	return false
}

// ==================== KEY LIFECYCLE ====================

// RevokeApiKey deactivates a key immediately.
func (svc *ApiKeyService) RevokeApiKey(ctx context.Context, apiKeyID, revokedBy string) error {
	key, err := svc.findByID(ctx, apiKeyID)
	if err != nil {
		return err
	}

	now := svc.nowFn()
	if err := svc.dbSvc.Db().WithContext(ctx).Model(key).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": now,
		}).Error; err != nil {
		return svc.dbSvc.HandleError(err)
	}

	log.WithFields(log.Fields{
		"api_key_id": apiKeyID,
		"device_id":  key.DeviceID,
	}).Info("Device API key revoked")

	if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionApiKeyRevoked, shared.SeverityWarning, &revokedBy,
		fmt.Sprintf("API key revoked for device %s", key.DeviceID),
		map[string]interface{}{
			"api_key_id": apiKeyID,
			"device_id":  key.DeviceID,
		}); err != nil {
		log.WithError(err).Warn("Failed to audit API key revocation")
	}

	return nil
}

// RotateApiKey issues a replacement key carrying the old key's settings,
// then revokes the old key. The two steps are not atomic; a failed
// revocation leaves both keys valid and is surfaced to the caller.
func (svc *ApiKeyService) RotateApiKey(ctx context.Context, apiKeyID, rotatedBy string) (*dto.GenerateApiKeyResponse, error) {
	old, err := svc.findByID(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}

	device, err := svc.dbSvc.FindDevice(old.DeviceID)
	if err != nil {
		return nil, err
	}

	var allowedIPs []string
	if old.AllowedIpAddresses != "" {
		if err := sonic.UnmarshalString(old.AllowedIpAddresses, &allowedIPs); err != nil {
			log.WithError(err).WithField("api_key_id", apiKeyID).Warn("Dropping unreadable allowed IP list during rotation")
			allowedIPs = nil
		}
	}

	resp, err := svc.create(ctx, device, old.Description+" (Rotated)", old.ExpiresAt, allowedIPs, old.RateLimitPerMinute, rotatedBy)
	if err != nil {
		return nil, err
	}

	if err := svc.RevokeApiKey(ctx, apiKeyID, rotatedBy); err != nil {
		log.WithError(err).WithField("api_key_id", apiKeyID).Error("Rotation generated a new key but failed to revoke the old one")
		return nil, err
	}

	if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionApiKeyRotated, shared.SeverityInfo, &rotatedBy,
		fmt.Sprintf("API key rotated for device %s", old.DeviceID),
		map[string]interface{}{
			"old_api_key_id": apiKeyID,
			"new_api_key_id": resp.ApiKey.ID,
			"device_id":      old.DeviceID,
		}); err != nil {
		log.WithError(err).Warn("Failed to audit API key rotation")
	}

	return resp, nil
}

// ==================== QUERIES ====================

// GetApiKeyByID returns the sanitized view of a single key.
func (svc *ApiKeyService) GetApiKeyByID(ctx context.Context, apiKeyID string) (*dto.ApiKeyInfo, error) {
	key, err := svc.findByID(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}

	info := svc.toInfo(key)
	return &info, nil
}

// GetDeviceApiKeys lists all keys bound to a device, newest first.
func (svc *ApiKeyService) GetDeviceApiKeys(ctx context.Context, deviceID string) ([]dto.ApiKeyInfo, error) {
	var keys []model.DeviceApiKey
	err := svc.dbSvc.Db().WithContext(ctx).
		Where("device_id = ? AND is_deleted = ?", deviceID, false).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, svc.dbSvc.HandleError(err)
	}

	return svc.toInfoList(keys), nil
}

// GetTenantApiKeys lists all keys within a tenant, newest first.
func (svc *ApiKeyService) GetTenantApiKeys(ctx context.Context, tenantID string) ([]dto.ApiKeyInfo, error) {
	var keys []model.DeviceApiKey
	err := svc.dbSvc.Db().WithContext(ctx).
		Where("tenant_id = ? AND is_deleted = ?", tenantID, false).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, svc.dbSvc.HandleError(err)
	}

	return svc.toInfoList(keys), nil
}

// GetExpiringApiKeys lists active keys expiring within the horizon.
func (svc *ApiKeyService) GetExpiringApiKeys(ctx context.Context, within time.Duration) ([]dto.ApiKeyInfo, error) {
	now := svc.nowFn()

	var keys []model.DeviceApiKey
	err := svc.dbSvc.Db().WithContext(ctx).
		Where("is_active = ? AND is_deleted = ? AND expires_at IS NOT NULL AND expires_at BETWEEN ? AND ?",
			true, false, now, now.Add(within)).
		Order("expires_at ASC").
		Find(&keys).Error
	if err != nil {
		return nil, svc.dbSvc.HandleError(err)
	}

	return svc.toInfoList(keys), nil
}

// GetStaleApiKeys lists active keys not used since the cutoff, including
// keys that have never been used but are older than the cutoff.
func (svc *ApiKeyService) GetStaleApiKeys(ctx context.Context, unusedFor time.Duration) ([]dto.ApiKeyInfo, error) {
	cutoff := svc.nowFn().Add(-unusedFor)

	var keys []model.DeviceApiKey
	err := svc.dbSvc.Db().WithContext(ctx).
		Where("is_active = ? AND is_deleted = ?", true, false).
		Where("(last_used_at IS NOT NULL AND last_used_at < ?) OR (last_used_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Order("created_at ASC").
		Find(&keys).Error
	if err != nil {
		return nil, svc.dbSvc.HandleError(err)
	}

	return svc.toInfoList(keys), nil
}

func (svc *ApiKeyService) findByID(ctx context.Context, apiKeyID string) (*model.DeviceApiKey, error) {
	var key model.DeviceApiKey
	err := svc.dbSvc.Db().WithContext(ctx).
		Where("id = ? AND is_deleted = ?", apiKeyID, false).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewAppError(http.StatusNotFound, fmt.Sprintf("API key %s not found", apiKeyID))
		}
		return nil, svc.dbSvc.HandleError(err)
	}
	return &key, nil
}

func (svc *ApiKeyService) toInfo(key *model.DeviceApiKey) dto.ApiKeyInfo {
	var allowed []string
	if key.AllowedIpAddresses != "" {
		_ = sonic.UnmarshalString(key.AllowedIpAddresses, &allowed)
	}

	return dto.ApiKeyInfo{
		ID:                 key.ID,
		TenantID:           key.TenantID,
		DeviceID:           key.DeviceID,
		Description:        key.Description,
		IsActive:           key.IsActive,
		ExpiresAt:          key.ExpiresAt,
		LastUsedAt:         key.LastUsedAt,
		UsageCount:         key.UsageCount,
		AllowedIpAddresses: allowed,
		RateLimitPerMinute: key.RateLimitPerMinute,
		CreatedBy:          key.CreatedBy,
		CreatedAt:          key.CreatedAt,
	}
}

func (svc *ApiKeyService) toInfoList(keys []model.DeviceApiKey) []dto.ApiKeyInfo {
	out := make([]dto.ApiKeyInfo, 0, len(keys))
	for i := range keys {
		out = append(out, svc.toInfo(&keys[i]))
	}
	return out
}

// ==================== MIDDLEWARE ====================

const DeviceApiKeyHeader = "X-Device-API-Key"

// RequireDeviceKey authenticates device traffic via the API key header
// and stores the device identity in request locals.
func (svc *ApiKeyService) RequireDeviceKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		plaintext := c.Get(DeviceApiKeyHeader)
		if plaintext == "" {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", "Missing API key")
		}

		result := svc.ValidateApiKey(c.UserContext(), plaintext, GetClientIP(c))
		if !result.IsValid {
			if result.RateLimitExceeded {
				if result.RetryAfterSeconds > 0 {
					c.Set("Retry-After", fmt.Sprintf("%d", result.RetryAfterSeconds))
				}
				return shared.ResponseJSON(c, http.StatusTooManyRequests, "Rate limit exceeded", result.FailureReason)
			}
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Unauthorized", result.FailureReason)
		}

		c.Locals(shared.ApiKeyID, result.ApiKeyID)
		c.Locals(shared.DeviceID, result.DeviceID)
		c.Locals(shared.TenantID, result.TenantID)
		return c.Next()
	}
}

// ==================== KEY MATERIAL ====================

func generateSecureApiKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashApiKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func constantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ==================== PER-KEY THROTTLE ====================

// minuteThrottle is a fixed-window per-key counter scoped to the current
// wall-clock minute. Counts are process-local.
type minuteThrottle struct {
	mu        sync.Mutex
	counts    map[string]int
	lastSweep string
}

func newMinuteThrottle() *minuteThrottle {
	return &minuteThrottle{counts: make(map[string]int)}
}

func (t *minuteThrottle) allow(keyHash string, limit int, now time.Time) bool {
	if limit <= 0 {
		limit = defaultRateLimitPerMinute
	}

	bucket := now.Format("200601021504")
	entry := keyHash + ":" + bucket

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastSweep != bucket {
		// New minute: drop all buckets from earlier minutes.
		for k := range t.counts {
			if !strings.HasSuffix(k, ":"+bucket) {
				delete(t.counts, k)
			}
		}
		t.lastSweep = bucket
	}

	if t.counts[entry] >= limit {
		return false
	}

	t.counts[entry]++
	return true
}
