package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hrforge/sentinel_api/dto"
	"github.com/hrforge/sentinel_api/model"
	"github.com/hrforge/sentinel_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestApiKeyService(t *testing.T, clock *fakeClock) *ApiKeyService {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.AttendanceDevice{},
		&model.DeviceApiKey{},
		&model.AuditLog{},
		&model.SecurityAlert{},
	))

	svc := &ApiKeyService{
		dbSvc:    &DatabaseService{db: db},
		auditSvc: &fakeAuditor{},
		throttle: newMinuteThrottle(),
	}
	svc.nowFn = clock.Now
	return svc
}

func seedDevice(t *testing.T, svc *ApiKeyService, id, tenantID string) {
	t.Helper()

	device := &model.AttendanceDevice{
		ID:           id,
		TenantID:     tenantID,
		Name:         "Front gate scanner",
		SerialNumber: "SN-" + id,
		Location:     "HQ lobby",
	}
	require.NoError(t, svc.dbSvc.Db().Create(device).Error)
}

func generateTestKey(t *testing.T, svc *ApiKeyService, req *dto.GenerateApiKeyRequest) *dto.GenerateApiKeyResponse {
	t.Helper()

	resp, err := svc.GenerateApiKey(context.Background(), req, "admin-1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestGenerateAndValidateApiKey(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:    "dev-1",
		Description: "Front gate key",
	})

	assert.Len(t, resp.PlaintextKey, 64)
	assert.Equal(t, "dev-1", resp.ApiKey.DeviceID)
	assert.Equal(t, "tenant-1", resp.ApiKey.TenantID)
	assert.True(t, resp.ApiKey.IsActive)
	require.NotNil(t, resp.ApiKey.ExpiresAt)

	result := svc.ValidateApiKey(context.Background(), resp.PlaintextKey, "203.0.113.7")
	require.True(t, result.IsValid)
	assert.Equal(t, resp.ApiKey.ID, result.ApiKeyID)
	assert.Equal(t, "dev-1", result.DeviceID)
	assert.Equal(t, "tenant-1", result.TenantID)

	info, err := svc.GetApiKeyByID(context.Background(), resp.ApiKey.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.UsageCount)
	require.NotNil(t, info.LastUsedAt)
	assert.Equal(t, clock.Now().Unix(), info.LastUsedAt.Unix())
}

func TestPlaintextKeyNeverPersisted(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:    "dev-1",
		Description: "Front gate key",
	})

	var stored model.DeviceApiKey
	require.NoError(t, svc.dbSvc.Db().First(&stored, "id = ?", resp.ApiKey.ID).Error)

	assert.NotEqual(t, resp.PlaintextKey, stored.ApiKeyHash)
	assert.NotContains(t, stored.ApiKeyHash, resp.PlaintextKey)
	assert.Equal(t, hashApiKey(resp.PlaintextKey), stored.ApiKeyHash)
}

func TestValidateRejectsMutatedKey(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:    "dev-1",
		Description: "Front gate key",
	})

	mutated := []byte(resp.PlaintextKey)
	if mutated[0] == 'A' {
		mutated[0] = 'B'
	} else {
		mutated[0] = 'A'
	}

	result := svc.ValidateApiKey(context.Background(), string(mutated), "203.0.113.7")
	require.False(t, result.IsValid)
	assert.Equal(t, "Invalid API key", result.FailureReason)
}

func TestValidateRejectsEmptyKey(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)

	result := svc.ValidateApiKey(context.Background(), "", "203.0.113.7")
	require.False(t, result.IsValid)
	assert.Equal(t, "API key is required", result.FailureReason)
}

func TestValidateInactiveKey(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:    "dev-1",
		Description: "Front gate key",
	})

	require.NoError(t, svc.RevokeApiKey(context.Background(), resp.ApiKey.ID, "admin-1"))

	result := svc.ValidateApiKey(context.Background(), resp.PlaintextKey, "203.0.113.7")
	require.False(t, result.IsValid)
	assert.Equal(t, "API key is inactive", result.FailureReason)
}

func TestValidateExpiredKey(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	expiresAt := clock.Now().Add(time.Hour)
	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:    "dev-1",
		Description: "Short lived key",
		ExpiresAt:   &expiresAt,
	})

	clock.Advance(2 * time.Hour)

	result := svc.ValidateApiKey(context.Background(), resp.PlaintextKey, "203.0.113.7")
	require.False(t, result.IsValid)
	assert.Equal(t, "API key expired on "+expiresAt.Format("2006-01-02"), result.FailureReason)
}

func TestValidateIpAllowList(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:           "dev-1",
		Description:        "Restricted key",
		AllowedIpAddresses: []string{"10.0.0.0/24", "192.168.1.50"},
	})

	ctx := context.Background()

	assert.True(t, svc.ValidateApiKey(ctx, resp.PlaintextKey, "10.0.0.5").IsValid)
	assert.True(t, svc.ValidateApiKey(ctx, resp.PlaintextKey, "10.0.0.255").IsValid)
	assert.True(t, svc.ValidateApiKey(ctx, resp.PlaintextKey, "192.168.1.50").IsValid)

	rejected := svc.ValidateApiKey(ctx, resp.PlaintextKey, "10.0.1.1")
	require.False(t, rejected.IsValid)
	assert.Equal(t, "IP address not allowed", rejected.FailureReason)
}

func TestValidateWildcardAllowsAnyIp(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:           "dev-1",
		Description:        "Open key",
		AllowedIpAddresses: []string{"*"},
	})

	assert.True(t, svc.ValidateApiKey(context.Background(), resp.PlaintextKey, "198.51.100.42").IsValid)
}

func TestPerKeyThrottle(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:           "dev-1",
		Description:        "Throttled key",
		RateLimitPerMinute: 3,
	})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, svc.ValidateApiKey(ctx, resp.PlaintextKey, "203.0.113.7").IsValid)
	}

	throttled := svc.ValidateApiKey(ctx, resp.PlaintextKey, "203.0.113.7")
	require.False(t, throttled.IsValid)
	assert.True(t, throttled.RateLimitExceeded)
	assert.Equal(t, "Rate limit exceeded", throttled.FailureReason)
	assert.Equal(t, 60-clock.Now().Second(), throttled.RetryAfterSeconds)

	clock.Advance(time.Minute)
	assert.True(t, svc.ValidateApiKey(ctx, resp.PlaintextKey, "203.0.113.7").IsValid)
}

func TestRotateApiKeyCarriesSettingsAndRevokesOld(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	expiresAt := clock.Now().Add(30 * 24 * time.Hour)
	old := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:           "dev-1",
		Description:        "Front gate key",
		ExpiresAt:          &expiresAt,
		AllowedIpAddresses: []string{"10.0.0.0/24"},
		RateLimitPerMinute: 15,
	})

	rotated, err := svc.RotateApiKey(context.Background(), old.ApiKey.ID, "admin-2")
	require.NoError(t, err)

	assert.NotEqual(t, old.PlaintextKey, rotated.PlaintextKey)
	assert.Equal(t, "Front gate key (Rotated)", rotated.ApiKey.Description)
	assert.Equal(t, 15, rotated.ApiKey.RateLimitPerMinute)
	assert.Equal(t, []string{"10.0.0.0/24"}, rotated.ApiKey.AllowedIpAddresses)
	require.NotNil(t, rotated.ApiKey.ExpiresAt)
	assert.Equal(t, expiresAt.Unix(), rotated.ApiKey.ExpiresAt.Unix())

	ctx := context.Background()
	assert.True(t, svc.ValidateApiKey(ctx, rotated.PlaintextKey, "10.0.0.5").IsValid)

	oldResult := svc.ValidateApiKey(ctx, old.PlaintextKey, "10.0.0.5")
	require.False(t, oldResult.IsValid)
	assert.Equal(t, "API key is inactive", oldResult.FailureReason)
}

func TestGenerateForUnknownDevice(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)

	_, err := svc.GenerateApiKey(context.Background(), &dto.GenerateApiKeyRequest{
		DeviceID:    "missing",
		Description: "Orphan key",
	}, "admin-1")
	require.Error(t, err)

	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.StatusCode)
}

func TestGenerateValidationFailure(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	_, err := svc.GenerateApiKey(context.Background(), &dto.GenerateApiKeyRequest{
		DeviceID:           "dev-1",
		Description:        "Bad allow list",
		AllowedIpAddresses: []string{"not-an-ip"},
	}, "admin-1")
	require.Error(t, err)

	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, 400, appErr.StatusCode)
}

func TestGetDeviceAndTenantApiKeys(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")
	seedDevice(t, svc, "dev-2", "tenant-1")

	generateTestKey(t, svc, &dto.GenerateApiKeyRequest{DeviceID: "dev-1", Description: "Key A"})
	clock.Advance(time.Second)
	generateTestKey(t, svc, &dto.GenerateApiKeyRequest{DeviceID: "dev-1", Description: "Key B"})
	clock.Advance(time.Second)
	generateTestKey(t, svc, &dto.GenerateApiKeyRequest{DeviceID: "dev-2", Description: "Key C"})

	ctx := context.Background()

	deviceKeys, err := svc.GetDeviceApiKeys(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, deviceKeys, 2)
	assert.Equal(t, "Key B", deviceKeys[0].Description)

	tenantKeys, err := svc.GetTenantApiKeys(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, tenantKeys, 3)
}

func TestGetExpiringApiKeys(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	soon := clock.Now().Add(10 * 24 * time.Hour)
	later := clock.Now().Add(100 * 24 * time.Hour)

	expiring := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID: "dev-1", Description: "Expiring soon", ExpiresAt: &soon,
	})
	generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID: "dev-1", Description: "Long lived", ExpiresAt: &later,
	})

	keys, err := svc.GetExpiringApiKeys(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, expiring.ApiKey.ID, keys[0].ID)
}

func TestGetStaleApiKeys(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")

	stale := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{DeviceID: "dev-1", Description: "Never used"})
	active := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{DeviceID: "dev-1", Description: "In use"})

	clock.Advance(100 * 24 * time.Hour)

	// Recent usage keeps a key out of the stale set.
	require.True(t, svc.ValidateApiKey(context.Background(), active.PlaintextKey, "203.0.113.7").IsValid)

	keys, err := svc.GetStaleApiKeys(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, stale.ApiKey.ID, keys[0].ID)
}

func TestEveryValidationOutcomeIsAudited(t *testing.T) {
	clock := newFakeClock()
	svc := newTestApiKeyService(t, clock)
	seedDevice(t, svc, "dev-1", "tenant-1")
	auditor := svc.auditSvc.(*fakeAuditor)

	resp := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:           "dev-1",
		Description:        "Audited key",
		AllowedIpAddresses: []string{"10.0.0.0/24"},
		RateLimitPerMinute: 1,
	})

	ctx := context.Background()

	require.True(t, svc.ValidateApiKey(ctx, resp.PlaintextKey, "10.0.0.5").IsValid)

	throttled := svc.ValidateApiKey(ctx, resp.PlaintextKey, "10.0.0.5")
	require.False(t, throttled.IsValid)
	require.True(t, throttled.RateLimitExceeded)

	require.False(t, svc.ValidateApiKey(ctx, resp.PlaintextKey, "192.0.2.1").IsValid)
	require.False(t, svc.ValidateApiKey(ctx, strings.Repeat("x", 64), "10.0.0.5").IsValid)

	require.NoError(t, svc.RevokeApiKey(ctx, resp.ApiKey.ID, "admin-1"))
	require.False(t, svc.ValidateApiKey(ctx, resp.PlaintextKey, "10.0.0.5").IsValid)

	expiresAt := clock.Now().Add(time.Hour)
	shortLived := generateTestKey(t, svc, &dto.GenerateApiKeyRequest{
		DeviceID:    "dev-1",
		Description: "Short lived key",
		ExpiresAt:   &expiresAt,
	})
	clock.Advance(2 * time.Hour)
	require.False(t, svc.ValidateApiKey(ctx, shortLived.PlaintextKey, "10.0.0.5").IsValid)

	successes := auditor.byAction(shared.ActionApiKeyAuthSuccess)
	require.Len(t, successes, 1)
	assert.Contains(t, successes[0].description, "dev-1")

	require.Len(t, auditor.byAction(shared.ActionApiKeyRateLimited), 1)

	failures := auditor.byAction(shared.ActionApiKeyAuthFailed)
	require.Len(t, failures, 4)

	var reasons []string
	for _, e := range failures {
		reasons = append(reasons, e.description)
		assert.Equal(t, shared.SeverityWarning, e.severity)
	}
	assert.Contains(t, reasons[0], "IP address not allowed")
	assert.Contains(t, reasons[1], "Invalid API key")
	assert.Contains(t, reasons[2], "API key is inactive")
	assert.Contains(t, reasons[3], "API key expired on "+expiresAt.Format("2006-01-02"))
}

func TestGenerateSecureApiKeyShape(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 100; i++ {
		key, err := generateSecureApiKey()
		require.NoError(t, err)
		assert.Len(t, key, 64)
		assert.NotContains(t, key, "=")
		assert.NotContains(t, key, "+")
		assert.NotContains(t, key, "/")

		_, dup := seen[key]
		require.False(t, dup, "generated keys must be unique")
		seen[key] = struct{}{}
	}
}

func TestIsIpAllowedEdgeCases(t *testing.T) {
	svc := &ApiKeyService{}

	assert.True(t, svc.isIpAllowed("", "1.2.3.4"))
	assert.True(t, svc.isIpAllowed("[]", "1.2.3.4"))
	assert.False(t, svc.isIpAllowed("{broken", "1.2.3.4"))
	assert.True(t, svc.isIpAllowed(`["*"]`, "1.2.3.4"))
	assert.True(t, svc.isIpAllowed(`["1.2.3.4"]`, "1.2.3.4"))
	assert.False(t, svc.isIpAllowed(`["1.2.3.5"]`, "1.2.3.4"))
	assert.True(t, svc.isIpAllowed(`["2001:db8::/32"]`, "2001:db8::99"))
	assert.False(t, svc.isIpAllowed(`["10.0.0.0/24"]`, "not-an-ip"))
}

func TestConstantTimeEquals(t *testing.T) {
	hash := hashApiKey(strings.Repeat("a", 64))

	assert.True(t, constantTimeEquals(hash, hash))
	assert.False(t, constantTimeEquals(hash, hashApiKey(strings.Repeat("b", 64))))
	assert.False(t, constantTimeEquals(hash, ""))
}
