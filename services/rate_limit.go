package services

import (
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/hrforge/sentinel_api/dto"
	"github.com/hrforge/sentinel_api/model"
	"github.com/hrforge/sentinel_api/shared"
	log "github.com/sirupsen/logrus"
)

// RateLimitService implements the abuse-prevention core: a distributed
// sliding-window rate limiter over the shared keyed cache, a per-IP
// violation tracker, and an auto-escalating IP blacklist.
//
// Failure policies are deliberately asymmetric and must not be unified:
// the limiter fails secure (cache error => deny), the blacklist check
// fails open (cache error => allow) so a cache outage never blocks
// legitimate traffic outright.
type RateLimitService struct {
	appContext.DefaultService

	settings RateLimitSettings

	cache    KeyedCache
	auditSvc SecurityAuditor
	alertSvc AlertSink

	// Fast-path mirror of the durable blacklist: ip -> expiry time.
	// The durable cache stays the source of truth; this map is rebuilt
	// lazily after restart.
	blacklistCache sync.Map

	// Per-IP violation trackers, created lazily. Each tracker has its own
	// lock so unrelated IPs never contend.
	trackers  map[string]*violationTracker
	trackerMu sync.Mutex

	nowFn func() time.Time
}

// RateLimitSettings holds the env-driven configuration.
type RateLimitSettings struct {
	Enabled             bool
	WindowSeconds       int
	AuthenticationLimit int
	SuperAdminLimit     int
	GeneralLimit        int
	WhitelistedIPs      map[string]struct{}

	BlacklistThreshold       int
	BlacklistDurationMinutes int
	AlertOnViolations        bool
	LogViolations            bool
}

const RATE_LIMIT_SVC = "rate_limit_svc"

const (
	ratelimitKeyPrefix = "ratelimit:"
	blacklistKeyPrefix = "blacklist:"

	// Rolling window for violation counting
	violationWindow = 5 * time.Minute

	// Cache entries outlive resetsAt by this buffer to bound growth
	// without racing the last in-window request.
	cacheExpiryBuffer = 10 * time.Second

	blacklistRiskScore = 75

	// Tracker map size that triggers a sweep of idle entries.
	trackerSweepThreshold = 4096
)

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *appContext.Context) error {
	svc.settings = loadRateLimitSettings()
	svc.trackers = make(map[string]*violationTracker)
	svc.nowFn = time.Now
	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) Start() error {
	svc.cache = svc.Service(REDIS_SVC).(*RedisService)
	svc.auditSvc = svc.Service(AUDIT_SVC).(*AuditService)
	svc.alertSvc = svc.Service(ALERT_SVC).(*AlertService)
	return nil
}

func loadRateLimitSettings() RateLimitSettings {
	settings := RateLimitSettings{
		Enabled:                  envBool("RATE_LIMIT_ENABLED", true),
		WindowSeconds:            envInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		AuthenticationLimit:      envInt("RATE_LIMIT_AUTH_LIMIT", 10),
		SuperAdminLimit:          envInt("RATE_LIMIT_SUPERADMIN_LIMIT", 30),
		GeneralLimit:             envInt("RATE_LIMIT_GENERAL_LIMIT", 100),
		BlacklistThreshold:       envInt("RATE_LIMIT_BLACKLIST_THRESHOLD", 5),
		BlacklistDurationMinutes: envInt("RATE_LIMIT_BLACKLIST_DURATION_MINUTES", 60),
		AlertOnViolations:        envBool("RATE_LIMIT_ALERT_ON_VIOLATIONS", true),
		LogViolations:            envBool("RATE_LIMIT_LOG_VIOLATIONS", true),
		WhitelistedIPs:           make(map[string]struct{}),
	}

	for _, ip := range strings.Split(os.Getenv("RATE_LIMIT_WHITELISTED_IPS"), ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			settings.WhitelistedIPs[ip] = struct{}{}
		}
	}

	return settings
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// ==================== CORE RATE LIMITING LOGIC ====================

// CheckRateLimit decides whether a new event for key is allowed under
// limit/window using the sliding timestamp log. Fail-secure: any cache
// error denies the request.
func (svc *RateLimitService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) *dto.RateLimitResult {
	now := svc.nowFn()

	if !svc.settings.Enabled {
		return &dto.RateLimitResult{
			IsAllowed:    true,
			CurrentCount: 0,
			Limit:        limit,
			ResetsAt:     now.Add(window),
		}
	}

	result, err := svc.checkSlidingWindow(ctx, key, limit, window)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("Rate limit check failed, denying request")
		return &dto.RateLimitResult{
			IsAllowed:         false,
			CurrentCount:      limit,
			Limit:             limit,
			ResetsAt:          now.Add(window),
			RetryAfterSeconds: int(window.Seconds()),
			DenialReason:      "Rate limit check error",
		}
	}

	return result
}

func (svc *RateLimitService) checkSlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (*dto.RateLimitResult, error) {
	now := svc.nowFn()
	cacheKey := ratelimitKeyPrefix + key

	data, err := svc.cache.GetString(ctx, cacheKey)
	if err != nil {
		return nil, err
	}

	record := model.SlidingWindowRecord{
		SchemaVersion: model.CacheSchemaVersion,
		WindowStart:   now,
		Window:        window,
		Limit:         limit,
	}

	if data != "" {
		var stored model.SlidingWindowRecord
		if err := sonic.UnmarshalString(data, &stored); err != nil {
			log.WithError(err).WithField("key", key).Warn("Discarding unreadable sliding window record")
		} else if stored.SchemaVersion == model.CacheSchemaVersion {
			record = stored
			record.Limit = limit
			record.Window = window
		}
	}

	// Drop timestamps that have aged out of the window. Only allowed
	// requests occupy a slot; denied attempts never extend the window.
	windowStart := now.Add(-window)
	kept := record.Requests[:0]
	for _, ts := range record.Requests {
		if !ts.Before(windowStart) {
			kept = append(kept, ts)
		}
	}

	isAllowed := len(kept) < limit
	if isAllowed {
		kept = append(kept, now)
	}
	record.Requests = kept

	currentCount := len(kept)

	// The limit resets when the oldest counted request ages out.
	resetsAt := now.Add(window)
	if len(kept) > 0 {
		resetsAt = kept[0].Add(window)
	}

	payload, err := sonic.MarshalString(record)
	if err != nil {
		return nil, err
	}

	if err := svc.cache.SetString(ctx, cacheKey, payload, resetsAt.Add(cacheExpiryBuffer)); err != nil {
		return nil, err
	}

	result := &dto.RateLimitResult{
		IsAllowed:    isAllowed,
		CurrentCount: currentCount,
		Limit:        limit,
		ResetsAt:     resetsAt,
	}

	if !isAllowed {
		result.DenialReason = "Rate limit exceeded"
		if retryAfter := int(resetsAt.Sub(now).Seconds()); retryAfter > 0 {
			result.RetryAfterSeconds = retryAfter
		}
	}

	return result, nil
}

// CheckEndpointRateLimit applies the per-category limits for an inbound
// request: whitelist bypass, blacklist fast path, sliding window check,
// and violation escalation on denial.
func (svc *RateLimitService) CheckEndpointRateLimit(ctx context.Context, ipAddress, endpoint, userID string) *dto.RateLimitResult {
	now := svc.nowFn()

	if !svc.settings.Enabled {
		return &dto.RateLimitResult{IsAllowed: true, Limit: math.MaxInt32, ResetsAt: now.Add(time.Minute)}
	}

	if _, ok := svc.settings.WhitelistedIPs[ipAddress]; ok {
		log.WithField("ip", ipAddress).Debug("Rate limit bypassed for whitelisted IP")
		RecordRateLimitCheck(endpoint, OutcomeWhitelisted)
		return &dto.RateLimitResult{IsAllowed: true, Limit: math.MaxInt32, ResetsAt: now.Add(time.Minute)}
	}

	limit, window := svc.endpointLimits(endpoint)

	if svc.IsBlacklisted(ctx, ipAddress) {
		RecordRateLimitCheck(endpoint, OutcomeBlacklisted)
		return &dto.RateLimitResult{
			IsAllowed:         false,
			CurrentCount:      limit,
			Limit:             limit,
			ResetsAt:          now.Add(window),
			RetryAfterSeconds: int(window.Seconds()),
			DenialReason:      "IP address is blacklisted",
			IsBlacklisted:     true,
		}
	}

	key := fmt.Sprintf("%s:%s", ipAddress, normalizeEndpoint(endpoint))
	result := svc.CheckRateLimit(ctx, key, limit, window)

	if !result.IsAllowed && !result.IsBlacklisted {
		if result.DenialReason == "Rate limit check error" {
			RecordRateLimitCheck(endpoint, OutcomeError)
			return result
		}

		RecordRateLimitCheck(endpoint, OutcomeDenied)
		if userID != "" {
			log.WithFields(log.Fields{
				"ip":       ipAddress,
				"endpoint": endpoint,
				"user_id":  userID,
			}).Debug("Rate limit denial for authenticated user")
		}
		if svc.RecordViolation(ctx, ipAddress, endpoint) {
			result.IsBlacklisted = true
			result.DenialReason = "IP auto-blacklisted due to repeated violations"
		}
		return result
	}

	RecordRateLimitCheck(endpoint, OutcomeAllowed)
	return result
}

// endpointLimits resolves (limit, window) for an endpoint category.
// Authentication and privileged-admin endpoints get stricter limits.
func (svc *RateLimitService) endpointLimits(endpoint string) (int, time.Duration) {
	window := time.Duration(svc.settings.WindowSeconds) * time.Second

	switch normalizeEndpoint(endpoint) {
	case shared.EndpointAuthentication:
		return svc.settings.AuthenticationLimit, window
	case shared.EndpointSuperAdmin:
		return svc.settings.SuperAdminLimit, window
	default:
		return svc.settings.GeneralLimit, window
	}
}

func normalizeEndpoint(endpoint string) string {
	switch strings.ToLower(endpoint) {
	case "authentication", "auth", "login":
		return shared.EndpointAuthentication
	case "superadmin", "admin":
		return shared.EndpointSuperAdmin
	default:
		return shared.EndpointGeneral
	}
}

// ==================== VIOLATION TRACKING ====================

// violationTracker holds the rolling violation log for a single IP,
// guarded by its own lock. The lock is never held across cache I/O.
type violationTracker struct {
	mu         sync.Mutex
	violations []time.Time
}

func (t *violationTracker) record(now time.Time, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-window)
	kept := t.violations[:0]
	for _, ts := range t.violations {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.violations = append(kept, now)

	return len(t.violations)
}

func (svc *RateLimitService) tracker(ipAddress string) *violationTracker {
	svc.trackerMu.Lock()
	defer svc.trackerMu.Unlock()

	if len(svc.trackers) > trackerSweepThreshold {
		svc.sweepTrackersLocked()
	}

	t, ok := svc.trackers[ipAddress]
	if !ok {
		t = &violationTracker{}
		svc.trackers[ipAddress] = t
	}
	return t
}

// sweepTrackersLocked drops trackers whose newest violation has aged out
// of the rolling window. Caller holds trackerMu.
func (svc *RateLimitService) sweepTrackersLocked() {
	cutoff := svc.nowFn().Add(-violationWindow)
	for ip, t := range svc.trackers {
		t.mu.Lock()
		idle := len(t.violations) == 0 || !t.violations[len(t.violations)-1].After(cutoff)
		t.mu.Unlock()
		if idle {
			delete(svc.trackers, ip)
		}
	}
}

// RecordViolation registers a rate-limit violation for the IP and returns
// true if the IP was auto-blacklisted as a result.
func (svc *RateLimitService) RecordViolation(ctx context.Context, ipAddress, endpoint string) bool {
	now := svc.nowFn()

	count := svc.tracker(ipAddress).record(now, violationWindow)
	RecordRateLimitViolation(endpoint)

	if count >= svc.settings.BlacklistThreshold {
		duration := time.Duration(svc.settings.BlacklistDurationMinutes) * time.Minute
		reason := fmt.Sprintf("Exceeded rate limit %d times in %.0f minutes on endpoint: %s",
			count, violationWindow.Minutes(), endpoint)

		log.WithFields(log.Fields{
			"ip":        ipAddress,
			"count":     count,
			"threshold": svc.settings.BlacklistThreshold,
		}).Warn("Auto-blacklisting IP after repeated violations")

		return svc.blacklist(ctx, ipAddress, duration, reason, BlacklistActionAuto)
	}

	if svc.settings.LogViolations {
		log.WithFields(log.Fields{
			"ip":        ipAddress,
			"endpoint":  endpoint,
			"count":     count,
			"threshold": svc.settings.BlacklistThreshold,
		}).Warn("Rate limit violation")

		if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionUnauthorizedAccessAttempt, shared.SeverityWarning, nil,
			fmt.Sprintf("Rate limit violation from IP %s on endpoint %s", ipAddress, endpoint),
			map[string]interface{}{
				"ip_address": ipAddress,
				"endpoint":   endpoint,
				"count":      count,
				"threshold":  svc.settings.BlacklistThreshold,
			}); err != nil {
			log.WithError(err).Warn("Failed to audit rate limit violation")
		}
	}

	return false
}

// ==================== BLACKLIST MANAGEMENT ====================

// BlacklistIP writes a durable blacklist entry and mirrors it into the
// in-process fast path. Returns false if the durable write failed.
func (svc *RateLimitService) BlacklistIP(ctx context.Context, ipAddress string, duration time.Duration, reason string) bool {
	return svc.blacklist(ctx, ipAddress, duration, reason, BlacklistActionManual)
}

func (svc *RateLimitService) blacklist(ctx context.Context, ipAddress string, duration time.Duration, reason, action string) bool {
	now := svc.nowFn()
	expiresAt := now.Add(duration)

	entry := model.BlacklistEntry{
		SchemaVersion: model.CacheSchemaVersion,
		IpAddress:     ipAddress,
		Reason:        reason,
		BlacklistedAt: now,
		ExpiresAt:     expiresAt,
	}

	payload, err := sonic.MarshalString(entry)
	if err != nil {
		log.WithError(err).WithField("ip", ipAddress).Error("Failed to serialize blacklist entry")
		return false
	}

	if err := svc.cache.SetString(ctx, blacklistKeyPrefix+ipAddress, payload, expiresAt); err != nil {
		log.WithError(err).WithField("ip", ipAddress).Error("Failed to blacklist IP")
		return false
	}

	svc.blacklistCache.Store(ipAddress, expiresAt)
	RecordBlacklistEvent(action)

	log.WithFields(log.Fields{
		"ip":       ipAddress,
		"duration": duration.String(),
		"reason":   reason,
	}).Warn("IP address blacklisted")

	if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionUnauthorizedAccessAttempt, shared.SeverityCritical, nil,
		fmt.Sprintf("IP address blacklisted: %s", ipAddress),
		map[string]interface{}{
			"ip_address": ipAddress,
			"reason":     reason,
			"duration":   duration.Minutes(),
			"expires_at": expiresAt,
		}); err != nil {
		log.WithError(err).Warn("Failed to audit blacklist event")
	}

	if svc.settings.AlertOnViolations {
		alert := &model.SecurityAlert{
			AlertType:   shared.AlertTypeUnauthorizedAccess,
			Severity:    shared.SeverityCritical,
			Status:      shared.AlertStatusNew,
			Title:       fmt.Sprintf("IP Address Blacklisted: %s", ipAddress),
			Description: fmt.Sprintf("IP address %s has been blacklisted due to: %s. Duration: %.0f minutes", ipAddress, reason, duration.Minutes()),
			IpAddress:   ipAddress,
			RiskScore:   blacklistRiskScore,
			DetectedAt:  now,
		}
		if err := svc.alertSvc.CreateAlert(ctx, alert, true); err != nil {
			log.WithError(err).Warn("Failed to create blacklist alert")
		}
	}

	return true
}

// IsBlacklisted answers whether the IP is currently blacklisted, checking
// the in-process map before the durable cache. Fail-open: a cache error
// must not block legitimate traffic.
func (svc *RateLimitService) IsBlacklisted(ctx context.Context, ipAddress string) bool {
	now := svc.nowFn()

	if v, ok := svc.blacklistCache.Load(ipAddress); ok {
		if expiresAt := v.(time.Time); expiresAt.After(now) {
			return true
		}
		svc.blacklistCache.Delete(ipAddress)
	}

	data, err := svc.cache.GetString(ctx, blacklistKeyPrefix+ipAddress)
	if err != nil {
		log.WithError(err).WithField("ip", ipAddress).Error("Blacklist check failed, allowing request")
		return false
	}
	if data == "" {
		return false
	}

	var entry model.BlacklistEntry
	if err := sonic.UnmarshalString(data, &entry); err != nil {
		log.WithError(err).WithField("ip", ipAddress).Warn("Discarding unreadable blacklist entry")
		return false
	}

	if entry.ExpiresAt.After(now) {
		// Warm the fast path for subsequent checks.
		svc.blacklistCache.Store(ipAddress, entry.ExpiresAt)
		return true
	}

	return false
}

// UnblacklistIP removes the durable entry and the fast-path mirror.
func (svc *RateLimitService) UnblacklistIP(ctx context.Context, ipAddress string) bool {
	if err := svc.cache.Remove(ctx, blacklistKeyPrefix+ipAddress); err != nil {
		log.WithError(err).WithField("ip", ipAddress).Error("Failed to unblacklist IP")
		return false
	}

	svc.blacklistCache.Delete(ipAddress)
	RecordBlacklistEvent(BlacklistActionRemoved)

	log.WithField("ip", ipAddress).Info("IP address removed from blacklist")

	if err := svc.auditSvc.LogSecurityEvent(ctx, shared.ActionSecuritySettingChanged, shared.SeverityWarning, nil,
		fmt.Sprintf("IP address unblacklisted: %s", ipAddress),
		map[string]interface{}{"ip_address": ipAddress}); err != nil {
		log.WithError(err).Warn("Failed to audit unblacklist event")
	}

	return true
}

// ==================== ADMIN OPERATIONS ====================

// GetRateLimitStatus reports the current window contents for a key
// without counting a new request.
func (svc *RateLimitService) GetRateLimitStatus(ctx context.Context, key string) *dto.RateLimitStatus {
	now := svc.nowFn()

	status := &dto.RateLimitStatus{
		Key:           key,
		WindowStart:   now,
		WindowEnd:     now.Add(time.Duration(svc.settings.WindowSeconds) * time.Second),
		IsBlacklisted: svc.IsBlacklisted(ctx, keyIPPart(key)),
	}

	data, err := svc.cache.GetString(ctx, ratelimitKeyPrefix+key)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("Failed to read rate limit status")
		return status
	}
	if data == "" {
		return status
	}

	var record model.SlidingWindowRecord
	if err := sonic.UnmarshalString(data, &record); err != nil {
		log.WithError(err).WithField("key", key).Warn("Unreadable sliding window record")
		return status
	}

	live := 0
	cutoff := now.Add(-record.Window)
	for _, ts := range record.Requests {
		if !ts.Before(cutoff) {
			live++
		}
	}

	status.CurrentCount = live
	status.Limit = record.Limit
	status.WindowStart = record.WindowStart
	status.WindowEnd = record.WindowStart.Add(record.Window)

	return status
}

// ResetRateLimit clears the window for a key (admin override).
func (svc *RateLimitService) ResetRateLimit(ctx context.Context, key string) bool {
	if err := svc.cache.Remove(ctx, ratelimitKeyPrefix+key); err != nil {
		log.WithError(err).WithField("key", key).Error("Failed to reset rate limit")
		return false
	}

	log.WithField("key", key).Info("Rate limit reset")
	return true
}

// keyIPPart strips a trailing endpoint-category segment from a composite
// key. Plain IPs (including IPv6) pass through when the last segment is
// not a known category.
func keyIPPart(key string) string {
	idx := strings.LastIndex(key, ":")
	if idx <= 0 {
		return key
	}

	switch key[idx+1:] {
	case shared.EndpointAuthentication, shared.EndpointSuperAdmin, shared.EndpointGeneral:
		return key[:idx]
	default:
		return key
	}
}

// ==================== MIDDLEWARE ====================

// EndpointRateLimit returns a fiber middleware enforcing the given
// endpoint category.
func (svc *RateLimitService) EndpointRateLimit(endpoint string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := GetClientIP(c)

		userID := ""
		if v := c.Locals(shared.UserID); v != nil {
			userID, _ = v.(string)
		}

		result := svc.CheckEndpointRateLimit(c.UserContext(), ip, endpoint, userID)

		svc.addRateLimitHeaders(c, result)

		if !result.IsAllowed {
			return svc.handleRateLimitExceeded(c, result)
		}

		return c.Next()
	}
}

// IPRateLimit applies the general per-IP limit.
func (svc *RateLimitService) IPRateLimit() fiber.Handler {
	return svc.EndpointRateLimit(shared.EndpointGeneral)
}

func (svc *RateLimitService) addRateLimitHeaders(c *fiber.Ctx, result *dto.RateLimitResult) {
	if result == nil {
		return
	}

	c.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining()))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetsAt.Unix(), 10))

	if result.RetryAfterSeconds > 0 {
		c.Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
	}
}

func (svc *RateLimitService) handleRateLimitExceeded(c *fiber.Ctx, result *dto.RateLimitResult) error {
	message := result.DenialReason
	if message == "" {
		message = "Too many requests. Please try again later."
	}

	response := map[string]interface{}{
		"error":       "Rate limit exceeded",
		"retry_after": result.RetryAfterSeconds,
	}
	if result.IsBlacklisted {
		response["blacklisted"] = true
	}

	return shared.ResponseJSON(c, fiber.StatusTooManyRequests, message, response)
}

// ==================== UTILITY FUNCTIONS ====================

// GetClientIP resolves the originating client address, honoring the usual
// proxy headers before falling back to the socket address.
func GetClientIP(c *fiber.Ctx) string {
	forwarded := c.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if ip != "" {
				return ip
			}
		}
	}

	realIP := c.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	cfIP := c.Get("CF-Connecting-IP")
	if cfIP != "" {
		return cfIP
	}

	ip, _, err := net.SplitHostPort(c.Context().RemoteAddr().String())
	if err != nil {
		return c.Context().RemoteAddr().String()
	}

	return ip
}
