package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hrforge/sentinel_api/dto"
	"github.com/hrforge/sentinel_api/shared"
)

type SecurityHandler struct {
	rateLimitSvc RateLimitServiceInterface
}

func NewSecurityHandler(rateLimitSvc RateLimitServiceInterface) *SecurityHandler {
	return &SecurityHandler{rateLimitSvc: rateLimitSvc}
}

// @Summary Blacklist IP (Admin)
// @Description Manually blacklist an IP address for a duration
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param blacklistRequest body dto.BlacklistRequest true "Blacklist request"
// @Success 200 {object} shared.Response{data=dto.BlacklistStatusResponse}
// @Router /api/v1/security/blacklist [post]
func (h *SecurityHandler) BlacklistIP(c *fiber.Ctx) error {
	var req dto.BlacklistRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	if !h.rateLimitSvc.BlacklistIP(c.UserContext(), req.IpAddress, duration, req.Reason) {
		return shared.ResponseJSON(c, http.StatusInternalServerError, "Failed to blacklist IP", nil)
	}

	return shared.ResponseJSON(c, http.StatusOK, "IP blacklisted successfully", dto.BlacklistStatusResponse{
		IpAddress:     req.IpAddress,
		IsBlacklisted: true,
	})
}

// @Summary Remove IP from blacklist (Admin)
// @Description Remove an IP address from the blacklist
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param ip path string true "IP address"
// @Success 200 {object} shared.Response{data=dto.BlacklistStatusResponse}
// @Router /api/v1/security/blacklist/{ip} [delete]
func (h *SecurityHandler) UnblacklistIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "IP address is required", nil)
	}

	if !h.rateLimitSvc.UnblacklistIP(c.UserContext(), ip) {
		return shared.ResponseJSON(c, http.StatusInternalServerError, "Failed to remove IP from blacklist", nil)
	}

	return shared.ResponseJSON(c, http.StatusOK, "IP removed from blacklist", dto.BlacklistStatusResponse{
		IpAddress:     ip,
		IsBlacklisted: false,
	})
}

// @Summary Check blacklist status (Admin)
// @Description Check whether an IP address is currently blacklisted
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param ip path string true "IP address"
// @Success 200 {object} shared.Response{data=dto.BlacklistStatusResponse}
// @Router /api/v1/security/blacklist/{ip} [get]
func (h *SecurityHandler) GetBlacklistStatus(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "IP address is required", nil)
	}

	return shared.ResponseJSON(c, http.StatusOK, "Blacklist status retrieved", dto.BlacklistStatusResponse{
		IpAddress:     ip,
		IsBlacklisted: h.rateLimitSvc.IsBlacklisted(c.UserContext(), ip),
	})
}

// @Summary Get rate limit status (Admin)
// @Description Inspect the current sliding window for a rate limit key
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param key path string true "Rate limit key"
// @Success 200 {object} shared.Response{data=dto.RateLimitStatus}
// @Router /api/v1/security/rate-limits/{key} [get]
func (h *SecurityHandler) GetRateLimitStatus(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Rate limit key is required", nil)
	}

	status := h.rateLimitSvc.GetRateLimitStatus(c.UserContext(), key)
	return shared.ResponseJSON(c, http.StatusOK, "Rate limit status retrieved", status)
}

// @Summary Reset rate limit (Admin)
// @Description Clear the sliding window for a rate limit key
// @Tags security
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param key path string true "Rate limit key"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/security/rate-limits/{key} [delete]
func (h *SecurityHandler) ResetRateLimit(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Rate limit key is required", nil)
	}

	if !h.rateLimitSvc.ResetRateLimit(c.UserContext(), key) {
		return shared.ResponseJSON(c, http.StatusInternalServerError, "Failed to reset rate limit", nil)
	}

	return shared.ResponseJSON(c, http.StatusOK, "Rate limit reset successfully", nil)
}
