package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hrforge/sentinel_api/dto"
	"github.com/hrforge/sentinel_api/shared"
)

type ApiKeyHandler struct {
	apiKeySvc ApiKeyServiceInterface
}

func NewApiKeyHandler(apiKeySvc ApiKeyServiceInterface) *ApiKeyHandler {
	return &ApiKeyHandler{apiKeySvc: apiKeySvc}
}

// @Summary Generate device API key (Admin)
// @Description Generate a new API key for a registered device. The plaintext key is returned once and cannot be recovered.
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param generateRequest body dto.GenerateApiKeyRequest true "Key generation request"
// @Success 201 {object} shared.Response{data=dto.GenerateApiKeyResponse}
// @Router /api/v1/security/api-keys [post]
func (h *ApiKeyHandler) GenerateApiKey(c *fiber.Ctx) error {
	var req dto.GenerateApiKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	createdBy, _ := c.Locals(shared.UserID).(string)

	resp, err := h.apiKeySvc.GenerateApiKey(c.UserContext(), &req, createdBy)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "API key generated successfully", resp)
}

// @Summary Get API key (Admin)
// @Description Get the sanitized details of an API key
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param keyId path string true "API key ID"
// @Success 200 {object} shared.Response{data=dto.ApiKeyInfo}
// @Router /api/v1/security/api-keys/{keyId} [get]
func (h *ApiKeyHandler) GetApiKey(c *fiber.Ctx) error {
	keyID := c.Params("keyId")
	if keyID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "API key ID is required", nil)
	}

	info, err := h.apiKeySvc.GetApiKeyByID(c.UserContext(), keyID)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "API key retrieved", info)
}

// @Summary Revoke API key (Admin)
// @Description Deactivate an API key immediately
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param keyId path string true "API key ID"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/security/api-keys/{keyId} [delete]
func (h *ApiKeyHandler) RevokeApiKey(c *fiber.Ctx) error {
	keyID := c.Params("keyId")
	if keyID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "API key ID is required", nil)
	}

	revokedBy, _ := c.Locals(shared.UserID).(string)

	if err := h.apiKeySvc.RevokeApiKey(c.UserContext(), keyID, revokedBy); err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "API key revoked successfully", nil)
}

// @Summary Rotate API key (Admin)
// @Description Issue a replacement key with the same settings and revoke the old key
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param keyId path string true "API key ID"
// @Success 201 {object} shared.Response{data=dto.GenerateApiKeyResponse}
// @Router /api/v1/security/api-keys/{keyId}/rotate [post]
func (h *ApiKeyHandler) RotateApiKey(c *fiber.Ctx) error {
	keyID := c.Params("keyId")
	if keyID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "API key ID is required", nil)
	}

	rotatedBy, _ := c.Locals(shared.UserID).(string)

	resp, err := h.apiKeySvc.RotateApiKey(c.UserContext(), keyID, rotatedBy)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "API key rotated successfully", resp)
}

// @Summary List device API keys (Admin)
// @Description List all API keys for a device, newest first
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param deviceId path string true "Device ID"
// @Success 200 {object} shared.Response{data=[]dto.ApiKeyInfo}
// @Router /api/v1/security/devices/{deviceId}/api-keys [get]
func (h *ApiKeyHandler) GetDeviceApiKeys(c *fiber.Ctx) error {
	deviceID := c.Params("deviceId")
	if deviceID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Device ID is required", nil)
	}

	keys, err := h.apiKeySvc.GetDeviceApiKeys(c.UserContext(), deviceID)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "API keys retrieved", keys)
}

// @Summary List tenant API keys (Admin)
// @Description List all API keys within a tenant, newest first
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} shared.Response{data=[]dto.ApiKeyInfo}
// @Router /api/v1/security/tenants/{tenantId}/api-keys [get]
func (h *ApiKeyHandler) GetTenantApiKeys(c *fiber.Ctx) error {
	tenantID := c.Params("tenantId")
	if tenantID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Tenant ID is required", nil)
	}

	keys, err := h.apiKeySvc.GetTenantApiKeys(c.UserContext(), tenantID)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "API keys retrieved", keys)
}

// @Summary List expiring API keys (Admin)
// @Description List active API keys expiring within the given number of days
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param days query int false "Expiry horizon in days" default(30)
// @Success 200 {object} shared.Response{data=[]dto.ApiKeyInfo}
// @Router /api/v1/security/api-keys/expiring [get]
func (h *ApiKeyHandler) GetExpiringApiKeys(c *fiber.Ctx) error {
	days, _ := strconv.Atoi(c.Query("days", "30"))
	if days < 1 || days > 365 {
		days = 30
	}

	keys, err := h.apiKeySvc.GetExpiringApiKeys(c.UserContext(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Expiring API keys retrieved", keys)
}

// @Summary List stale API keys (Admin)
// @Description List active API keys unused for the given number of days
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param days query int false "Inactivity horizon in days" default(90)
// @Success 200 {object} shared.Response{data=[]dto.ApiKeyInfo}
// @Router /api/v1/security/api-keys/stale [get]
func (h *ApiKeyHandler) GetStaleApiKeys(c *fiber.Ctx) error {
	days, _ := strconv.Atoi(c.Query("days", "90"))
	if days < 1 || days > 3650 {
		days = 90
	}

	keys, err := h.apiKeySvc.GetStaleApiKeys(c.UserContext(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusOK, "Stale API keys retrieved", keys)
}
