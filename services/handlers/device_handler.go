package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/hrforge/sentinel_api/shared"
)

type DeviceHandler struct{}

func NewDeviceHandler() *DeviceHandler {
	return &DeviceHandler{}
}

// @Summary Device identity
// @Description Returns the identity bound to the presented API key
// @Tags device
// @Accept json
// @Produce json
// @Param X-Device-API-Key header string true "Device API key"
// @Success 200 {object} shared.Response{data=map[string]string}
// @Router /api/v1/device/me [get]
func (h *DeviceHandler) Me(c *fiber.Ctx) error {
	return shared.ResponseJSON(c, http.StatusOK, "Device authenticated", map[string]string{
		"api_key_id": localString(c, shared.ApiKeyID),
		"device_id":  localString(c, shared.DeviceID),
		"tenant_id":  localString(c, shared.TenantID),
	})
}

func localString(c *fiber.Ctx, key string) string {
	v, _ := c.Locals(key).(string)
	return v
}
