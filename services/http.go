package services

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"

	"github.com/hrforge/sentinel_api/services/handlers"
	"github.com/hrforge/sentinel_api/shared"
)

type HttpService struct {
	context.DefaultService

	jwtSvc       *JWTService
	rateLimitSvc *RateLimitService
	apiKeySvc    *ApiKeyService

	securityHandler *handlers.SecurityHandler
	apiKeyHandler   *handlers.ApiKeyHandler
	deviceHandler   *handlers.DeviceHandler

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.rateLimitSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.apiKeySvc = svc.Service(API_KEY_SVC).(*ApiKeyService)

	svc.securityHandler = handlers.NewSecurityHandler(svc.rateLimitSvc)
	svc.apiKeyHandler = handlers.NewApiKeyHandler(svc.apiKeySvc)
	svc.deviceHandler = handlers.NewDeviceHandler()

	app := fiber.New(fiber.Config{
		ErrorHandler: svc.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Device-API-Key",
	}))

	app.Get("/ping", svc.ping)
	app.Get("/swagger/*", swagger.HandlerDefault)

	v1 := app.Group("/api/v1")
	v1.Get("/ping", svc.ping)

	// Device traffic authenticates with an API key; the key carries its
	// own per-minute throttle so no endpoint gate applies here.
	device := v1.Group("/device", svc.apiKeySvc.RequireDeviceKey())
	device.Get("/me", svc.deviceHandler.Me)

	// Admin security surface: JWT auth plus the stricter superadmin gate.
	security := v1.Group("/security",
		svc.rateLimitSvc.EndpointRateLimit(shared.EndpointSuperAdmin),
		svc.jwtSvc.RequiredAuth(),
	)

	security.Post("/blacklist", svc.securityHandler.BlacklistIP)
	security.Get("/blacklist/:ip", svc.securityHandler.GetBlacklistStatus)
	security.Delete("/blacklist/:ip", svc.securityHandler.UnblacklistIP)
	security.Get("/rate-limits/:key", svc.securityHandler.GetRateLimitStatus)
	security.Delete("/rate-limits/:key", svc.securityHandler.ResetRateLimit)

	security.Post("/api-keys", svc.apiKeyHandler.GenerateApiKey)
	security.Get("/api-keys/expiring", svc.apiKeyHandler.GetExpiringApiKeys)
	security.Get("/api-keys/stale", svc.apiKeyHandler.GetStaleApiKeys)
	security.Get("/api-keys/:keyId", svc.apiKeyHandler.GetApiKey)
	security.Delete("/api-keys/:keyId", svc.apiKeyHandler.RevokeApiKey)
	security.Post("/api-keys/:keyId/rotate", svc.apiKeyHandler.RotateApiKey)
	security.Get("/devices/:deviceId/api-keys", svc.apiKeyHandler.GetDeviceApiKeys)
	security.Get("/tenants/:tenantId/api-keys", svc.apiKeyHandler.GetTenantApiKeys)

	app.Use(func(c *fiber.Ctx) error {
		return shared.ResponseJSON(c, http.StatusNotFound, "Not Found", nil)
	})

	svc.server = app
	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")
	return shared.ResponseJSON(c, http.StatusOK, "Success", "pong")
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	if fiberErr, ok := err.(*fiber.Error); ok {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	return shared.ResponseInternalError(c, err)
}
