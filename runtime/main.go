package main

import (
	"os"

	"github.com/hrforge/sentinel_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// @title Sentinel API
// @version 1.0
// @description Abuse prevention and device credential service
// @BasePath /
func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal().Err(err).Msg("Error loading .env file")
	}

	ctx, err := context.NewCtx(
		&services.RedisService{},
		&services.DatabaseService{},

		&services.AuditService{},
		&services.EmailService{},
		&services.AlertService{},

		&services.JWTService{},
		&services.RateLimitService{},
		&services.ApiKeyService{},

		&services.MonitoringService{},
		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
