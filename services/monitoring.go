package services

import (
	"fmt"
	"os"
	"strconv"
	"time"

	serviceContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	SERVICE_NAME            = "sentinel_api"
	DEFAULT_PROMETHEUS_PORT = 2112
)

// Security core metrics
var (
	rateLimitChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_checks_total",
			Help: "Total rate limit checks by endpoint category and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	rateLimitViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_violations_total",
			Help: "Total recorded rate limit violations",
		},
		[]string{"endpoint"},
	)

	blacklistEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blacklist_events_total",
			Help: "Total blacklist additions and removals",
		},
		[]string{"action"},
	)

	apiKeyValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_api_key_validations_total",
			Help: "Total device API key validations by outcome",
		},
		[]string{"outcome"},
	)
)

// Metric outcome labels
const (
	OutcomeAllowed     = "allowed"
	OutcomeDenied      = "denied"
	OutcomeBlacklisted = "blacklisted"
	OutcomeWhitelisted = "whitelisted"
	OutcomeError       = "error"

	OutcomeValid       = "valid"
	OutcomeInvalid     = "invalid"
	OutcomeInactive    = "inactive"
	OutcomeExpired     = "expired"
	OutcomeIPRejected  = "ip_rejected"
	OutcomeThrottled   = "throttled"
	OutcomeCheckFailed = "check_failed"

	BlacklistActionAuto    = "auto"
	BlacklistActionManual  = "manual"
	BlacklistActionRemoved = "removed"
)

func RecordRateLimitCheck(endpoint, outcome string) {
	rateLimitChecksTotal.WithLabelValues(endpoint, outcome).Inc()
}

func RecordRateLimitViolation(endpoint string) {
	rateLimitViolationsTotal.WithLabelValues(endpoint).Inc()
}

func RecordBlacklistEvent(action string) {
	blacklistEventsTotal.WithLabelValues(action).Inc()
}

func RecordApiKeyValidation(outcome string) {
	apiKeyValidationsTotal.WithLabelValues(outcome).Inc()
}

type MonitoringService struct {
	serviceContext.DefaultService

	port     int
	register *prometheus.Registry

	closed chan struct{}
	server *fiber.App
}

func (svc *MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Start() error {
	svc.closed = make(chan struct{}, 1)

	portStr := os.Getenv("PROMETHEUS_PORT")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = DEFAULT_PROMETHEUS_PORT
	}
	svc.port = port

	reg := prometheus.NewRegistry()

	// Default collectors (includes Go runtime metrics like memory)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg.MustRegister(
		rateLimitChecksTotal,
		rateLimitViolationsTotal,
		blacklistEventsTotal,
		apiKeyValidationsTotal,
	)

	svc.register = reg

	svc.initializeMetrics()

	config := fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		},
	}

	svc.server = fiber.New(config)
	svc.server.Use(recover.New())

	svc.server.Get("/metrics", svc.metricsHandler)
	svc.server.Get("/health", svc.healthHandler)

	// The metrics listener must never hold up the API itself.
	go func() {
		log.Info().Int("port", svc.port).Msg("Prometheus metrics server started")
		if err := svc.server.Listen(fmt.Sprintf(":%v", svc.port)); err != nil {
			log.Error().Err(err).Msg("Prometheus metrics server stopped")
		}
	}()

	return nil
}

func (svc *MonitoringService) Shutdown() {
	svc.closed <- struct{}{}
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

func (svc *MonitoringService) metricsHandler(c *fiber.Ctx) error {
	handler := promhttp.HandlerFor(svc.register, promhttp.HandlerOpts{})
	return adaptor.HTTPHandler(handler)(c)
}

func (svc *MonitoringService) healthHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"service":   SERVICE_NAME,
		"timestamp": time.Now().Unix(),
	})
}

func (svc *MonitoringService) initializeMetrics() {
	for _, outcome := range []string{OutcomeAllowed, OutcomeDenied, OutcomeBlacklisted, OutcomeWhitelisted, OutcomeError} {
		rateLimitChecksTotal.WithLabelValues("general", outcome).Add(0)
	}
	for _, action := range []string{BlacklistActionAuto, BlacklistActionManual, BlacklistActionRemoved} {
		blacklistEventsTotal.WithLabelValues(action).Add(0)
	}
	for _, outcome := range []string{OutcomeValid, OutcomeInvalid, OutcomeThrottled} {
		apiKeyValidationsTotal.WithLabelValues(outcome).Add(0)
	}

	log.Info().Msg("Metrics initialized successfully")
}
