package services

import (
	"context"
	"os"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	"github.com/hrforge/sentinel_api/model"
	"github.com/hrforge/sentinel_api/shared"
	log "github.com/sirupsen/logrus"
)

// AlertSink receives security alerts raised by the core. Implemented by
// AlertService; tests substitute a fake.
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *model.SecurityAlert, sendNotifications bool) error
}

type AlertService struct {
	appContext.DefaultService

	dbSvc    *DatabaseService
	emailSvc *EmailService

	recipients []string
}

const ALERT_SVC = "alert_svc"

func (svc AlertService) Id() string {
	return ALERT_SVC
}

func (svc *AlertService) Configure(ctx *appContext.Context) error {
	if raw := os.Getenv("SECURITY_ALERT_RECIPIENTS"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				svc.recipients = append(svc.recipients, addr)
			}
		}
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *AlertService) Start() error {
	svc.dbSvc = svc.Service(DATABASE_SVC).(*DatabaseService)
	svc.emailSvc = svc.Service(EMAIL_SVC).(*EmailService)
	return nil
}

// CreateAlert persists the alert and optionally fans out notifications.
// Notification failures never fail the alert itself.
func (svc *AlertService) CreateAlert(ctx context.Context, alert *model.SecurityAlert, sendNotifications bool) error {
	if alert.ID == "" {
		id, _ := uuid.NewV7()
		alert.ID = id.String()
	}
	if alert.Status == "" {
		alert.Status = shared.AlertStatusNew
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = alert.CreatedAt
	}

	if err := svc.dbSvc.Db().WithContext(ctx).Create(alert).Error; err != nil {
		log.WithError(err).WithField("alert_type", alert.AlertType).Error("Failed to persist security alert")
		return err
	}

	log.WithFields(log.Fields{
		"alert_id":   alert.ID,
		"alert_type": alert.AlertType,
		"severity":   alert.Severity,
		"risk_score": alert.RiskScore,
		"ip":         alert.IpAddress,
	}).Warn("Security alert created")

	if sendNotifications && svc.emailSvc.Enabled() {
		go func(a model.SecurityAlert) {
			if err := svc.emailSvc.SendSecurityAlert(svc.recipients, &a); err != nil {
				log.WithError(err).WithField("alert_id", a.ID).Warn("Failed to send alert notification")
			}
		}(*alert)
	}

	return nil
}
