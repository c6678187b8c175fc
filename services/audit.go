package services

import (
	"context"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/hrforge/sentinel_api/model"
	log "github.com/sirupsen/logrus"
)

// SecurityAuditor is the narrow audit surface the security core depends
// on. Implemented by AuditService; tests substitute a fake.
type SecurityAuditor interface {
	LogSecurityEvent(ctx context.Context, actionType, severity string, userID *string, description string, metadata map[string]interface{}) error
}

type AuditService struct {
	appContext.DefaultService

	dbSvc *DatabaseService
}

const AUDIT_SVC = "audit_svc"

func (svc AuditService) Id() string {
	return AUDIT_SVC
}

func (svc *AuditService) Configure(ctx *appContext.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *AuditService) Start() error {
	svc.dbSvc = svc.Service(DATABASE_SVC).(*DatabaseService)
	return nil
}

// LogSecurityEvent persists an audit row and mirrors it to the structured
// log. Metadata must never contain plaintext credentials.
func (svc *AuditService) LogSecurityEvent(ctx context.Context, actionType, severity string, userID *string, description string, metadata map[string]interface{}) error {
	var metadataJSON string
	if metadata != nil {
		b, err := sonic.Marshal(metadata)
		if err != nil {
			log.WithError(err).Warn("Failed to marshal audit metadata")
		} else {
			metadataJSON = string(b)
		}
	}

	id, _ := uuid.NewV7()
	entry := &model.AuditLog{
		ID:          id.String(),
		ActionType:  actionType,
		Severity:    severity,
		UserID:      userID,
		Description: description,
		Metadata:    metadataJSON,
		CreatedAt:   time.Now(),
	}

	logEntry := log.WithFields(log.Fields{
		"action_type": actionType,
		"severity":    severity,
		"description": description,
	})

	if err := svc.dbSvc.Db().WithContext(ctx).Create(entry).Error; err != nil {
		logEntry.WithError(err).Error("Failed to persist audit event")
		return err
	}

	switch severity {
	case "CRITICAL":
		logEntry.Error("Security event")
	case "WARNING":
		logEntry.Warn("Security event")
	default:
		logEntry.Info("Security event")
	}

	return nil
}
