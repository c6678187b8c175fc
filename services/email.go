package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"strings"

	"github.com/alphabatem/common/context"
	"github.com/hrforge/sentinel_api/model"
	log "github.com/sirupsen/logrus"
)

type EmailService struct {
	context.DefaultService

	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string
	fromName     string

	alertTemplate *template.Template
}

const EMAIL_SVC = "email_svc"

const securityAlertTemplate = `
<html>
<body>
<h2>{{.Title}}</h2>
<p><strong>Severity:</strong> {{.Severity}}</p>
<p><strong>Risk score:</strong> {{.RiskScore}}</p>
<p><strong>Source IP:</strong> {{.IpAddress}}</p>
<p><strong>Detected at:</strong> {{.DetectedAt}}</p>
<p>{{.Description}}</p>
</body>
</html>
`

func (svc EmailService) Id() string {
	return EMAIL_SVC
}

func (svc *EmailService) Configure(ctx *context.Context) error {
	svc.smtpHost = os.Getenv("SMTP_HOST")
	svc.smtpPort = os.Getenv("SMTP_PORT")
	svc.smtpUsername = os.Getenv("SMTP_USERNAME")
	svc.smtpPassword = os.Getenv("SMTP_PASSWORD")
	svc.fromEmail = os.Getenv("FROM_EMAIL")
	svc.fromName = os.Getenv("FROM_NAME")
	if svc.fromName == "" {
		svc.fromName = "Sentinel Security"
	}

	svc.alertTemplate = template.Must(template.New("security_alert").Parse(securityAlertTemplate))

	return svc.DefaultService.Configure(ctx)
}

func (svc *EmailService) Start() error {
	if svc.smtpHost == "" {
		log.Warn("SMTP not configured, alert notification emails disabled")
	}
	return nil
}

// Enabled reports whether SMTP delivery is configured.
func (svc *EmailService) Enabled() bool {
	return svc.smtpHost != ""
}

// SendSecurityAlert delivers an alert notification to the configured
// recipients. Delivery failures are reported to the caller, which treats
// them as non-fatal.
func (svc *EmailService) SendSecurityAlert(recipients []string, alert *model.SecurityAlert) error {
	if !svc.Enabled() {
		return fmt.Errorf("smtp not configured")
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no alert recipients configured")
	}

	var body bytes.Buffer
	if err := svc.alertTemplate.Execute(&body, alert); err != nil {
		return fmt.Errorf("failed to render alert template: %w", err)
	}

	headers := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: [%s] %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n",
		svc.fromName, svc.fromEmail, strings.Join(recipients, ", "), alert.Severity, alert.Title)

	msg := append([]byte(headers), body.Bytes()...)

	addr := fmt.Sprintf("%s:%s", svc.smtpHost, svc.smtpPort)
	auth := smtp.PlainAuth("", svc.smtpUsername, svc.smtpPassword, svc.smtpHost)

	if err := smtp.SendMail(addr, auth, svc.fromEmail, recipients, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	log.WithFields(log.Fields{
		"alert_id":   alert.ID,
		"recipients": len(recipients),
	}).Info("Security alert notification sent")

	return nil
}
