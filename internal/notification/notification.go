// Package notification alerts operators about messages that left the
// automated pipeline: dead letters and validation failures. Delivery is
// best-effort; a notification failure never changes pipeline state.
package notification

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/befundwerk/ingest-api/internal/config"
	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/pkg/logger"
)

type Notifier interface {
	NotifyDeadLettered(msg *model.RawMessage, reason string)
	NotifyValidationFailed(msg *model.RawMessage, reason string)
}

// EmailNotifier sends operator alerts over SMTP.
type EmailNotifier struct {
	dialer *gomail.Dialer
	from   string
	to     string
	logger *logger.Logger
}

func NewEmailNotifier(cfg *config.SMTPConfig, logger *logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		to:     cfg.OpsEmail,
		logger: logger.WithComponent("notification"),
	}
}

func (n *EmailNotifier) NotifyDeadLettered(msg *model.RawMessage, reason string) {
	subject := fmt.Sprintf("[ingest] message %s dead-lettered", msg.ID)
	n.send(msg, subject, reason)
}

func (n *EmailNotifier) NotifyValidationFailed(msg *model.RawMessage, reason string) {
	subject := fmt.Sprintf("[ingest] message %s failed validation", msg.ID)
	n.send(msg, subject, reason)
}

func (n *EmailNotifier) send(msg *model.RawMessage, subject, reason string) {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", subject)
	// No payload content in the mail: it may contain patient data.
	m.SetBody("text/plain", fmt.Sprintf(
		"raw message: %s\nsource: %s\ncontent type: %s\nattempts: %d\nreason: %s\n",
		msg.ID, msg.SourceID, msg.ContentType, msg.Attempts, reason))

	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Error(err, "failed to send operator notification",
			"raw_message_id", msg.ID.String())
	}
}

// NopNotifier is used when SMTP is disabled and in tests.
type NopNotifier struct{}

func (NopNotifier) NotifyDeadLettered(*model.RawMessage, string) {}

func (NopNotifier) NotifyValidationFailed(*model.RawMessage, string) {}
