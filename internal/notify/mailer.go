package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

// Mailer delivers notifications to an assignee address. Delivery is best
// effort: callers log failures and continue.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewMailer returns an SMTP mailer, or a logging stub when no host is
// configured so local runs work without a mail relay.
func NewMailer(cfg config.SMTPConfig, logger *zap.Logger) Mailer {
	if strings.TrimSpace(cfg.Host) == "" {
		logger.Warn("SMTP_HOST not provided; mail delivery disabled")
		return &logMailer{logger: logger}
	}
	return &smtpMailer{cfg: cfg, logger: logger}
}

type smtpMailer struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.From, to, subject, body)

	addr := m.cfg.Host + ":" + m.cfg.Port
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	m.logger.Debug("mail sent",
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}

// logMailer records the would-be delivery and succeeds.
type logMailer struct {
	logger *zap.Logger
}

func (m *logMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("mail delivery skipped (no SMTP host)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}
