// Package mailer delivers human-facing alert email. Transport is
// synchronous, blocking, and unretried; callers treat failures as
// non-fatal.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"flipwatch/internal/config"
)

// Mailer defines the outbound notification surface.
type Mailer interface {
	Send(ctx context.Context, subject, body, to string, isHTML bool) error
}

// SMTPMailer sends via a single SMTP endpoint with STARTTLS when the
// server offers it.
type SMTPMailer struct {
	host      string
	port      int
	username  string
	password  string
	from      string
	defaultTo string
	logger    zerolog.Logger
}

// NewSMTPMailer constructs an SMTP mailer from mail configuration.
func NewSMTPMailer(cfg config.MailConfig, logger zerolog.Logger) *SMTPMailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	return &SMTPMailer{
		host:      cfg.Host,
		port:      cfg.Port,
		username:  cfg.Username,
		password:  cfg.Password,
		from:      from,
		defaultTo: cfg.To,
		logger:    logger.With().Str("component", "mailer").Logger(),
	}
}

// Send delivers one message. An empty recipient falls back to the
// configured default.
func (m *SMTPMailer) Send(ctx context.Context, subject, body, to string, isHTML bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	recipient := strings.TrimSpace(to)
	if recipient == "" {
		recipient = m.defaultTo
	}
	if recipient == "" {
		return fmt.Errorf("no recipient configured")
	}

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	msg := renderMessage(m.from, recipient, subject, body, isHTML)

	if err := smtp.SendMail(addr, auth, m.from, []string{recipient}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	m.logger.Info().Str("to", recipient).Str("subject", subject).Msg("email sent")
	return nil
}

func renderMessage(from, to, subject, body string, isHTML bool) []byte {
	contentType := "text/plain; charset=\"utf-8\""
	if isHTML {
		contentType = "text/html; charset=\"utf-8\""
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("From: %s\r\n", from))
	builder.WriteString(fmt.Sprintf("To: %s\r\n", to))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString(fmt.Sprintf("Content-Type: %s\r\n", contentType))
	builder.WriteString("\r\n")
	builder.WriteString(body)
	return []byte(builder.String())
}

var _ Mailer = (*SMTPMailer)(nil)
