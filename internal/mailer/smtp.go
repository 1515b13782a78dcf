package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/lafoncedalle/reviewlink/internal/config"
)

// Mailer delivers verification codes to customers.
type Mailer interface {
	SendVerificationCode(ctx context.Context, toEmail, code string, ttl time.Duration) error
}

// SMTPMailer sends verification emails over SMTP
type SMTPMailer struct {
	cfg config.MailConfig
}

// NewSMTPMailer creates a mailer from SMTP configuration
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// SendVerificationCode emails a one-time code to the address being verified.
func (m *SMTPMailer) SendVerificationCode(ctx context.Context, toEmail, code string, ttl time.Duration) error {
	if m.cfg.Host == "" {
		return fmt.Errorf("missing required SMTP configuration")
	}

	subject := "Your verification code"
	body := fmt.Sprintf(
		"Hello,\n\nYour verification code is: %s\n\nIt expires in %d minutes. If you did not request this code, ignore this message.\n",
		code, int(ttl.Minutes()),
	)

	msg := fmt.Sprintf("From: %s\r\n", m.cfg.FromEmail)
	msg += fmt.Sprintf("To: %s\r\n", toEmail)
	msg += fmt.Sprintf("Subject: %s\r\n", subject)
	msg += "MIME-Version: 1.0\r\n"
	msg += "Content-Type: text/plain; charset=UTF-8\r\n"
	msg += "\r\n"
	msg += body

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	// net/smtp has no context support; honor cancellation around the call.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.cfg.FromEmail, []string{toEmail}, []byte(msg))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	}
}
