// Package notify provides Notifier implementations: SMTP delivery for real
// deployments and a log-only notifier for development.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/wardline/staffauth"
)

// SMTPConfig configures the SMTP notifier.
type SMTPConfig struct {
	Host               string
	Port               int
	From               string
	Username           string
	Password           string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// SMTPNotifier delivers one-time codes by email.
type SMTPNotifier struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTPNotifier {
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTPNotifier{cfg: cfg}
}

// Deliver sends the code. DialAndSend has no context plumbing, so it runs in
// a goroutine and ctx expiry abandons the attempt; an abandoned send may
// still land, which is acceptable for a code the recipient owns anyway.
func (s *SMTPNotifier) Deliver(ctx context.Context, n staffauth.CodeNotification) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", n.Email)
	m.SetHeader("Subject", subjectFor(n.Purpose))
	m.SetBody("text/plain", fmt.Sprintf(
		"Your verification code is %s. It expires in %d minutes.\n\nIf you did not request this code, contact your administrator.",
		n.Code, int(n.ExpiresIn.Minutes()),
	))

	return s.send(ctx, m)
}

func (s *SMTPNotifier) send(ctx context.Context, m *mail.Message) error {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.cfg.InsecureSkipVerify}
	}

	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConfirmPasswordChange sends a plain notification that the account password
// was changed. Callers treat failures as non-fatal.
func (s *SMTPNotifier) ConfirmPasswordChange(ctx context.Context, email string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Your password was changed")
	m.SetBody("text/plain",
		"The password for your account was just changed.\n\nIf this was not you, contact your administrator immediately.")

	return s.send(ctx, m)
}

func subjectFor(p staffauth.OTPPurpose) string {
	switch p {
	case staffauth.PurposeRecovery:
		return "Password recovery code"
	default:
		return "Your sign-in code"
	}
}
