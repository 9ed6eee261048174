package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"gopkg.in/gomail.v2"

	"authtoken/internal/config"
	"authtoken/internal/lib/sl"
)

// Sender delivers prepared messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends reset and verification links over SMTP.
type Mailer struct {
	log       *slog.Logger
	sender    Sender
	from      string
	resetURL  string
	verifyURL string
}

// New creates a Mailer dialing the SMTP server from cfg.
func New(log *slog.Logger, cfg config.MailConfig) *Mailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return NewWithSender(log, cfg, dialer)
}

func NewWithSender(log *slog.Logger, cfg config.MailConfig, sender Sender) *Mailer {
	return &Mailer{
		log:       log,
		sender:    sender,
		from:      cfg.From,
		resetURL:  cfg.ResetURL,
		verifyURL: cfg.VerifyURL,
	}
}

// SendPasswordReset mails the reset link for token to email.
func (m *Mailer) SendPasswordReset(ctx context.Context, email, token string, expires time.Time) error {
	const op = "mailer.SendPasswordReset"

	link, err := withToken(m.resetURL, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	html, text := renderPasswordReset(link, expires)
	if err := m.send(ctx, email, "Password Reset Request", html, text); err != nil {
		m.log.Error("failed to send password reset email", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SendEmailVerification mails the verification link for token to email.
func (m *Mailer) SendEmailVerification(ctx context.Context, email, token string, expires time.Time) error {
	const op = "mailer.SendEmailVerification"

	link, err := withToken(m.verifyURL, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	html, text := renderEmailVerification(link, expires)
	if err := m.send(ctx, email, "Verify Your Email Address", html, text); err != nil {
		m.log.Error("failed to send verification email", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Mailer) send(ctx context.Context, to, subject, html, text string) error {
	if to == "" {
		return fmt.Errorf("no recipient specified")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)
	msg.AddAlternative("text/plain", text)

	return m.sender.DialAndSend(msg)
}

// withToken appends token as the "token" query parameter of base.
func withToken(base, token string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("link url is not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse link url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func renderPasswordReset(link string, expires time.Time) (html, text string) {
	until := expires.UTC().Format(time.RFC1123)
	html = fmt.Sprintf(`
		<p>Hi,</p>
		<p>We received a request to reset the password for your account.</p>
		<p>If you made this request, please click the link below to create a new password:</p>

		<p><a href="%s">%s</a></p>

		<p>This link expires at %s.</p>
		<p>If you did not request a password reset, you can safely ignore this email.</p>
	`, link, link, until)
	text = fmt.Sprintf("Reset your password: %s\nThis link expires at %s.\n", link, until)
	return html, text
}

func renderEmailVerification(link string, expires time.Time) (html, text string) {
	until := expires.UTC().Format(time.RFC1123)
	html = fmt.Sprintf(`
		<p>Hi,</p>
		<p>Please confirm your email address by clicking the link below:</p>

		<p><a href="%s">%s</a></p>

		<p>This link expires at %s.</p>
	`, link, link, until)
	text = fmt.Sprintf("Verify your email: %s\nThis link expires at %s.\n", link, until)
	return html, text
}

// Discard is used when SMTP is not configured; it only logs the delivery.
type Discard struct {
	log *slog.Logger
}

func NewDiscard(log *slog.Logger) *Discard {
	return &Discard{log: log}
}

func (d *Discard) SendPasswordReset(_ context.Context, email, _ string, expires time.Time) error {
	d.log.Debug("password reset email skipped", slog.String("email", email), slog.Time("expires", expires))
	return nil
}

func (d *Discard) SendEmailVerification(_ context.Context, email, _ string, expires time.Time) error {
	d.log.Debug("verification email skipped", slog.String("email", email), slog.Time("expires", expires))
	return nil
}
