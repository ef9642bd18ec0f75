package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sender delivers plain-text email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailNotifier mails alerts to a fixed recipient list.
type EmailNotifier struct {
	sender Sender
	to     []string
}

// NewEmailNotifier creates an EmailNotifier.
func NewEmailNotifier(sender Sender, to ...string) *EmailNotifier {
	return &EmailNotifier{sender: sender, to: to}
}

// Name implements Notifier.
func (e *EmailNotifier) Name() string { return "email" }

// Notify implements Notifier. Every recipient is attempted; the first error
// is returned.
func (e *EmailNotifier) Notify(ctx context.Context, a Alert) error {
	subject := fmt.Sprintf("[artha-integrity] %s: %s %s", a.Verdict, a.RecordType, a.RecordID)
	body := renderEmail(a)

	var firstErr error
	for _, to := range e.to {
		if err := e.sender.Send(ctx, to, subject, body); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("send to %s: %w", to, err)
		}
	}
	return firstErr
}

func renderEmail(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Integrity alert %s\n\n", a.ID)
	fmt.Fprintf(&b, "Record:      %s (%s)\n", a.RecordID, a.RecordType)
	fmt.Fprintf(&b, "Verdict:     %s\n", a.Verdict)
	if a.LedgerRef != "" {
		fmt.Fprintf(&b, "Ledger ref:  %s\n", a.LedgerRef)
	}
	if a.Reason != "" {
		fmt.Fprintf(&b, "Reason:      %s\n", a.Reason)
	}
	fmt.Fprintf(&b, "Detected at: %s\n", a.DetectedAt.Format(time.RFC3339))
	if a.Kind == KindMismatch {
		b.WriteString("\nThe record no longer matches the digest committed to the ledger.\n")
		b.WriteString("Check the audit trail for this record before taking action.\n")
	}
	return b.String()
}

// SMTPSender sends email via an SMTP server.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

// Send delivers a plain-text email.
func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	// 465 is implicit TLS; smtp.SendMail upgrades 587 with STARTTLS.
	if s.port == 465 {
		return s.sendImplicitTLS(addr, auth, to, []byte(msg))
	}
	return smtp.SendMail(addr, auth, s.from, []string{to}, []byte(msg))
}

func (s *SMTPSender) sendImplicitTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	return wc.Close()
}

// LogSender logs emails instead of delivering them. Use in development.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender backed by the given logger.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the email and returns nil.
func (l *LogSender) Send(_ context.Context, to, subject, body string) error {
	l.logger.Info("alert email (not sent)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
