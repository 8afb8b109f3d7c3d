// Package notify sends reminder emails over SMTP.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"

	"loanbook/internal/config"
	appLog "loanbook/internal/log"
	"loanbook/internal/model"
)

var ErrNotConfigured = errors.New("notify: smtp host, sender or recipient missing")

// Message is a plain-text email with optional file attachments.
type Message struct {
	Subject     string
	Body        string
	Attachments []string
}

// LoanSubject is the subject line for a loan reminder.
func LoanSubject(e model.LoanEntry) string {
	return "Loan from: " + e.Name
}

// LoanBody is the plain-text reminder body.
func LoanBody(e model.LoanEntry) string {
	return "Reminder:\n\n" +
		"Name: " + e.Name + "\n" +
		"Loan: " + e.Item + "\n\n" +
		"Start: " + e.Start.String() + "\n" +
		"End: " + e.End.String()
}

// LoanMessage builds the reminder email for e with the calendar file
// attached.
func LoanMessage(e model.LoanEntry, reminderPath string) Message {
	m := Message{Subject: LoanSubject(e), Body: LoanBody(e)}
	if reminderPath != "" {
		m.Attachments = []string{reminderPath}
	}
	return m
}

// DigestMessage lists the loans whose reminder falls today.
func DigestMessage(entries []model.LoanEntry) Message {
	var b strings.Builder
	b.WriteString("Loans ending today:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n- %s: %s (%s), %s", e.Name, e.Item, e.Company, e.Period())
	}
	return Message{
		Subject: fmt.Sprintf("Loans ending today: %d", len(entries)),
		Body:    b.String(),
	}
}

// Mailer sends messages to the single configured recipient.
type Mailer struct {
	cfg config.MailConfig
}

func NewMailer(cfg config.MailConfig) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultConfig().Mail.Timeout
	}
	if cfg.Port <= 0 {
		cfg.Port = config.DefaultConfig().Mail.Port
	}
	return &Mailer{cfg: cfg}
}

// Recipient returns the configured destination address.
func (m *Mailer) Recipient() string {
	return m.cfg.To
}

// Compose turns msg into a MIME message from the sender to the recipient.
func (m *Mailer) Compose(msg Message) (*mail.Msg, error) {
	if !m.cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	out := mail.NewMsg()
	if err := out.From(m.cfg.Sender); err != nil {
		return nil, fmt.Errorf("notify: sender %q: %w", m.cfg.Sender, err)
	}
	if err := out.To(m.cfg.To); err != nil {
		return nil, fmt.Errorf("notify: recipient %q: %w", m.cfg.To, err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextPlain, msg.Body)

	for _, path := range msg.Attachments {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("notify: attachment: %w", err)
		}
		out.AttachFile(path, mail.WithFileName(filepath.Base(path)))
	}
	return out, nil
}

// Send composes msg and delivers it. The whole exchange is bounded by the
// configured timeout.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	out, err := m.Compose(msg)
	if err != nil {
		return err
	}

	client, err := m.client()
	if err != nil {
		return fmt.Errorf("notify: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	appLog.Info("sending email", "host", m.cfg.Host, "port", m.cfg.Port, "to", m.cfg.To, "subject", msg.Subject)
	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("notify: send to %s: %w", m.cfg.To, err)
	}
	appLog.Info("email sent", "to", m.cfg.To)
	return nil
}

func (m *Mailer) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if m.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Sender),
			mail.WithPassword(m.cfg.Password),
		)
	}
	return mail.NewClient(m.cfg.Host, opts...)
}
