// Package email delivers buyer notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"3tcapital/ms_emision_electronica/internal/core/notification"

	"github.com/wneessen/go-mail"
)

// Sender is the part of *mail.Client the notifier needs.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// Notifier implements notification.Notifier.
type Notifier struct {
	sender Sender
	from   string
	log    *slog.Logger
}

var _ notification.Notifier = (*Notifier)(nil)

// NewClient creates an SMTP client from cfg.
func NewClient(cfg Config) (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

// NewNotifier creates a notifier sending from the given address.
func NewNotifier(sender Sender, from string, log *slog.Logger) *Notifier {
	return &Notifier{sender: sender, from: from, log: log}
}

// Send delivers msg with its attachments.
func (n *Notifier) Send(ctx context.Context, msg notification.Message) error {
	if msg.To == "" {
		return errors.New("send notification: recipient is required")
	}

	m, err := n.compose(msg)
	if err != nil {
		return err
	}

	if err := n.sender.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	n.log.Info("Notification sent",
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return nil
}

func (n *Notifier) compose(msg notification.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(n.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	for _, a := range msg.Attachments {
		if err := m.AttachReader(a.Name, bytes.NewReader(a.Data), mail.WithFileContentType(mail.ContentType(a.ContentType))); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return m, nil
}

// LogNotifier stands in when email is disabled: it logs what would have been sent.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs msg.
func (n *LogNotifier) Send(ctx context.Context, msg notification.Message) error {
	n.log.Info("Email disabled, notification not sent",
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return nil
}
