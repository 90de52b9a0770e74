// Package mail renders and sends the five transactional emails behind the
// job queue: verification, password reset, welcome, enrollment and course
// completion.
//
// Handlers only render and hand the message to a [Mailer]. A send error
// fails the attempt and the queue's retry policy takes over; handlers never
// retry on their own.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/herald"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers a rendered message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs messages instead of sending them. Use it in development.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that writes every message to logger.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail (log transport)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}

// FromConfig returns the transport selected by cfg.Transport.
func FromConfig(cfg herald.MailConfig, logger *slog.Logger) (Mailer, error) {
	switch cfg.Transport {
	case "", "log":
		return NewLogMailer(logger), nil
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, errors.New("herald/mail: smtp transport requires a host")
		}
		return NewSMTPMailer(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
		}), nil
	default:
		return nil, fmt.Errorf("herald/mail: unknown transport %q", cfg.Transport)
	}
}
