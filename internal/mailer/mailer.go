// Package mailer отправляет письма участникам сделок.
package mailer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"github.com/ignatzorin/revmark-backend/internal/logger"
)

// Mailer отправляет одно текстовое письмо.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig - параметры SMTP сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer отправляет письма через SMTP.
type SMTPMailer struct {
	mu     sync.Mutex
	client *mail.Client
	from   string
}

// NewSMTPMailer создаёт SMTP клиента. Соединение открывается на каждую отправку.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: new client: %w", err)
	}

	return &SMTPMailer{client: client, from: cfg.From}, nil
}

// Send отправляет текстовое письмо.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("mailer: from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mailer: to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	return nil
}

// LogMailer пишет письма в лог. Используется, когда SMTP не настроен.
type LogMailer struct{}

// Send логирует письмо.
func (LogMailer) Send(_ context.Context, to, subject, body string) error {
	logger.L().WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
		"body":    body,
	}).Info("email (smtp не настроен)")
	return nil
}
