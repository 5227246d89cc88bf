package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	defaultHost  = "https://api.sendgrid.com"
	sendEndpoint = "/v3/mail/send"
)

// Email is a single outbound message.
type Email struct {
	ToName    string
	ToAddress string
	Subject   string
	PlainText string
	HTML      string
}

// Sender delivers emails.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// SendGridConfig configures the SendGrid sender.
type SendGridConfig struct {
	APIKey    string
	Host      string
	FromName  string
	FromEmail string
}

// SendGridSender posts messages to the SendGrid v3 mail API.
type SendGridSender struct {
	key    string
	host   string
	from   *sgmail.Email
	logger *zap.Logger
}

// NewSendGridSender builds a sender. An empty host targets the public API.
func NewSendGridSender(cfg SendGridConfig, logger *zap.Logger) *SendGridSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	return &SendGridSender{
		key:    cfg.APIKey,
		host:   host,
		from:   sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

func (s *SendGridSender) prepare(email Email) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = email.Subject
	p.AddTos(sgmail.NewEmail(email.ToName, email.ToAddress))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)

	m.AddContent(sgmail.NewContent("text/plain", email.PlainText))
	if email.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", email.HTML))
	}
	return m
}

// Send delivers one email. Any 4xx/5xx response is an error.
func (s *SendGridSender) Send(ctx context.Context, email Email) error {
	if email.ToAddress == "" {
		return fmt.Errorf("send email: missing recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.key, sendEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(email))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send email: sendgrid status %d: %s", res.StatusCode, res.Body)
	}

	s.logger.Debug("email sent", zap.String("subject", email.Subject), zap.Int("status", res.StatusCode))
	return nil
}

// LogSender writes emails to the log. Used when no API key is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, email Email) error {
	s.logger.Info("email (log only)",
		zap.String("to", email.ToAddress),
		zap.String("subject", email.Subject),
	)
	return nil
}
