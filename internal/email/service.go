// Package email delivers alert notifications via SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/observability"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host       string
	Port       string
	Username   string
	Password   string
	From       string
	FromName   string
	AppURL     string
	MaxRetries int
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config     Config
	server     string
	auth       smtp.Auth
	send       SendFunc
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
	metrics    *observability.Metrics
}

type Option func(*Service)

// WithSender replaces smtp.SendMail, mainly for tests.
func WithSender(send SendFunc) Option {
	return func(s *Service) { s.send = send }
}

// WithBackOff sets the retry policy factory. It is called once per message.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackOff = f }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new email service
func NewService(config Config, opts ...Option) *Service {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	s := &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
		logger: zap.NewNop(),
	}
	s.newBackOff = s.defaultBackOff
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	return backoff.WithMaxRetries(b, uint64(s.config.MaxRetries))
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(ctx context.Context, to []string, subject, body string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		s.fromHeader(),
		subject,
		body,
	))
	return s.deliver(ctx, to, msg)
}

// SendHTMLEmail sends a multipart email with a plain-text fallback.
func (s *Service) SendHTMLEmail(ctx context.Context, to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	return s.deliver(ctx, to, buildMultipart(to, s.fromHeader(), subject, textBody, htmlBody))
}

func buildMultipart(to []string, from, subject, textBody, htmlBody string) []byte {
	boundary := "boundary-vizdots"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// deliver sends msg, retrying transient failures with exponential backoff.
func (s *Service) deliver(ctx context.Context, to []string, msg []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
			s.logger.Warn("smtp send failed",
				zap.Int("attempt", attempt),
				zap.Strings("to", to),
				zap.Error(err))
			return err
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx))
	if err != nil {
		s.metrics.EmailDelivery("failed")
		return fmt.Errorf("send email after %d attempt(s): %w", attempt, err)
	}
	if attempt > 1 {
		s.metrics.EmailDelivery("retried")
	} else {
		s.metrics.EmailDelivery("sent")
	}
	return nil
}

// CriticalAlertData feeds criticalAlertTemplate.
type CriticalAlertData struct {
	AppName   string
	AlertType string
	Scope     string
	Summary   string
	Trend     string
	Coaching  []alerts.CoachingSuggestion
	AlertURL  string
	AlertDate string
}

// NotifyCriticalAlerts sends one email per critical alert to recipients.
// Non-critical alerts are ignored. Delivery keeps going after a failure and
// the joined error is returned.
func (s *Service) NotifyCriticalAlerts(ctx context.Context, recipients []string, items []alerts.Alert) error {
	critical := alerts.Critical(items)
	if len(critical) == 0 || len(recipients) == 0 {
		return nil
	}
	if !s.IsConfigured() {
		s.logger.Debug("email not configured, skipping alert notifications", zap.Int("alerts", len(critical)))
		return nil
	}

	var errs []error
	for _, a := range critical {
		data := criticalAlertData(a, s.config.AppURL)
		subject := fmt.Sprintf("[VizDots] Critical alert: %s", data.AlertType)
		html, err := renderTemplate(criticalAlertTemplate, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("render alert %s: %w", a.ID, err))
			continue
		}
		if err := s.SendHTMLEmail(ctx, recipients, subject, a.Summary, html); err != nil {
			errs = append(errs, fmt.Errorf("notify alert %s: %w", a.ID, err))
			continue
		}
		s.logger.Info("critical alert notification sent",
			zap.String("alert_id", a.ID),
			zap.Int("recipients", len(recipients)))
	}
	return errors.Join(errs...)
}

func criticalAlertData(a alerts.Alert, appURL string) CriticalAlertData {
	scope := "Whole organization"
	if a.DepartmentID != nil {
		scope = "Department " + *a.DepartmentID
	}
	data := CriticalAlertData{
		AppName:   "VizDots",
		AlertType: strings.ReplaceAll(string(a.AlertType), "_", " "),
		Scope:     scope,
		Summary:   a.Summary,
		Trend:     string(a.Details.Trend),
		Coaching:  a.CoachingSuggestions,
		AlertDate: a.AlertDate.Format("2006-01-02"),
	}
	if appURL != "" {
		data.AlertURL = strings.TrimRight(appURL, "/") + "/dashboard/alerts/" + a.ID
	}
	return data
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const criticalAlertTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}} critical alert</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #c0392b; padding-bottom: 10px; margin-bottom: 20px; }
        .summary { background: #fdecea; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .button { display: inline-block; padding: 12px 24px; background: #c0392b; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Critical alert: {{.AlertType}}</h2>
    <p>{{.Scope}} &middot; {{.AlertDate}} &middot; trend {{.Trend}}</p>

    <div class="summary">{{.Summary}}</div>
{{if .Coaching}}
    <h3>Suggested next steps</h3>
    <ol>
{{range .Coaching}}        <li><strong>{{.Action}}</strong> ({{.Effort}} effort): {{.Reason}}</li>
{{end}}    </ol>
{{end}}{{if .AlertURL}}
    <p>
        <a href="{{.AlertURL}}" class="button">Review alert</a>
    </p>
{{end}}
    <div class="footer">
        <p>You receive this email because you are an administrator of this organization.</p>
    </div>
</body>
</html>`
