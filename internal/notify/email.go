package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	BaseURL  string
}

// Email is a rendered message.
type Email struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

var subjects = map[models.NotificationKind]string{
	models.NotificationWarning:  "You've used {{.Percentage}}% of your monthly leads",
	models.NotificationLimit:    "You've reached your monthly lead limit",
	models.NotificationFollowUp: "Your leads are waiting for a reply",
	models.NotificationReset:    "Your monthly lead quota has been reset",
}

var textBodies = map[models.NotificationKind]string{
	models.NotificationWarning: `Hi {{.Name}},

You have used {{.Used}} of {{.Cap}} leads ({{.Percentage}}%) this month.
Your quota resets on {{.ResetDate}}.

Upgrade your plan: {{.UpgradeURL}}
`,
	models.NotificationLimit: `Hi {{.Name}},

You have reached your monthly limit of {{.Cap}} leads. New leads are still saved,
but drafts are paused until your quota resets on {{.ResetDate}}.

Upgrade now: {{.UpgradeURL}}
`,
	models.NotificationFollowUp: `Hi {{.Name}},

Drafting has been paused {{if .LimitDate}}since {{.LimitDate}}, when{{else}}since{{end}} your account reached its limit of {{.Cap}} leads.
Your quota resets on {{.ResetDate}}.

Upgrade your plan: {{.UpgradeURL}}
`,
	models.NotificationReset: `Hi {{.Name}},

Your monthly quota has been reset and you have {{.Cap}} leads available again.

View your usage: {{.UsageURL}}
`,
}

// EmailSink delivers tenant notifications over SMTP.
type EmailSink struct {
	config   SMTPConfig
	html     *template.Template
	text     map[models.NotificationKind]*texttemplate.Template
	subjects map[models.NotificationKind]*texttemplate.Template
	sendMail SendMailFunc
	logger   *logging.Logger
}

// EmailOption configures an EmailSink.
type EmailOption func(*EmailSink)

// WithSendMail replaces the SMTP transport.
func WithSendMail(fn SendMailFunc) EmailOption {
	return func(s *EmailSink) {
		s.sendMail = fn
	}
}

// NewEmailSink parses the embedded templates and returns a sink.
func NewEmailSink(config SMTPConfig, logger *logging.Logger, opts ...EmailOption) (*EmailSink, error) {
	if config.FromName == "" {
		config.FromName = "InboxPilot"
	}
	if config.Port == 0 {
		config.Port = 587
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	html, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	s := &EmailSink{
		config:   config,
		html:     html,
		text:     make(map[models.NotificationKind]*texttemplate.Template),
		subjects: make(map[models.NotificationKind]*texttemplate.Template),
		sendMail: smtp.SendMail,
		logger:   logger,
	}
	for kind, body := range textBodies {
		s.text[kind] = texttemplate.Must(texttemplate.New(string(kind)).Parse(body))
		s.subjects[kind] = texttemplate.Must(texttemplate.New(string(kind)).Parse(subjects[kind]))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type emailData struct {
	Name       string
	Used       int64
	Cap        int64
	Percentage int
	ResetDate  string
	LimitDate  string
	UsageURL   string
	UpgradeURL string
	Year       int
}

// Render builds the email for n without sending it.
func (s *EmailSink) Render(n Notification) (Email, error) {
	text, ok := s.text[n.Kind]
	if !ok {
		return Email{}, fmt.Errorf("unknown notification kind: %q", n.Kind)
	}

	data := emailData{
		Name:       n.Name,
		Used:       n.Usage.Used,
		Cap:        n.Usage.Cap,
		Percentage: n.Usage.Percentage,
		ResetDate:  n.Usage.ResetDate.Format("January 2, 2006"),
		UsageURL:   s.config.BaseURL + "/settings/usage",
		UpgradeURL: s.config.BaseURL + "/settings/billing",
		Year:       n.Timestamp.Year(),
	}
	if n.HitAt != nil {
		data.LimitDate = n.HitAt.In(n.Usage.ResetDate.Location()).Format("January 2")
	}

	var subject, textBody, htmlBody bytes.Buffer
	if err := s.subjects[n.Kind].Execute(&subject, data); err != nil {
		return Email{}, fmt.Errorf("failed to render %s subject: %w", n.Kind, err)
	}
	if err := text.Execute(&textBody, data); err != nil {
		return Email{}, fmt.Errorf("failed to render %s text body: %w", n.Kind, err)
	}
	if err := s.html.ExecuteTemplate(&htmlBody, string(n.Kind)+".html", data); err != nil {
		return Email{}, fmt.Errorf("failed to render %s html body: %w", n.Kind, err)
	}

	return Email{
		To:       n.Address,
		Subject:  subject.String(),
		HTMLBody: htmlBody.String(),
		TextBody: textBody.String(),
	}, nil
}

// Send renders and delivers n.
func (s *EmailSink) Send(ctx context.Context, n Notification) error {
	email, err := s.Render(n)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := s.sendMail(addr, auth, s.config.From, []string{email.To}, s.buildMessage(email)); err != nil {
		s.logger.ErrorWithContext(ctx, "failed to send email",
			"tenant_id", n.TenantID,
			"kind", string(n.Kind),
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoWithContext(ctx, "email sent",
		"tenant_id", n.TenantID,
		"kind", string(n.Kind),
	)
	return nil
}

func (s *EmailSink) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	boundary := fmt.Sprintf("usagecap-%d", time.Now().UnixNano())

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", s.config.FromName, s.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", email.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", email.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

var _ Sink = (*EmailSink)(nil)
