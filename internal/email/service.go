// Package email sends account and activity notices via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL is linked from notices; empty omits the link.
	AppURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-qahub"

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
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type WelcomeData struct {
	AppName  string
	UserName string
	AppURL   string
}

type AnswerNoticeData struct {
	AppName    string
	UserName   string
	Question   string
	Answer     string
	Answerer   string
	AppURL     string
	QuestionID string
}

// SendWelcome greets a freshly registered user.
func (s *Service) SendWelcome(to, userName string) error {
	html, err := renderTemplate(welcomeEmailTemplate, WelcomeData{
		AppName:  "QAHub",
		UserName: userName,
		AppURL:   s.config.AppURL,
	})
	if err != nil {
		return fmt.Errorf("render welcome template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Welcome to QAHub", html)
}

// SendAnswerNotice tells a question owner that someone answered.
func (s *Service) SendAnswerNotice(to string, data AnswerNoticeData) error {
	data.AppName = "QAHub"
	data.AppURL = s.config.AppURL
	html, err := renderTemplate(answerNoticeTemplate, data)
	if err != nil {
		return fmt.Errorf("render answer notice template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "New answer to your question", html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const welcomeEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Welcome to {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Welcome, {{.UserName}}!</h2>

    <p>Your account is ready. Ask your first question or help someone else with an answer.</p>
    {{if .AppURL}}
    <p><a href="{{.AppURL}}">Open {{.AppName}}</a></p>
    {{end}}
    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const answerNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New answer on {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .quote { background: #f5f7fa; padding: 12px; border-left: 3px solid #0066cc; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.UserName}},</p>

    <p>{{.Answerer}} answered your question <strong>{{.Question}}</strong>:</p>

    <div class="quote">{{.Answer}}</div>
    {{if .AppURL}}
    <p><a href="{{.AppURL}}/questions/{{.QuestionID}}">View the question</a></p>
    {{end}}
</body>
</html>`
