// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

const appName = "Market Access"

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) from() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends a multipart email with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	boundary := "boundary-market-access"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.from())
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

	return s.sendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type MentionData struct {
	AppName       string
	RecipientName string
	AuthorName    string
	BarrierCode   string
	BarrierTitle  string
	Excerpt       string
	URL           string
}

type SavedSearchData struct {
	AppName      string
	UserName     string
	SearchName   string
	NewCount     int
	UpdatedCount int
	URL          string
}

type TopPriorityData struct {
	AppName      string
	BarrierCode  string
	BarrierTitle string
	Outcome      string
	Summary      string
	URL          string
}

// SendMention tells a user they were mentioned in a note.
func (s *Service) SendMention(to string, data MentionData) error {
	data.AppName = appName
	subject := fmt.Sprintf("%s mentioned you on %s", data.AuthorName, data.BarrierCode)
	text := fmt.Sprintf("%s mentioned you on %s %s:\n\n%s\n\n%s",
		data.AuthorName, data.BarrierCode, data.BarrierTitle, data.Excerpt, data.URL)
	html, err := renderTemplate(mentionTemplate, data)
	if err != nil {
		return fmt.Errorf("render mention template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

// SendSavedSearchUpdate tells a user their saved search has new or updated
// barriers.
func (s *Service) SendSavedSearchUpdate(to string, data SavedSearchData) error {
	data.AppName = appName
	subject := fmt.Sprintf("Updates to your saved search %q", data.SearchName)
	text := fmt.Sprintf("%d new and %d updated barriers match %q.\n\n%s",
		data.NewCount, data.UpdatedCount, data.SearchName, data.URL)
	html, err := renderTemplate(savedSearchTemplate, data)
	if err != nil {
		return fmt.Errorf("render saved search template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

// SendTopPriorityDecision tells the barrier owners about a top priority
// decision.
func (s *Service) SendTopPriorityDecision(to []string, data TopPriorityData) error {
	data.AppName = appName
	subject := fmt.Sprintf("Top priority %s: %s", strings.ToLower(data.Outcome), data.BarrierCode)
	text := fmt.Sprintf("Top priority status of %s %s is now %s.\n\n%s\n\n%s",
		data.BarrierCode, data.BarrierTitle, data.Outcome, data.Summary, data.URL)
	html, err := renderTemplate(topPriorityTemplate, data)
	if err != nil {
		return fmt.Errorf("render top priority template: %w", err)
	}
	return s.SendHTMLEmail(to, subject, text, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const styles = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .quote { border-left: 4px solid #ccc; padding-left: 12px; color: #555; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }`

const mentionTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You were mentioned on {{.BarrierCode}}</title>
    <style>` + styles + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p>{{.AuthorName}} mentioned you on <strong>{{.BarrierCode}} {{.BarrierTitle}}</strong>:</p>

    <p class="quote">{{.Excerpt}}</p>

    <p>
        <a href="{{.URL}}" class="button">View barrier</a>
    </p>

    <div class="footer">
        <p>You can manage your mentions from your {{.AppName}} dashboard.</p>
    </div>
</body>
</html>`

const savedSearchTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Updates to {{.SearchName}}</title>
    <style>` + styles + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.UserName}},</p>

    <p>Your saved search <strong>{{.SearchName}}</strong> has changed since we last wrote:</p>
    <ul>
        <li>{{.NewCount}} new barriers</li>
        <li>{{.UpdatedCount}} updated barriers</li>
    </ul>

    <p>
        <a href="{{.URL}}" class="button">Open saved search</a>
    </p>

    <div class="footer">
        <p>You can turn these notifications off in the saved search settings.</p>
    </div>
</body>
</html>`

const topPriorityTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Top priority decision on {{.BarrierCode}}</title>
    <style>` + styles + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>The top priority status of <strong>{{.BarrierCode}} {{.BarrierTitle}}</strong> is now <strong>{{.Outcome}}</strong>.</p>
    {{if .Summary}}<p class="quote">{{.Summary}}</p>{{end}}

    <p>
        <a href="{{.URL}}" class="button">View barrier</a>
    </p>
</body>
</html>`
