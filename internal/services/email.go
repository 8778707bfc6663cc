package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"net/url"
	"strings"

	"kairon-backend/internal/authflow"
	"kairon-backend/internal/logger"
)

// emailContent is what differs between account emails. Each one lands the
// reader on a frontend auth view carrying the token.
type emailContent struct {
	Subject string
	Heading string
	Intro   string
	Action  string
	Footer  string
}

var accountEmails = map[authflow.View]emailContent{
	authflow.VerifyEmail: {
		Subject: "Verify your Kairon account",
		Heading: "Verify your email",
		Intro:   "Welcome to Kairon. Confirm your address to start studying.",
		Action:  "Verify email",
		Footer:  "This link expires in 24 hours.",
	},
	authflow.ResetPassword: {
		Subject: "Reset your Kairon password",
		Heading: "Reset your password",
		Intro:   "Someone asked to reset the password on this account. Pick a new one below.",
		Action:  "Reset password",
		Footer:  "If this wasn't you, ignore this email. The link expires in 1 hour.",
	},
}

var accountEmailTmpl = template.Must(template.New("account").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; background: #f8fafc; margin: 0; padding: 0;">
  <div style="max-width: 480px; margin: 40px auto; background: #fff; border-radius: 12px; padding: 32px;">
    <h1 style="margin: 0 0 4px; font-size: 22px; color: #6366f1;">Kairon</h1>
    <h2 style="margin: 16px 0; font-size: 18px; color: #1e293b;">{{.Heading}}</h2>
    <p style="color: #64748b; font-size: 14px; line-height: 1.6;">{{.Intro}}</p>
    <a href="{{.Link}}" style="display: inline-block; background: #6366f1; color: #fff; text-decoration: none; padding: 12px 28px; border-radius: 8px;">{{.Action}}</a>
    <p style="color: #94a3b8; font-size: 12px; margin-top: 24px;">Or open this link: <a href="{{.Link}}">{{.Link}}</a></p>
    <p style="color: #94a3b8; font-size: 12px;">{{.Footer}}</p>
  </div>
</body>
</html>`))

type EmailService struct {
	host        string
	port        string
	user        string
	pass        string
	from        string
	frontendURL string
	devMode     bool
	log         *logger.Logger
}

// NewEmailService sends through SMTP. Without host or user it runs in
// development mode and logs each message instead.
func NewEmailService(host, port, user, pass, from, frontendURL string, log *logger.Logger) *EmailService {
	devMode := host == "" || user == ""
	if devMode {
		log.Warn("email service running in dev mode, messages are logged instead of sent")
	}
	return &EmailService{
		log:         log,
		host:        host,
		port:        port,
		user:        user,
		pass:        pass,
		from:        from,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		devMode:     devMode,
	}
}

func (s *EmailService) SendVerificationEmail(to, token string) error {
	return s.sendAccountEmail(to, authflow.VerifyEmail, token)
}

func (s *EmailService) SendPasswordResetEmail(to, token string) error {
	return s.sendAccountEmail(to, authflow.ResetPassword, token)
}

// viewLink points at the frontend route for view with token in the query.
func (s *EmailService) viewLink(view authflow.View, token string) string {
	return s.frontendURL + "/" + string(view) + "?" + url.Values{"token": {token}}.Encode()
}

func (s *EmailService) render(view authflow.View, token string) (subject, body string, err error) {
	content, ok := accountEmails[view]
	if !ok {
		return "", "", fmt.Errorf("no email for view %q", view)
	}

	var buf bytes.Buffer
	err = accountEmailTmpl.Execute(&buf, struct {
		emailContent
		Link string
	}{content, s.viewLink(view, token)})
	if err != nil {
		return "", "", fmt.Errorf("failed to render %s email: %w", view, err)
	}
	return content.Subject, buf.String(), nil
}

func (s *EmailService) sendAccountEmail(to string, view authflow.View, token string) error {
	subject, body, err := s.render(view, token)
	if err != nil {
		return err
	}

	if s.devMode {
		s.log.Info("dev email", "to", to, "view", string(view), "subject", subject, "body", body)
		return nil
	}

	headers := []string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + body

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	if err := smtp.SendMail(s.host+":"+s.port, auth, s.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	s.log.Info("email sent", "to", to, "view", string(view))
	return nil
}
