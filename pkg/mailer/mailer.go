package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"
	"net/smtp"

	"github.com/minhvudev/dealerdesk/internal/model"
	"github.com/minhvudev/dealerdesk/pkg/destination"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Mailer delivers verification codes over SMTP
type Mailer struct {
	config        Config
	expiryMinutes int
}

// New creates a new Mailer instance
func New(cfg Config, expiryMinutes int) *Mailer {
	return &Mailer{config: cfg, expiryMinutes: expiryMinutes}
}

// SendCode emails a verification code, choosing the template by purpose.
// A delivery failure is returned, never swallowed.
func (m *Mailer) SendCode(ctx context.Context, toEmail, code string, purpose model.ChallengePurpose) error {
	var (
		subject string
		body    string
		err     error
	)
	switch purpose {
	case model.PurposePasswordReset:
		subject = "DealerDesk - Reset your password"
		body, err = m.renderResetTemplate(code)
	default:
		subject = "DealerDesk - Your sign-in code"
		body, err = m.renderLoginTemplate(code)
	}
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	// smtp.SendMail has no context hook; honor cancellation up front so a
	// caller-side timeout is not silently ignored
	if err := ctx.Err(); err != nil {
		return err
	}

	return m.send(toEmail, subject, body)
}

// send delivers an email via SMTP
func (m *Mailer) send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", m.config.Host, m.config.Port)

	headers := map[string]string{
		"From":         fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From),
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=\"utf-8\"",
	}

	var msg bytes.Buffer
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if m.config.Username != "" && m.config.Password != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	err := smtp.SendMail(addr, auth, m.config.From, []string{to}, msg.Bytes())
	if err != nil {
		log.Printf("❌ Failed to send email to %s: %v", destination.Mask(to), err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Printf("📧 Email sent to %s: %s", destination.Mask(to), subject)
	return nil
}

// renderLoginTemplate returns the HTML body for a sign-in code email
func (m *Mailer) renderLoginTemplate(code string) (string, error) {
	tmpl := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#f4f6f8;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
    <div style="max-width:500px;margin:40px auto;background:#ffffff;border-radius:12px;overflow:hidden;border:1px solid #e2e8f0;">
        <!-- Header -->
        <div style="background:linear-gradient(135deg,#0ea5e9 0%,#2563eb 100%);padding:32px;text-align:center;">
            <h1 style="color:#fff;margin:0;font-size:26px;font-weight:700;">🏪 DealerDesk</h1>
            <p style="color:rgba(255,255,255,0.85);margin:8px 0 0;font-size:14px;">Sign-in verification</p>
        </div>

        <!-- Body -->
        <div style="padding:32px;">
            <p style="color:#334155;font-size:14px;line-height:1.6;margin:0 0 24px;">
                Your sign-in code is:
            </p>

            <div style="background:#f0f9ff;border:2px dashed #38bdf8;border-radius:12px;padding:24px;text-align:center;margin:0 0 24px;">
                <span style="font-size:36px;font-weight:800;letter-spacing:8px;color:#0284c7;font-family:'Courier New',monospace;">{{.Code}}</span>
            </div>

            <p style="color:#64748b;font-size:13px;line-height:1.5;margin:0 0 8px;">
                ⏰ This code expires in <strong style="color:#f59e0b;">{{.ExpiryMinutes}} minutes</strong>.
            </p>
            <p style="color:#64748b;font-size:13px;line-height:1.5;margin:0;">
                If you didn't try to sign in to DealerDesk, please ignore this email.
            </p>
        </div>

        <!-- Footer -->
        <div style="padding:16px 32px;border-top:1px solid #e2e8f0;text-align:center;">
            <p style="color:#94a3b8;font-size:12px;margin:0;">© 2026 DealerDesk. All rights reserved.</p>
        </div>
    </div>
</body>
</html>`

	return m.render("login", tmpl, code)
}

// renderResetTemplate returns the HTML body for a password reset email
func (m *Mailer) renderResetTemplate(code string) (string, error) {
	tmpl := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#f4f6f8;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
    <div style="max-width:500px;margin:40px auto;background:#ffffff;border-radius:12px;overflow:hidden;border:1px solid #fecaca;">
        <!-- Header -->
        <div style="background:linear-gradient(135deg,#ef4444 0%,#dc2626 100%);padding:32px;text-align:center;">
            <h1 style="color:#fff;margin:0;font-size:26px;font-weight:700;">🔐 DealerDesk</h1>
            <p style="color:rgba(255,255,255,0.85);margin:8px 0 0;font-size:14px;">Password reset</p>
        </div>

        <!-- Body -->
        <div style="padding:32px;">
            <p style="color:#334155;font-size:14px;line-height:1.6;margin:0 0 24px;">
                We received a request to reset your password. Use this code:
            </p>

            <div style="background:#fef2f2;border:2px dashed #f87171;border-radius:12px;padding:24px;text-align:center;margin:0 0 24px;">
                <span style="font-size:36px;font-weight:800;letter-spacing:8px;color:#dc2626;font-family:'Courier New',monospace;">{{.Code}}</span>
            </div>

            <p style="color:#64748b;font-size:13px;line-height:1.5;margin:0 0 8px;">
                ⏰ This code expires in <strong style="color:#f59e0b;">{{.ExpiryMinutes}} minutes</strong>.
            </p>
            <p style="color:#64748b;font-size:13px;line-height:1.5;margin:0;">
                If you didn't request a password reset, please ignore this email and your password will remain unchanged.
            </p>
        </div>

        <!-- Footer -->
        <div style="padding:16px 32px;border-top:1px solid #fecaca;text-align:center;">
            <p style="color:#94a3b8;font-size:12px;margin:0;">© 2026 DealerDesk. All rights reserved.</p>
        </div>
    </div>
</body>
</html>`

	return m.render("reset", tmpl, code)
}

func (m *Mailer) render(name, tmpl, code string) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = t.Execute(&buf, map[string]interface{}{
		"Code":          code,
		"ExpiryMinutes": m.expiryMinutes,
	})
	return buf.String(), err
}
