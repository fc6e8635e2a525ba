package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"vibecards-backend/internal/models"
)

type EmailService struct {
	host    string
	port    string
	user    string
	pass    string
	from    string
	devMode bool
	logger  *zap.Logger
}

func NewEmailService(host, port, user, pass, from string, logger *zap.Logger) *EmailService {
	logger = logger.Named("email")
	devMode := host == "" || user == ""
	if devMode {
		logger.Warn("email service running in dev mode, messages are logged instead of sent")
	}
	return &EmailService{
		host:    host,
		port:    port,
		user:    user,
		pass:    pass,
		from:    from,
		devMode: devMode,
		logger:  logger,
	}
}

type otpEmail struct {
	Subject string
	Title   string
	Heading string
	Intro   []string
	Outro   []string
}

// otpEmails holds the copy for each OTP purpose. %s in Intro is the recipient address.
var otpEmails = map[string]otpEmail{
	models.OTPTypeEmailVerification: {
		Subject: "Welcome to Vibecards! Please verify your email",
		Title:   "Verify Your Email",
		Heading: "Verify your email address",
		Intro: []string{
			"Welcome to VibeCards! We're excited to have you on board. Please use the following code to verify your email address:",
		},
		Outro: []string{
			"This code will expire in 5 minutes. If you didn't create an account with VibeCards, you can safely ignore this email.",
		},
	},
	models.OTPTypeSignIn: {
		Subject: "Sign in to VibeCards",
		Title:   "Sign In",
		Heading: "Sign in to VibeCards",
		Intro: []string{
			"Please use the following code to sign in to your account:",
		},
		Outro: []string{
			"This code will expire in 5 minutes. If you didn't sign in to your account with VibeCards, you can safely ignore this email.",
		},
	},
	models.OTPTypeForgetPassword: {
		Subject: "Reset your password",
		Title:   "Reset Your Password",
		Heading: "Reset your password",
		Intro: []string{
			"We received a request to reset the password for your VibeCards account associated with %s.",
		},
		Outro: []string{
			"Use this code to complete the password reset process. This code will expire in 1 hour.",
			"If you didn't request a password reset, you can safely ignore this email. Your password will not be changed.",
		},
	},
}

var otpEmailTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f3f4f6; color: #111827;">
    <div style="width: 100%; padding: 40px 0; background-color: #f3f4f6;">
        <div style="max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 12px; overflow: hidden; box-shadow: 0 10px 15px -3px rgba(0, 0, 0, 0.1), 0 4px 6px -2px rgba(0, 0, 0, 0.05); border: 1px solid #e5e7eb;">
            <div style="padding: 40px 0; text-align: center; border-bottom: 1px solid #e5e7eb; background: linear-gradient(135deg, #f3e8ff 0%, #ffffff 100%);">
                <h1 style="margin: 0; color: #7e22ce; font-size: 32px; font-weight: 800; letter-spacing: -0.025em;">VibeCards</h1>
            </div>
            <div style="padding: 40px 30px; font-size: 16px; line-height: 1.6; color: #111827;">
                <h2 style="margin-top: 0; margin-bottom: 20px; color: #111827; font-size: 24px; font-weight: 700;">{{.Heading}}</h2>
                {{range .Intro}}<p style="margin-bottom: 24px; color: #6b7280;">{{.}}</p>
                {{end}}<div style="text-align: center; margin: 32px 0;">
                    <span style="display: inline-block; padding: 16px 36px; background-color: #f3f4f6; color: #7e22ce; font-size: 32px; font-weight: 700; border-radius: 12px; border: 2px dashed #7e22ce; letter-spacing: 0.2em;">{{.Code}}</span>
                </div>
                {{range .Outro}}<p style="margin-bottom: 24px; color: #6b7280;">{{.}}</p>
                {{end}}</div>
            <div style="padding: 30px; background-color: #f3f4f6; border-top: 1px solid #e5e7eb; text-align: center; color: #6b7280; font-size: 12px;">
                <p style="margin: 0 0 10px 0;">&copy; {{.Year}} VibeCards. All rights reserved.</p>
            </div>
        </div>
    </div>
</body>
</html>`))

// RenderOTPEmail returns the subject and HTML body for an OTP email.
func RenderOTPEmail(otpType, to, code string) (string, string, error) {
	msg, ok := otpEmails[otpType]
	if !ok {
		return "", "", fmt.Errorf("unknown OTP type %q", otpType)
	}

	intro := make([]string, len(msg.Intro))
	for i, line := range msg.Intro {
		if strings.Contains(line, "%s") {
			line = fmt.Sprintf(line, to)
		}
		intro[i] = line
	}

	var buf bytes.Buffer
	err := otpEmailTemplate.Execute(&buf, map[string]any{
		"Title":   msg.Title,
		"Heading": msg.Heading,
		"Intro":   intro,
		"Outro":   msg.Outro,
		"Code":    code,
		"Year":    time.Now().Year(),
	})
	if err != nil {
		return "", "", err
	}
	return msg.Subject, buf.String(), nil
}

func (s *EmailService) SendOTP(to, otpType, code string) error {
	subject, body, err := RenderOTPEmail(otpType, to, code)
	if err != nil {
		return err
	}
	return s.sendHTML(to, subject, body)
}

func (s *EmailService) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		s.logger.Info("dev email", zap.String("to", to), zap.String("subject", subject))
		s.logger.Debug("dev email body", zap.String("body", htmlBody))
		return nil
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	sender := s.from
	if parsed, err := mail.ParseAddress(s.from); err == nil {
		sender = parsed.Address
	}

	err := smtp.SendMail(addr, auth, sender, []string{to}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	s.logger.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
