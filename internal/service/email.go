package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/resend/resend-go/v2"
)

type EmailService struct {
	client    *resend.Client
	fromEmail string
	isDev     bool
	appURL    string
	appName   string
}

func NewEmailService(apiKey, fromEmail, appURL, appName string, isDev bool) *EmailService {
	var client *resend.Client
	if apiKey != "" && !isDev {
		client = resend.NewClient(apiKey)
	}

	return &EmailService{
		client:    client,
		fromEmail: fromEmail,
		isDev:     isDev,
		appURL:    appURL,
		appName:   appName,
	}
}

func (s *EmailService) SendVerificationCode(ctx context.Context, email, code string) error {
	return s.send(ctx, "verification_code", email, emailData{Code: code}, "code", code)
}

func (s *EmailService) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	resetURL := s.link("/auth/reset-password", token)
	return s.send(ctx, "password_reset", email, emailData{URL: resetURL}, "url", resetURL)
}

func (s *EmailService) SendEmailChangeVerification(ctx context.Context, newEmail, token, userName string) error {
	verifyURL := s.link("/auth/confirm-email", token)
	return s.send(ctx, "email_change_verification", newEmail, emailData{URL: verifyURL, Name: userName}, "url", verifyURL)
}

func (s *EmailService) SendEmailChangeNotification(ctx context.Context, oldEmail, newEmail, userName string) error {
	return s.send(ctx, "email_change_notification", oldEmail, emailData{Name: userName, NewEmail: newEmail}, "new_email", newEmail)
}

// link builds the deep link the app opens; the token goes in the query.
func (s *EmailService) link(path, token string) string {
	return s.appURL + path + "?" + url.Values{"token": {token}}.Encode()
}

// send logs instead of delivering in development; attrs only show up there.
func (s *EmailService) send(ctx context.Context, kind, to string, data emailData, attrs ...any) error {
	data.AppName = s.appName
	subject, body, err := renderEmail(kind, data)
	if err != nil {
		return err
	}

	if s.isDev {
		args := append([]any{"type", kind, "to", to, "subject", subject}, attrs...)
		slog.Info("email sent (dev mode)", args...)
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("email service not configured (missing RESEND_API_KEY)")
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}

	_, err = s.client.Emails.SendWithContext(ctx, params)
	if err == nil {
		slog.Info("email sent", "type", kind, "to", to)
	}
	return err
}
