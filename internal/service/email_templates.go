package service

import (
	"fmt"
	"strings"
	"text/template"
)

type emailData struct {
	AppName  string
	Code     string
	URL      string
	Name     string
	NewEmail string
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

const signature = `

Best,
The {{.AppName}} Team`

var emailTemplates = map[string]emailTemplate{
	"verification_code": newEmailTemplate(
		`Your {{.AppName}} verification code`,
		`Enter this code in {{.AppName}} to confirm your email address:

{{.Code}}

The code expires in 1 hour and can only be used once.

If you didn't create an account, you can safely ignore this email.`),

	"password_reset": newEmailTemplate(
		`Reset your {{.AppName}} password`,
		`Someone asked to reset the password for your {{.AppName}} account. Choose a new one here:
{{.URL}}

This link expires in 1 hour and can only be used once. Every device will be signed out.

If you didn't ask for this, ignore this email and your password stays the same.`),

	"email_change_verification": newEmailTemplate(
		`Confirm your new {{.AppName}} email`,
		`Hi {{.Name}},

Confirm this address for your {{.AppName}} account by opening:
{{.URL}}

This link expires in 24 hours. Until then you keep signing in with your current address.`),

	"email_change_notification": newEmailTemplate(
		`Your {{.AppName}} email is about to change`,
		`Hi {{.Name}},

We got a request to move your {{.AppName}} account to {{.NewEmail}}. Nothing changes until the link we sent there is opened.

If this wasn't you, change your password right away.`),
}

func newEmailTemplate(subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body + signature)),
	}
}

func renderEmail(kind string, data emailData) (string, string, error) {
	tmpl, ok := emailTemplates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", kind)
	}

	var subject, body strings.Builder
	err := tmpl.subject.Execute(&subject, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render %s subject: %w", kind, err)
	}
	err = tmpl.body.Execute(&body, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render %s body: %w", kind, err)
	}
	return subject.String(), body.String(), nil
}
