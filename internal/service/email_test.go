package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEmail(t *testing.T) {
	subject, body, err := renderEmail("verification_code", emailData{AppName: "ARMi", Code: "042917"})
	require.NoError(t, err)
	assert.Equal(t, "Your ARMi verification code", subject)
	assert.Contains(t, body, "\n042917\n")
	assert.Contains(t, body, "The ARMi Team")

	subject, body, err = renderEmail("email_change_notification", emailData{AppName: "ARMi", Name: "Casey", NewEmail: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Your ARMi email is about to change", subject)
	assert.Contains(t, body, "Hi Casey,")
	assert.Contains(t, body, "new@example.com")

	_, _, err = renderEmail("newsletter", emailData{})
	assert.Error(t, err)
}

func TestEmailService_Link(t *testing.T) {
	s := NewEmailService("", "noreply@armi.test", "https://armi.test", "ARMi", true)

	assert.Equal(t, "https://armi.test/auth/reset-password?token=a%2Bb%2Fc", s.link("/auth/reset-password", "a+b/c"))
	assert.NoError(t, s.SendPasswordResetEmail(context.Background(), "casey@example.com", "tok"))
}

func TestEmailService_RequiresClientOutsideDev(t *testing.T) {
	s := NewEmailService("", "noreply@armi.test", "https://armi.test", "ARMi", false)

	err := s.SendVerificationCode(context.Background(), "casey@example.com", "123456")
	assert.ErrorContains(t, err, "RESEND_API_KEY")
}
