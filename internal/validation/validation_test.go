package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVerificationCode(t *testing.T) {
	assert.NoError(t, ValidateVerificationCode("012345"))
	assert.Error(t, ValidateVerificationCode(""))
	assert.Error(t, ValidateVerificationCode("12345"))
	assert.Error(t, ValidateVerificationCode("12345a"))
	assert.Error(t, ValidateVerificationCode("1234567"))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("correct horse battery"))
	assert.ErrorIs(t, ValidatePassword("short"), ErrPasswordTooShort)
	assert.ErrorIs(t, ValidatePassword("mypassword1234"), ErrPasswordCommon)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("x", 73)), ErrPasswordTooLong)
}

type verifyRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Code     string `json:"code" validate:"required,otp"`
	ListType string `json:"list_type" validate:"omitempty,listtype"`
}

func TestValidator_Struct(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.Struct(verifyRequest{Email: "a@example.com", Code: "123456", ListType: "roster"}))

	err := v.Struct(verifyRequest{Email: "nope", Code: "12", ListType: "Everyone"})
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "must be a valid email", reqErr.Fields["email"])
	assert.Equal(t, "must be 6 digits", reqErr.Fields["code"])
	assert.Contains(t, reqErr.Fields["list_type"], "must be one of")
	assert.Equal(t, "validation failed: code must be 6 digits, email must be a valid email, list_type must be one of: All, Roster, Network, People", reqErr.Error())
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		want  error
	}{
		{email: "casey@example.com"},
		{email: "", want: ErrEmailRequired},
		{email: "not-an-email", want: ErrEmailFormat},
		{email: "Casey <casey@example.com>", want: ErrEmailFormat},
		{email: strings.Repeat("a", 250) + "@x.io", want: ErrEmailTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.ErrorIs(t, ValidateEmail(tt.email), tt.want)
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("  Zoë  "))
	assert.ErrorIs(t, ValidateName("   "), ErrNameRequired)
	assert.ErrorIs(t, ValidateName(strings.Repeat("é", 101)), ErrNameTooLong)
	assert.NoError(t, ValidateName(strings.Repeat("é", 100)))
}
