package validation

import "errors"

const VerificationCodeLength = 6

// ValidateVerificationCode checks the shape of an emailed code.
func ValidateVerificationCode(code string) error {
	if code == "" {
		return errors.New("verification code is required")
	}

	if len(code) != VerificationCodeLength || !isDigits(code) {
		return errors.New("verification code must be 6 digits")
	}

	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
