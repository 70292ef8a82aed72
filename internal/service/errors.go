package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized         = errors.New("auth service not initialized")
	ErrPurchasesNotConfigured = errors.New("purchases not configured")
)

// AuthError is returned by every identity operation the caller must handle.
// Message is safe to show to the user.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// rejected turns a sentinel into an AuthError carrying its text.
func rejected(err error) *AuthError {
	return &AuthError{Message: err.Error(), Err: err}
}

func authFailure(message string, err error) *AuthError {
	return &AuthError{Message: message, Err: err}
}

// PurchaseError is surfaced from user initiated purchase and restore calls.
type PurchaseError struct {
	Op  string
	Err error
}

func (e *PurchaseError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

// ProfileReadError is logged by the resolver; defaults apply.
type ProfileReadError struct {
	UserID string
	Err    error
}

func (e *ProfileReadError) Error() string {
	return fmt.Sprintf("failed to read profile for user %s: %v", e.UserID, e.Err)
}

func (e *ProfileReadError) Unwrap() error {
	return e.Err
}

// EntitlementCheckError is logged by the resolver; the entitlement folds to false.
type EntitlementCheckError struct {
	UserID string
	Err    error
}

func (e *EntitlementCheckError) Error() string {
	return fmt.Sprintf("failed to check entitlements for user %s: %v", e.UserID, e.Err)
}

func (e *EntitlementCheckError) Unwrap() error {
	return e.Err
}

// FlagStoreError wraps a failed onboarding flag read or write.
type FlagStoreError struct {
	Key string
	Err error
}

func (e *FlagStoreError) Error() string {
	return fmt.Sprintf("flag store %s: %v", e.Key, e.Err)
}

func (e *FlagStoreError) Unwrap() error {
	return e.Err
}
