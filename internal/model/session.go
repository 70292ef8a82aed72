package model

import "time"

type Session struct {
	ID          string    `json:"-"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

type AuthEventKind string

const (
	AuthEventInitialSession AuthEventKind = "initial_session"
	AuthEventSignedIn       AuthEventKind = "signed_in"
	AuthEventSignedOut      AuthEventKind = "signed_out"
	AuthEventUserUpdated    AuthEventKind = "user_updated"
	AuthEventTokenRefreshed AuthEventKind = "token_refreshed"
)

// AuthEvent is delivered to subscribers on every session change.
// UserID is always set. User is nil for AuthEventSignedOut, and Session is
// nil when the change did not come from a live session.
type AuthEvent struct {
	Kind    AuthEventKind
	UserID  string
	User    *User
	Session *Session
}
