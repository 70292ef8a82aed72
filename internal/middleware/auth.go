package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/armiapp/armi/internal/ctxkeys"
	"github.com/armiapp/armi/internal/model"
)

type SessionResolver interface {
	Session(ctx context.Context, accessToken string) (*model.Session, error)
}

// Authenticate adds the session and user to the context when the request
// carries a valid bearer token. Requests without one continue anonymously.
func Authenticate(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessions.Session(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "session expired or revoked")
				return
			}

			// Security: Remove password hash from context
			user := *session.User
			user.PasswordHash = nil
			scoped := *session
			scoped.User = &user

			ctx := ctxkeys.WithSession(r.Context(), &scoped)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth ensures the request is authenticated
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ctxkeys.User(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// RequireVerified ensures the user is authenticated and has confirmed their
// email address.
func RequireVerified(next http.HandlerFunc) http.HandlerFunc {
	return RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !ctxkeys.User(r.Context()).IsVerified() {
			writeError(w, http.StatusForbidden, "email address not verified")
			return
		}
		next.ServeHTTP(w, r)
	})
}
