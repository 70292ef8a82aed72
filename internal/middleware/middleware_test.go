package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armiapp/armi/internal/ctxkeys"
	"github.com/armiapp/armi/internal/metrics"
	"github.com/armiapp/armi/internal/model"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(okHandler))

	request := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for range 3 {
		assert.Equal(t, http.StatusOK, request("203.0.113.7").Code)
	}

	rec := request("203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests, please try again later"}`, rec.Body.String())

	// other clients have their own bucket
	assert.Equal(t, http.StatusOK, request("198.51.100.2").Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.limiters["a"].lastAccess = time.Now().Add(-3 * time.Minute)

	rl.cleanup(time.Now())

	assert.NotContains(t, rl.limiters, "a")
	assert.Contains(t, rl.limiters, "b")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", " 192.0.2.9 ")
	assert.Equal(t, "192.0.2.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.10, 192.0.2.11")
	assert.Equal(t, "192.0.2.10", clientIP(req))
}

type stubSessions struct {
	sessions map[string]*model.Session
}

func (s stubSessions) Session(_ context.Context, token string) (*model.Session, error) {
	session, ok := s.sessions[token]
	if !ok {
		return nil, errors.New("invalid")
	}
	return session, nil
}

func TestAuthenticate(t *testing.T) {
	hash := "secret-hash"
	now := time.Now()
	sessions := stubSessions{sessions: map[string]*model.Session{
		"verified":   {ID: "s1", User: &model.User{ID: "u1", PasswordHash: &hash, EmailVerifiedAt: &now}},
		"unverified": {ID: "s2", User: &model.User{ID: "u2"}},
	}}

	var seen *model.User
	protected := Authenticate(sessions)(RequireVerified(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxkeys.User(r.Context())
		assert.NotNil(t, ctxkeys.Session(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no token", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic dXNlcg==", want: http.StatusUnauthorized},
		{name: "revoked token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "unverified", header: "Bearer unverified", want: http.StatusForbidden},
		{name: "verified", header: "bearer verified", want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.ID)
	assert.Nil(t, seen.PasswordHash)
	assert.NotNil(t, sessions.sessions["verified"].User.PasswordHash)
}

func TestRequestLoggingRecordsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items/{id}", okHandler)

	handler := Chain(mux, Recover, RequestLogging(m), SecurityHeaders)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items/42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	count, err := testutil.GatherAndCount(reg, "armi_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecover(t *testing.T) {
	handler := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
