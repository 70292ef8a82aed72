package routes

import (
	"net/http"
	"time"

	"github.com/armiapp/armi/internal/app"
	"github.com/armiapp/armi/internal/handler"
	"github.com/armiapp/armi/internal/metrics"
	"github.com/armiapp/armi/internal/middleware"
	"github.com/armiapp/armi/internal/storage"
)

// SetupRoutes builds the API handler. The returned stop func releases the
// rate limiter.
func SetupRoutes(app *app.App) (http.Handler, func()) {
	// Handlers
	auth := handler.NewAuthHandler(app.AuthService, app.Validator)
	account := handler.NewAccountHandler(app.AuthService, app.Validator)
	profile := handler.NewProfileHandler(app.ProfileService, app.Coordinator, app.Validator)
	onboarding := handler.NewOnboardingHandler(app.Coordinator, app.DevNoteService, app.Validator)
	billing := handler.NewBillingHandler(app.PurchaseService, app.Coordinator, app.Validator)

	checks := map[string]handler.Pinger{"database": app.DB}
	if redisStore, ok := app.Flags.(*storage.RedisStore); ok {
		checks["redis"] = redisStore
	}
	health := handler.NewHealthHandler(checks)

	// Authentication runs per route so the mux sees the original request and
	// the metrics route label stays intact.
	authenticate := middleware.Authenticate(app.AuthService)
	signedIn := func(h http.HandlerFunc) http.Handler {
		return authenticate(middleware.RequireAuth(h))
	}
	verified := func(h http.HandlerFunc) http.Handler {
		return authenticate(middleware.RequireVerified(h))
	}

	// Auth - 10 attempts per IP per minute
	rateLimiter := middleware.NewRateLimiter(10, time.Minute)
	limited := func(h http.Handler) http.Handler {
		return rateLimiter.Middleware(h)
	}

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /healthz", health.Health)
	if app.Cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler(app.Registry))
	}

	// Auth Actions
	mux.Handle("POST /api/auth/signup", limited(http.HandlerFunc(auth.SignUp)))
	mux.Handle("POST /api/auth/signin", limited(http.HandlerFunc(auth.SignIn)))
	mux.Handle("POST /api/auth/otp/send", limited(http.HandlerFunc(auth.SendCode)))
	mux.Handle("POST /api/auth/otp/verify", limited(http.HandlerFunc(auth.VerifyCode)))
	mux.Handle("POST /api/auth/password/reset", limited(http.HandlerFunc(auth.ResetPassword)))
	mux.Handle("POST /api/auth/password/reset/confirm", limited(http.HandlerFunc(auth.ConfirmPasswordReset)))
	mux.Handle("POST /api/auth/email/confirm", limited(http.HandlerFunc(auth.ConfirmEmail)))

	// Offerings are public so the paywall can render before sign in
	mux.HandleFunc("GET /api/billing/offerings", billing.Offerings)

	// ============================================================================
	// SIGNED IN ROUTES
	// ============================================================================

	// Session
	mux.Handle("GET /api/auth/session", signedIn(auth.Session))
	mux.Handle("POST /api/auth/refresh", signedIn(auth.Refresh))
	mux.HandleFunc("POST /api/auth/signout", auth.SignOut)

	// Account (Security & Identity)
	mux.Handle("PATCH /api/account/password", signedIn(account.ChangePassword))
	mux.Handle("PATCH /api/account/email", signedIn(account.ChangeEmail))

	// ============================================================================
	// VERIFIED ROUTES
	// ============================================================================

	// Profile & entitlement
	mux.Handle("GET /api/me/status", verified(profile.Status))
	mux.Handle("POST /api/me/status/refresh", verified(profile.RefreshStatus))
	mux.Handle("PUT /api/me/list-type", verified(profile.UpdateListType))
	mux.Handle("PATCH /api/me/name", verified(profile.UpdateName))

	// Onboarding
	mux.Handle("GET /api/onboarding", verified(onboarding.State))
	mux.Handle("POST /api/onboarding/list-selection/dismiss", verified(onboarding.DismissListSelection))
	mux.Handle("POST /api/onboarding/dev-note/dismiss", verified(onboarding.DismissDevNote))
	mux.Handle("GET /api/onboarding/dev-note", verified(onboarding.DevNote))

	// Billing
	mux.Handle("GET /api/billing/customer", verified(billing.CustomerInfo))
	mux.Handle("POST /api/billing/purchase", verified(billing.Purchase))
	mux.Handle("POST /api/billing/restore", verified(billing.Restore))
	mux.Handle("GET /api/billing/portal", verified(billing.CustomerPortal))

	// ============================================================================
	// WEBHOOKS
	// ============================================================================

	// Payment provider webhook (works with both Polar and Stripe)
	mux.HandleFunc("POST /webhooks/payment", billing.Webhook)

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.Recover,
		middleware.RequestLogging(app.Metrics),
		middleware.SecurityHeaders,
	)

	return handler, rateLimiter.Stop
}
