package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/repository"
	"github.com/armiapp/armi/internal/validation"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrInvalidCode        = errors.New("invalid or expired verification code")
	ErrInvalidToken       = errors.New("invalid or expired link")
	ErrInvalidSession     = errors.New("session expired or revoked")
	ErrNoPendingEmail     = errors.New("no pending email change found")
)

// PurchaseSession ties the purchase system's customer to the signed in user.
type PurchaseSession interface {
	LogIn(ctx context.Context, userID string) error
	LogOut(ctx context.Context, userID string) error
}

// AuthService is the identity provider. It must be built with NewAuthService;
// a zero value or a closed service rejects every call with ErrNotInitialized.
type AuthService struct {
	userRepository           repository.UserRepository
	profileRepository        repository.ProfileRepository
	tokenRepository          repository.TokenRepository
	subscriptionService      *SubscriptionService
	emailService             *EmailService
	purchases                PurchaseSession
	events                   *AuthEvents
	jwtSecret                string
	jwtExpiry                time.Duration
	tokenEmailVerifyExpiry   time.Duration
	tokenPasswordResetExpiry time.Duration
	tokenEmailChangeExpiry   time.Duration
	initialized              atomic.Bool
}

func NewAuthService(
	userRepository repository.UserRepository,
	profileRepository repository.ProfileRepository,
	tokenRepository repository.TokenRepository,
	subscriptionService *SubscriptionService,
	emailService *EmailService,
	purchases PurchaseSession,
	events *AuthEvents,
	jwtSecret string,
	jwtExpiry time.Duration,
	tokenEmailVerifyExpiry time.Duration,
	tokenPasswordResetExpiry time.Duration,
	tokenEmailChangeExpiry time.Duration,
) *AuthService {
	s := &AuthService{
		userRepository:           userRepository,
		profileRepository:        profileRepository,
		tokenRepository:          tokenRepository,
		subscriptionService:      subscriptionService,
		emailService:             emailService,
		purchases:                purchases,
		events:                   events,
		jwtSecret:                jwtSecret,
		jwtExpiry:                jwtExpiry,
		tokenEmailVerifyExpiry:   tokenEmailVerifyExpiry,
		tokenPasswordResetExpiry: tokenPasswordResetExpiry,
		tokenEmailChangeExpiry:   tokenEmailChangeExpiry,
	}
	s.initialized.Store(true)
	return s
}

func (s *AuthService) ready() error {
	if s == nil || !s.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Close ends all event subscriptions. The service is unusable afterwards.
func (s *AuthService) Close() {
	if s.initialized.CompareAndSwap(true, false) {
		s.events.Close()
	}
}

// Subscribe delivers every session change until unsubscribe is called or
// the service is closed.
func (s *AuthService) Subscribe() (<-chan model.AuthEvent, func(), error) {
	if err := s.ready(); err != nil {
		return nil, nil, err
	}
	events, unsubscribe := s.events.Subscribe()
	return events, unsubscribe, nil
}

func (s *AuthService) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, authFailure(err.Error(), ErrInvalidEmail)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, weakPassword(err)
	}

	hashedPassword, err := s.HashPassword(password)
	if err != nil {
		return nil, authFailure("failed to create account", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: &hashedPassword,
		CreatedAt:    now,
	}

	err = s.userRepository.Create(user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, rejected(ErrEmailAlreadyExists)
	}
	if err != nil {
		return nil, authFailure("failed to create account", err)
	}

	err = s.profileRepository.Create(&model.Profile{UserID: user.ID, CreatedAt: now})
	if err != nil {
		return nil, authFailure("failed to create account", fmt.Errorf("failed to create profile: %w", err))
	}

	err = s.subscriptionService.CreateFreeSubscription(user.ID)
	if err != nil {
		// LogIn recreates it on first sign in
		slog.Warn("failed to create free subscription", "error", err, "user_id", user.ID)
	}

	err = s.sendVerificationCode(ctx, user)
	if err != nil {
		// The client offers a resend on the verify screen
		slog.Error("failed to send verification code", "error", err, "user_id", user.ID)
	}

	session, err := s.issueSession(user)
	if err != nil {
		return nil, authFailure("failed to create session", err)
	}

	slog.Info("user signed up", "user_id", user.ID)
	s.publish(model.AuthEventSignedIn, user, session)
	return session, nil
}

// SignIn issues sessions to unverified users as well; callers gate features
// on User.IsVerified.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	user, err := s.userRepository.ByEmail(normalizeEmail(email))
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, rejected(ErrInvalidCredentials)
	}
	if err != nil {
		return nil, authFailure("failed to sign in", fmt.Errorf("failed to get user: %w", err))
	}

	if !user.HasPassword() || s.ComparePassword(password, *user.PasswordHash) != nil {
		return nil, rejected(ErrInvalidCredentials)
	}

	session, err := s.issueSession(user)
	if err != nil {
		return nil, authFailure("failed to create session", err)
	}

	s.logInPurchases(ctx, user.ID)

	slog.Info("user signed in", "user_id", user.ID, "verified", user.IsVerified())
	s.publish(model.AuthEventSignedIn, user, session)
	return session, nil
}

// SendVerificationCode replaces any outstanding code. Unknown and already
// verified addresses succeed silently.
func (s *AuthService) SendVerificationCode(ctx context.Context, email string) error {
	if err := s.ready(); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return authFailure(err.Error(), ErrInvalidEmail)
	}

	user, err := s.userRepository.ByEmail(email)
	if errors.Is(err, repository.ErrUserNotFound) {
		slog.Info("verification code requested for unknown email")
		return nil
	}
	if err != nil {
		return authFailure("failed to send verification code", err)
	}

	if user.IsVerified() {
		slog.Info("verification code requested for verified user", "user_id", user.ID)
		return nil
	}

	err = s.sendVerificationCode(ctx, user)
	if err != nil {
		return authFailure("failed to send verification code", err)
	}
	return nil
}

func (s *AuthService) sendVerificationCode(ctx context.Context, user *model.User) error {
	err := s.tokenRepository.DeleteByUserAndType(user.ID, model.TokenTypeEmailVerify)
	if err != nil {
		slog.Warn("failed to delete old verification codes", "error", err, "user_id", user.ID)
	}

	code, err := GenerateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	err = s.tokenRepository.Create(&model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypeEmailVerify,
		Token:     code,
		ExpiresAt: time.Now().Add(s.tokenEmailVerifyExpiry),
	})
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	return s.emailService.SendVerificationCode(ctx, user.Email, code)
}

// VerifyCode confirms the email address and returns a fresh session.
func (s *AuthService) VerifyCode(ctx context.Context, email, code string) (*model.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	code = strings.TrimSpace(code)
	if err := validation.ValidateVerificationCode(code); err != nil {
		return nil, authFailure(err.Error(), ErrInvalidCode)
	}

	user, err := s.userRepository.ByEmail(normalizeEmail(email))
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, rejected(ErrInvalidCode)
	}
	if err != nil {
		return nil, authFailure("failed to verify code", err)
	}

	_, err = s.tokenRepository.ConsumeForUser(user.ID, model.TokenTypeEmailVerify, code)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, rejected(ErrInvalidCode)
	}
	if err != nil {
		return nil, authFailure("failed to verify code", err)
	}

	err = s.userRepository.MarkEmailVerified(user.ID, time.Now())
	if err != nil {
		return nil, authFailure("failed to verify email", err)
	}

	user, err = s.userRepository.ByID(user.ID)
	if err != nil {
		return nil, authFailure("failed to verify email", err)
	}

	session, err := s.issueSession(user)
	if err != nil {
		return nil, authFailure("failed to create session", err)
	}

	s.logInPurchases(ctx, user.ID)

	slog.Info("email verified", "user_id", user.ID)
	s.publish(model.AuthEventUserUpdated, user, session)
	return session, nil
}

func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	if err := s.ready(); err != nil {
		return err
	}

	session, err := s.Session(ctx, accessToken)
	if err != nil {
		return err
	}

	if s.purchases != nil {
		err = s.purchases.LogOut(ctx, session.User.ID)
		if err != nil && !errors.Is(err, ErrPurchasesNotConfigured) {
			slog.Warn("failed to log out of purchases", "error", err, "user_id", session.User.ID)
		}
	}

	err = s.tokenRepository.Revoke(model.TokenTypeSession, session.ID)
	if err != nil && !errors.Is(err, repository.ErrTokenNotFound) {
		return authFailure("failed to sign out", err)
	}

	slog.Info("user signed out", "user_id", session.User.ID)
	s.events.Publish(model.AuthEvent{Kind: model.AuthEventSignedOut, UserID: session.User.ID})
	return nil
}

// Session resolves an access token to a live session.
func (s *AuthService) Session(ctx context.Context, accessToken string) (*model.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	claims, err := s.VerifyJWT(accessToken)
	if err != nil {
		return nil, authFailure(ErrInvalidSession.Error(), fmt.Errorf("%w: %w", ErrInvalidSession, err))
	}

	sid, _ := claims["sid"].(string)
	if sid == "" {
		return nil, rejected(ErrInvalidSession)
	}

	row, err := s.tokenRepository.Active(model.TokenTypeSession, sid)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, rejected(ErrInvalidSession)
	}
	if err != nil {
		return nil, authFailure("failed to load session", err)
	}

	user, err := s.userRepository.ByID(row.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, rejected(ErrInvalidSession)
	}
	if err != nil {
		return nil, authFailure("failed to load session", err)
	}

	return &model.Session{
		ID:          sid,
		AccessToken: accessToken,
		ExpiresAt:   row.ExpiresAt,
		User:        user,
	}, nil
}

// RefreshSession rotates the access token; the old one stops working.
func (s *AuthService) RefreshSession(ctx context.Context, accessToken string) (*model.Session, error) {
	current, err := s.Session(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	session, err := s.issueSession(current.User)
	if err != nil {
		return nil, authFailure("failed to refresh session", err)
	}

	err = s.tokenRepository.Revoke(model.TokenTypeSession, current.ID)
	if err != nil {
		slog.Warn("failed to revoke refreshed session", "error", err, "user_id", current.User.ID)
	}

	s.publish(model.AuthEventTokenRefreshed, session.User, session)
	return session, nil
}

// ResetPassword emails a reset link. Unknown addresses succeed silently.
func (s *AuthService) ResetPassword(ctx context.Context, email string) error {
	if err := s.ready(); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return authFailure(err.Error(), ErrInvalidEmail)
	}

	user, err := s.userRepository.ByEmail(email)
	if err != nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}

	err = s.tokenRepository.DeleteByUserAndType(user.ID, model.TokenTypePasswordReset)
	if err != nil {
		slog.Warn("failed to delete old reset tokens", "error", err, "user_id", user.ID)
	}

	resetToken, err := s.GenerateToken()
	if err != nil {
		return authFailure("failed to reset password", err)
	}

	err = s.tokenRepository.Create(&model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypePasswordReset,
		Token:     resetToken,
		ExpiresAt: time.Now().Add(s.tokenPasswordResetExpiry),
	})
	if err != nil {
		return authFailure("failed to reset password", err)
	}

	err = s.emailService.SendPasswordResetEmail(ctx, user.Email, resetToken)
	if err != nil {
		slog.Error("failed to send password reset email", "error", err, "user_id", user.ID)
		return authFailure("failed to send email", err)
	}

	slog.Info("password reset link sent", "user_id", user.ID)
	return nil
}

// CompletePasswordReset sets the new password and ends every session of the
// user. Following the emailed link also confirms the address.
func (s *AuthService) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if err := s.ready(); err != nil {
		return err
	}

	if err := validation.ValidatePassword(newPassword); err != nil {
		return weakPassword(err)
	}

	tokenModel, err := s.tokenRepository.Consume(model.TokenTypePasswordReset, token)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return rejected(ErrInvalidToken)
	}
	if err != nil {
		return authFailure("failed to reset password", err)
	}

	user, err := s.userRepository.ByID(tokenModel.UserID)
	if err != nil {
		return authFailure("failed to reset password", err)
	}

	err = s.setPassword(user, newPassword)
	if err != nil {
		return authFailure("failed to reset password", err)
	}

	err = s.userRepository.MarkEmailVerified(user.ID, time.Now())
	if err != nil {
		slog.Warn("failed to mark email verified", "error", err, "user_id", user.ID)
	}

	err = s.tokenRepository.DeleteByUserAndType(user.ID, model.TokenTypeSession)
	if err != nil {
		slog.Warn("failed to revoke sessions after password reset", "error", err, "user_id", user.ID)
	}

	slog.Info("password reset completed", "user_id", user.ID)
	s.events.Publish(model.AuthEvent{Kind: model.AuthEventSignedOut, UserID: user.ID})
	return nil
}

func (s *AuthService) UpdatePassword(ctx context.Context, session *model.Session, newPassword string) error {
	if err := s.ready(); err != nil {
		return err
	}

	if err := validation.ValidatePassword(newPassword); err != nil {
		return weakPassword(err)
	}

	err := s.setPassword(session.User, newPassword)
	if err != nil {
		return authFailure("failed to update password", err)
	}

	slog.Info("password updated", "user_id", session.User.ID)
	s.publish(model.AuthEventUserUpdated, session.User, session)
	return nil
}

func (s *AuthService) setPassword(user *model.User, password string) error {
	hashedPassword, err := s.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = &hashedPassword
	err = s.userRepository.Update(user)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// UpdateEmail stores the new address as pending and emails a confirmation
// link to it. The current address keeps working until confirmed.
func (s *AuthService) UpdateEmail(ctx context.Context, session *model.Session, newEmail string) error {
	if err := s.ready(); err != nil {
		return err
	}

	newEmail = normalizeEmail(newEmail)
	if err := validation.ValidateEmail(newEmail); err != nil {
		return authFailure(err.Error(), ErrInvalidEmail)
	}

	user, err := s.userRepository.ByID(session.User.ID)
	if err != nil {
		return authFailure("failed to update email", err)
	}

	if newEmail == user.Email {
		return authFailure("email is already set to this value", ErrInvalidEmail)
	}

	existingUser, err := s.userRepository.ByEmail(newEmail)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return authFailure("failed to update email", fmt.Errorf("failed to check email: %w", err))
	}
	if existingUser != nil {
		return rejected(ErrEmailAlreadyExists)
	}

	err = s.tokenRepository.DeleteByUserAndType(user.ID, model.TokenTypeEmailChange)
	if err != nil {
		slog.Warn("failed to delete old email change tokens", "error", err, "user_id", user.ID)
	}

	user.PendingEmail = &newEmail
	err = s.userRepository.Update(user)
	if err != nil {
		return authFailure("failed to update email", fmt.Errorf("failed to save pending email: %w", err))
	}

	verificationToken, err := s.GenerateToken()
	if err != nil {
		return authFailure("failed to update email", err)
	}

	err = s.tokenRepository.Create(&model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypeEmailChange,
		Token:     verificationToken,
		ExpiresAt: time.Now().Add(s.tokenEmailChangeExpiry),
	})
	if err != nil {
		return authFailure("failed to update email", err)
	}

	name := s.displayName(user.ID)

	err = s.emailService.SendEmailChangeVerification(ctx, newEmail, verificationToken, name)
	if err != nil {
		return authFailure("failed to send verification email", err)
	}

	err = s.emailService.SendEmailChangeNotification(ctx, user.Email, newEmail, name)
	if err != nil {
		slog.Warn("failed to send email change notification", "error", err, "user_id", user.ID)
	}

	s.publish(model.AuthEventUserUpdated, user, session)
	return nil
}

// ConfirmEmailChange moves the pending address into place.
func (s *AuthService) ConfirmEmailChange(ctx context.Context, token string) (*model.User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	tokenModel, err := s.tokenRepository.Consume(model.TokenTypeEmailChange, token)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, rejected(ErrInvalidToken)
	}
	if err != nil {
		return nil, authFailure("failed to confirm email", err)
	}

	user, err := s.userRepository.ByID(tokenModel.UserID)
	if err != nil {
		return nil, authFailure("failed to confirm email", err)
	}

	if user.PendingEmail == nil || *user.PendingEmail == "" {
		return nil, rejected(ErrNoPendingEmail)
	}

	user.Email = *user.PendingEmail
	user.PendingEmail = nil

	err = s.userRepository.Update(user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, rejected(ErrEmailAlreadyExists)
	}
	if err != nil {
		return nil, authFailure("failed to confirm email", fmt.Errorf("failed to update email: %w", err))
	}

	slog.Info("email change confirmed", "user_id", user.ID)
	s.publish(model.AuthEventUserUpdated, user, nil)
	return user, nil
}

func (s *AuthService) HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

func (s *AuthService) ComparePassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func (s *AuthService) GenerateToken() (string, error) {
	bytes := make([]byte, 32)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateCode returns a zero padded 6 digit verification code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *AuthService) GenerateJWT(user *model.User, sid string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"sid":     sid,
		"exp":     expiresAt.Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func (s *AuthService) VerifyJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// issueSession stores a session row keyed by the JWT's sid claim so the
// token can be revoked before it expires.
func (s *AuthService) issueSession(user *model.User) (*model.Session, error) {
	sid := uuid.New().String()
	expiresAt := time.Now().Add(s.jwtExpiry)

	err := s.tokenRepository.Create(&model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypeSession,
		Token:     sid,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	accessToken, err := s.GenerateJWT(user, sid, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	return &model.Session{
		ID:          sid,
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

func (s *AuthService) logInPurchases(ctx context.Context, userID string) {
	if s.purchases == nil {
		return
	}
	err := s.purchases.LogIn(ctx, userID)
	if err != nil && !errors.Is(err, ErrPurchasesNotConfigured) {
		slog.Warn("failed to log in to purchases", "error", err, "user_id", userID)
	}
}

func (s *AuthService) publish(kind model.AuthEventKind, user *model.User, session *model.Session) {
	s.events.Publish(model.AuthEvent{
		Kind:    kind,
		UserID:  user.ID,
		User:    user,
		Session: session,
	})
}

func (s *AuthService) displayName(userID string) string {
	profile, err := s.profileRepository.ByUserID(userID)
	if err != nil || profile.Name == "" {
		return "there"
	}
	return profile.Name
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func weakPassword(err error) *AuthError {
	return authFailure(err.Error(), fmt.Errorf("%w: %w", ErrWeakPassword, err))
}
