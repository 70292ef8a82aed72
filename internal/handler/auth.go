package handler

import (
	"net/http"

	"github.com/armiapp/armi/internal/ctxkeys"
	"github.com/armiapp/armi/internal/middleware"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/validation"
)

type AuthHandler struct {
	authService *service.AuthService
	validator   *validation.Validator
}

func NewAuthHandler(authService *service.AuthService, validator *validation.Validator) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validator:   validator,
	}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,otp"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type passwordResetConfirmRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := h.authService.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := h.authService.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// SendCode always answers 202 for a well formed address so the endpoint
// cannot be used to probe for accounts.
func (h *AuthHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	err = h.authService.SendVerificationCode(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, messageResponse{Message: "If an account exists, a code is on its way."})
}

func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := h.authService.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	err := h.authService.SignOut(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ctxkeys.Session(r.Context()))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.authService.RefreshSession(r.Context(), middleware.BearerToken(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	err = h.authService.ResetPassword(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, messageResponse{Message: "If an account exists, a reset link is on its way."})
}

func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirmRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	err = h.authService.CompletePasswordReset(r.Context(), req.Token, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated. Please sign in again."})
}

func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	user, err := h.authService.ConfirmEmailChange(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
