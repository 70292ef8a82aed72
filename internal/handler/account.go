package handler

import (
	"net/http"

	"github.com/armiapp/armi/internal/ctxkeys"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/validation"
)

type AccountHandler struct {
	authService *service.AuthService
	validator   *validation.Validator
}

func NewAccountHandler(authService *service.AuthService, validator *validation.Validator) *AccountHandler {
	return &AccountHandler{
		authService: authService,
		validator:   validator,
	}
}

type changePasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	err = h.authService.UpdatePassword(r.Context(), ctxkeys.Session(r.Context()), req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangeEmail starts an email change. The new address only takes effect
// once the link sent to it is confirmed.
func (h *AccountHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	err = h.authService.UpdateEmail(r.Context(), ctxkeys.Session(r.Context()), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Check your new inbox to confirm the change."})
}
