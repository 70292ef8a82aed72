package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/onboarding"
	"github.com/armiapp/armi/internal/repository"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/validation"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, v *validation.Validator, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil {
		return fmt.Errorf("%w: %w", errBadBody, err)
	}
	return v.Struct(dst)
}

var errBadBody = errors.New("invalid request body")

// writeServiceError maps the service error taxonomy to a status code. Auth
// and request errors carry user safe messages; anything else is logged and
// hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var requestErr *validation.RequestError
	if errors.As(err, &requestErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: requestErr.Fields})
		return
	}
	if errors.Is(err, errBadBody) {
		writeError(w, http.StatusBadRequest, errBadBody.Error())
		return
	}

	var authErr *service.AuthError
	if errors.As(err, &authErr) {
		writeError(w, authStatus(authErr), authErr.Message)
		return
	}

	var purchaseErr *service.PurchaseError
	if errors.As(err, &purchaseErr) {
		status, message := purchaseStatus(purchaseErr)
		if status >= http.StatusInternalServerError {
			slog.Error("purchase request failed", "error", err, "path", r.URL.Path)
		}
		writeError(w, status, message)
		return
	}

	switch {
	case errors.Is(err, service.ErrNotInitialized), errors.Is(err, service.ErrPurchasesNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, onboarding.ErrNotEligible):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, onboarding.ErrModalNotShown):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrInvalidListType):
		writeError(w, http.StatusBadRequest, model.ErrInvalidListType.Error())
	case errors.Is(err, repository.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, repository.ErrProfileNotFound.Error())
	default:
		var flagErr *service.FlagStoreError
		if errors.As(err, &flagErr) {
			slog.Error("flag store unavailable", "error", err, "path", r.URL.Path)
			writeError(w, http.StatusServiceUnavailable, "could not save your choice, please try again")
			return
		}
		slog.Error("request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func authStatus(err *service.AuthError) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidSession):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrEmailAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrNoPendingEmail):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func purchaseStatus(err *service.PurchaseError) (int, string) {
	switch {
	case errors.Is(err, service.ErrPurchasesNotConfigured):
		return http.StatusServiceUnavailable, "purchases are not available"
	case errors.Is(err, service.ErrUnknownPackage):
		return http.StatusBadRequest, "unknown package"
	case errors.Is(err, service.ErrAlreadySubscribed):
		return http.StatusConflict, "already subscribed"
	case errors.Is(err, service.ErrNoCustomerAccount):
		return http.StatusNotFound, service.ErrNoCustomerAccount.Error()
	default:
		return http.StatusBadGateway, err.Op + " failed, please try again"
	}
}
