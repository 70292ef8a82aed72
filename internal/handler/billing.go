package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/armiapp/armi/internal/ctxkeys"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/onboarding"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/validation"
)

const maxWebhookBytes = 64 << 10

type BillingHandler struct {
	purchaseService *service.PurchaseService
	coordinator     *onboarding.Coordinator
	validator       *validation.Validator
}

func NewBillingHandler(purchaseService *service.PurchaseService, coordinator *onboarding.Coordinator, validator *validation.Validator) *BillingHandler {
	return &BillingHandler{
		purchaseService: purchaseService,
		coordinator:     coordinator,
		validator:       validator,
	}
}

type purchaseRequest struct {
	PackageID string `json:"package_id" validate:"required"`
}

type urlResponse struct {
	URL string `json:"url"`
}

type restoreResponse struct {
	Customer *model.CustomerInfo `json:"customer"`
	Status   statusResponse      `json:"status"`
}

func (h *BillingHandler) Offerings(w http.ResponseWriter, r *http.Request) {
	offering, err := h.purchaseService.Offerings(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, offering)
}

func (h *BillingHandler) CustomerInfo(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	info, err := h.purchaseService.CustomerInfo(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Purchase returns the provider checkout URL; the client opens it and the
// webhook records the result.
func (h *BillingHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	var req purchaseRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	checkoutURL, err := h.purchaseService.Purchase(r.Context(), user, req.PackageID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slog.Info("checkout created", "user_id", user.ID, "package_id", req.PackageID, "provider", h.purchaseService.ProviderName())
	writeJSON(w, http.StatusOK, urlResponse{URL: checkoutURL})
}

func (h *BillingHandler) Restore(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	info, err := h.purchaseService.RestorePurchases(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	state, status := h.coordinator.Refresh(r.Context(), user)
	writeJSON(w, http.StatusOK, restoreResponse{
		Customer: info,
		Status:   statusResponse{EntitlementStatus: status, Onboarding: state},
	})
}

func (h *BillingHandler) CustomerPortal(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	portalURL, err := h.purchaseService.ManageURL(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, urlResponse{URL: portalURL})
}

func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		slog.Error("failed to read webhook payload", "error", err)
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	err = h.purchaseService.HandleWebhook(r.Context(), payload, r.Header)
	if errors.Is(err, service.ErrPurchasesNotConfigured) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		slog.Error("failed to handle webhook", "error", err, "provider", h.purchaseService.ProviderName())
		writeError(w, http.StatusBadRequest, "failed to process webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
