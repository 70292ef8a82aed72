package handler

import (
	"net/http"

	"github.com/armiapp/armi/internal/ctxkeys"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/onboarding"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/validation"
)

type ProfileHandler struct {
	profileService *service.ProfileService
	coordinator    *onboarding.Coordinator
	validator      *validation.Validator
}

func NewProfileHandler(profileService *service.ProfileService, coordinator *onboarding.Coordinator, validator *validation.Validator) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		coordinator:    coordinator,
		validator:      validator,
	}
}

type statusResponse struct {
	model.EntitlementStatus
	Onboarding onboarding.State `json:"onboarding"`
}

type listTypeRequest struct {
	ListType string `json:"list_type" validate:"required,listtype"`
}

type nameRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// Status returns the derived entitlement status with the onboarding state.
func (h *ProfileHandler) Status(w http.ResponseWriter, r *http.Request) {
	state, status := h.coordinator.State(r.Context(), ctxkeys.User(r.Context()))
	writeJSON(w, http.StatusOK, statusResponse{EntitlementStatus: status, Onboarding: state})
}

// RefreshStatus re-resolves entitlements, e.g. right after a purchase.
func (h *ProfileHandler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	state, status := h.coordinator.Refresh(r.Context(), ctxkeys.User(r.Context()))
	writeJSON(w, http.StatusOK, statusResponse{EntitlementStatus: status, Onboarding: state})
}

func (h *ProfileHandler) UpdateListType(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	var req listTypeRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	listType, err := model.ParseListType(req.ListType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	err = h.profileService.UpdateSelectedListType(user.ID, listType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	state, status := h.coordinator.Refresh(r.Context(), user)
	writeJSON(w, http.StatusOK, statusResponse{EntitlementStatus: status, Onboarding: state})
}

func (h *ProfileHandler) UpdateName(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	var req nameRequest
	err := decode(w, r, h.validator, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	err = h.profileService.UpdateName(user.ID, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
