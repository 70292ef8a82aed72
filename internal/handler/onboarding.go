package handler

import (
	"net/http"

	"github.com/armiapp/armi/internal/ctxkeys"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/onboarding"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/validation"
)

type OnboardingHandler struct {
	coordinator    *onboarding.Coordinator
	devNoteService *service.DevNoteService
	validator      *validation.Validator
}

func NewOnboardingHandler(coordinator *onboarding.Coordinator, devNoteService *service.DevNoteService, validator *validation.Validator) *OnboardingHandler {
	return &OnboardingHandler{
		coordinator:    coordinator,
		devNoteService: devNoteService,
		validator:      validator,
	}
}

type listOption struct {
	Value       model.ListType `json:"value"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
}

type onboardingResponse struct {
	State       onboarding.State `json:"state"`
	ListOptions []listOption     `json:"list_options,omitempty"`
}

type dismissDevNoteRequest struct {
	DontShowAgain bool `json:"dont_show_again"`
}

func newOnboardingResponse(state onboarding.State) onboardingResponse {
	resp := onboardingResponse{State: state}
	if state != onboarding.StateListSelection {
		return resp
	}

	for _, lt := range model.ListTypes {
		resp.ListOptions = append(resp.ListOptions, listOption{
			Value:       lt,
			Label:       lt.Label(),
			Description: lt.Description(),
		})
	}
	return resp
}

// State tells the client which modal to show, if any.
func (h *OnboardingHandler) State(w http.ResponseWriter, r *http.Request) {
	state, _ := h.coordinator.State(r.Context(), ctxkeys.User(r.Context()))
	writeJSON(w, http.StatusOK, newOnboardingResponse(state))
}

func (h *OnboardingHandler) DismissListSelection(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.DismissListSelection(r.Context(), ctxkeys.User(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOnboardingResponse(state))
}

func (h *OnboardingHandler) DismissDevNote(w http.ResponseWriter, r *http.Request) {
	var req dismissDevNoteRequest
	if r.ContentLength != 0 {
		err := decode(w, r, h.validator, &req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	state, err := h.coordinator.DismissDevNote(r.Context(), ctxkeys.User(r.Context()), req.DontShowAgain)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOnboardingResponse(state))
}

func (h *OnboardingHandler) DevNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.devNoteService.Note()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, note)
}
