package handler

import (
	"encoding/json"
	"net/http"

	"github.com/giroclub/giroclub-backend/internal/service"
)

type ProfileHandler struct {
	profiles *service.ProfileService
}

func NewProfileHandler(profiles *service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// CreateProfile registers a new member profile.
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var in service.CreateProfileInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	profile, err := h.profiles.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, profile)
}

// Me returns the authenticated member's profile.
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	profile, err := h.profiles.Get(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, profile)
}
