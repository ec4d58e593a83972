package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/giroclub/giroclub-backend/internal/api/middleware"
	"github.com/giroclub/giroclub-backend/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type AuthHandler struct {
	profiles *service.ProfileService
}

func NewAuthHandler(profiles *service.ProfileService) *AuthHandler {
	return &AuthHandler{profiles: profiles}
}

// Login issues a JWT for an existing profile. Mock login by profile id; CPF
// verification and a real identity provider sit in front of this in
// production.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileID string `json:"profile_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	pid, err := uuid.Parse(req.ProfileID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "auth/invalid-profile-id", "Invalid profile_id")
		return
	}

	profile, err := h.profiles.Get(r.Context(), pid)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	role := "member"
	if profile.IsAdmin {
		role = middleware.RoleAdmin
	}

	claims := jwt.MapClaims{
		"profile_id": pid.String(),
		"sub":        pid.String(),
		"role":       role,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
	}
	if iss := middleware.JWTIssuer(); iss != "" {
		claims["iss"] = iss
	}
	if aud := middleware.JWTAudience(); aud != "" {
		claims["aud"] = aud
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(middleware.JWTSecret())
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "auth/sign-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}
