package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/giroclub/giroclub-backend/internal/service"
)

type GroupHandler struct {
	groups *service.GroupService
}

func NewGroupHandler(groups *service.GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// CreateGroup opens a new group; the caller becomes position 1.
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var in service.CreateGroupInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	group, err := h.groups.Create(r.Context(), actorID, in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, group)
}

// GetGroup returns a group with its roster.
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "Invalid group id")
		return
	}

	detail, err := h.groups.Get(r.Context(), groupID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, detail)
}

// JoinGroup seats the caller at the lowest free position.
func (h *GroupHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	groupID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "Invalid group id")
		return
	}

	member, err := h.groups.Join(r.Context(), actorID, groupID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, member)
}

// ListMyGroups lists the groups the caller belongs to.
func (h *GroupHandler) ListMyGroups(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	groups, err := h.groups.ListForProfile(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

// GetBalance reports the group's confirmed deposits against its expected pot.
func (h *GroupHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "Invalid group id")
		return
	}

	limit := queryInt(r, "limit", 20)
	balance, err := h.groups.Balance(r.Context(), groupID, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, balance)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
