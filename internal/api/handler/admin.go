package handler

import (
	"encoding/json"
	"net/http"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/service"
)

// AdminHandler exposes the back-office endpoints: reviewing payout requests,
// advancing cycles and listing groups. All routes sit behind RequireRole.
type AdminHandler struct {
	loans  *service.LoanService
	groups *service.GroupService
}

func NewAdminHandler(loans *service.LoanService, groups *service.GroupService) *AdminHandler {
	return &AdminHandler{loans: loans, groups: groups}
}

// ListLoanRequests lists payout requests, pending ones by default.
func (h *AdminHandler) ListLoanRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.LoanRequestPending
	}
	if status == "all" {
		status = ""
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	requests, err := h.loans.Requests(r.Context(), status, limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

// ResolveLoanRequest approves or rejects a pending payout request.
func (h *AdminHandler) ResolveLoanRequest(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	requestID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "Invalid request id")
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.Action != "approve" && req.Action != "reject" {
		RespondError(w, r, http.StatusBadRequest, "loan-request/invalid-action", `action must be "approve" or "reject"`)
		return
	}

	lr, err := h.loans.ResolveRequest(r.Context(), requestID, actorID, req.Action == "approve")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, lr)
}

// AdvanceCycle moves a group to its next cycle, or completes it.
func (h *AdminHandler) AdvanceCycle(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		Complete bool `json:"complete"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
			return
		}
	}

	if err := h.groups.AdvanceCycle(r.Context(), groupID, actorID, req.Complete); err != nil {
		respondServiceError(w, r, err)
		return
	}

	detail, err := h.groups.Get(r.Context(), groupID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, detail)
}

// ListGroups lists groups by status for the back office.
func (h *AdminHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "all" {
		status = ""
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	groups, err := h.groups.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}
