package handler

import (
	"net/http"

	"github.com/giroclub/giroclub-backend/internal/service"
)

type LoanHandler struct {
	loans *service.LoanService
}

func NewLoanHandler(loans *service.LoanService) *LoanHandler {
	return &LoanHandler{loans: loans}
}

// RequestPayout asks for the group's pot. Only the member whose turn it is
// may request; everyone else gets an eligibility error.
func (h *LoanHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
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

	lr, err := h.loans.RequestPayout(r.Context(), actorID, groupID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, lr)
}
