package handler

import (
	"net/http"

	"github.com/giroclub/giroclub-backend/internal/service"
)

type DepositHandler struct {
	deposits *service.DepositService
}

func NewDepositHandler(deposits *service.DepositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

// StartDeposit creates a Pix charge for the caller's group deposit and
// returns the QR payload. The flow keeps polling in the background; the
// client watches it via GetDeposit.
func (h *DepositHandler) StartDeposit(w http.ResponseWriter, r *http.Request) {
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

	snap, err := h.deposits.Start(r.Context(), actorID, groupID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, snap)
}

// GetDeposit returns the state of the caller's deposit flow for the group.
func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
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

	snap, err := h.deposits.Status(actorID, groupID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}

// CancelDeposit abandons the caller's in-flight deposit flow.
func (h *DepositHandler) CancelDeposit(w http.ResponseWriter, r *http.Request) {
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

	snap, err := h.deposits.Cancel(actorID, groupID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}
