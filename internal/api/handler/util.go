package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/giroclub/giroclub-backend/internal/api/middleware"
	"github.com/giroclub/giroclub-backend/internal/api/problem"
	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/rotation"
	"github.com/giroclub/giroclub-backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	profileID := middleware.ProfileIDFromContext(r.Context())
	if profileID == "" {
		return uuid.Nil, false, errors.New("missing profile in auth context")
	}

	actorID, err := uuid.Parse(profileID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid profile_id in auth context")
	}

	return actorID, middleware.RoleFromContext(r.Context()) == middleware.RoleAdmin, nil
}

// respondServiceError translates the domain sentinels into problem responses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrGroupNotFound):
		RespondError(w, r, http.StatusNotFound, "group/not-found", "group not found")
	case errors.Is(err, models.ErrProfileNotFound):
		RespondError(w, r, http.StatusNotFound, "profile/not-found", "profile not found")
	case errors.Is(err, models.ErrMemberNotFound):
		RespondError(w, r, http.StatusNotFound, "member/not-found", "member not found")
	case errors.Is(err, models.ErrLoanRequestNotFound):
		RespondError(w, r, http.StatusNotFound, "loan-request/not-found", "payout request not found")
	case errors.Is(err, rotation.ErrNotAMember):
		RespondError(w, r, http.StatusForbidden, "rotation/not-a-member", "you are not a member of this group")
	case errors.Is(err, rotation.ErrOutOfTurn):
		RespondError(w, r, http.StatusUnprocessableEntity, "rotation/out-of-turn", "it is not your turn to receive the payout")
	case errors.Is(err, rotation.ErrAlreadyReceived):
		RespondError(w, r, http.StatusUnprocessableEntity, "rotation/already-received", "you already received the payout this cycle")
	case errors.Is(err, rotation.ErrGroupNotFull):
		RespondError(w, r, http.StatusUnprocessableEntity, "rotation/group-not-full", "the group has open positions, payouts have not started")
	case errors.Is(err, rotation.ErrGroupFull):
		RespondError(w, r, http.StatusConflict, "group/full", "the group is full")
	case errors.Is(err, models.ErrAlreadyMember):
		RespondError(w, r, http.StatusConflict, "group/already-member", "profile is already a member of this group")
	case errors.Is(err, models.ErrPositionTaken):
		RespondError(w, r, http.StatusConflict, "group/position-taken", "the position was taken, try again")
	case errors.Is(err, models.ErrDuplicateRequest):
		RespondError(w, r, http.StatusConflict, "loan-request/duplicate", "you already have a pending payout request for this group")
	case errors.Is(err, models.ErrRequestNotPending):
		RespondError(w, r, http.StatusConflict, "loan-request/not-pending", "the payout request was already resolved")
	case errors.Is(err, models.ErrGroupNotActive):
		RespondError(w, r, http.StatusConflict, "group/not-active", "the group is not active")
	case errors.Is(err, models.ErrCycleIncomplete):
		RespondError(w, r, http.StatusConflict, "group/cycle-incomplete", "members are still waiting for their payout this cycle")
	case errors.Is(err, service.ErrNoActiveFlow):
		RespondError(w, r, http.StatusNotFound, "deposit/no-active-flow", "no deposit in progress for this group")
	case errors.Is(err, service.ErrFlowNotCancellable):
		RespondError(w, r, http.StatusConflict, "deposit/not-cancellable", "the deposit already finished")
	case errors.Is(err, service.ErrInvalidGroupName):
		RespondError(w, r, http.StatusBadRequest, "group/invalid-name", "group name is required")
	case errors.Is(err, service.ErrInvalidProfile):
		RespondError(w, r, http.StatusBadRequest, "profile/invalid", "full name and a valid cpf are required")
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

func pathID(r *http.Request, param string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, param))
}
