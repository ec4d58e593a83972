package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/observability"
	"github.com/giroclub/giroclub-backend/internal/rotation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoanLedger is the slice of the ledger the payout request workflow needs.
type LoanLedger interface {
	GroupByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	MemberByProfile(ctx context.Context, groupID, profileID uuid.UUID) (*models.Member, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.Member, error)
	HasPendingLoanRequest(ctx context.Context, userID, groupID uuid.UUID) (bool, error)
	InsertLoanRequest(ctx context.Context, lr *models.LoanRequest) error
	LoanRequestByID(ctx context.Context, id uuid.UUID) (*models.LoanRequest, error)
	ListLoanRequests(ctx context.Context, status string, limit, offset int) ([]models.LoanRequestDetail, error)
	ApproveLoanRequest(ctx context.Context, requestID uuid.UUID, actorID *uuid.UUID, receivedAt time.Time) error
	RejectLoanRequest(ctx context.Context, requestID uuid.UUID, actorID *uuid.UUID) error
}

// LoanService handles payout (loan) requests: a member in turn asks for the
// pot, an admin approves or rejects.
type LoanService struct {
	ledger LoanLedger
	now    func() time.Time
}

func NewLoanService(ledger LoanLedger) *LoanService {
	return &LoanService{ledger: ledger, now: time.Now}
}

// RequestPayout validates the member against the rotation order and records a
// pending request for the group's payout amount. Eligibility is checked
// against a snapshot of the roster; the database enforces at most one pending
// request per member per group, so a racing duplicate surfaces as
// ErrDuplicateRequest rather than a second row.
func (s *LoanService) RequestPayout(ctx context.Context, profileID, groupID uuid.UUID) (*models.LoanRequest, error) {
	group, err := s.ledger.GroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Status != models.GroupStatusActive {
		return nil, models.ErrGroupNotActive
	}

	member, err := s.ledger.MemberByProfile(ctx, groupID, profileID)
	if err != nil {
		if errors.Is(err, models.ErrMemberNotFound) {
			observability.IncrementEligibilityRejection("not_a_member")
			return nil, rotation.ErrNotAMember
		}
		return nil, err
	}
	members, err := s.ledger.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if err := rotation.CanRequestPayout(member, members, group); err != nil {
		observability.IncrementEligibilityRejection(rejectionReason(err))
		return nil, err
	}

	pending, err := s.ledger.HasPendingLoanRequest(ctx, profileID, groupID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, models.ErrDuplicateRequest
	}

	lr := &models.LoanRequest{
		ID:          uuid.New(),
		UserID:      profileID,
		GroupID:     groupID,
		AmountCents: group.PayoutCents,
		Status:      models.LoanRequestPending,
		CreatedAt:   s.now(),
	}
	if err := s.ledger.InsertLoanRequest(ctx, lr); err != nil {
		return nil, err
	}

	zap.L().Info("payout requested",
		zap.String("request_id", lr.ID.String()),
		zap.String("group_id", groupID.String()),
		zap.String("profile_id", profileID.String()),
		zap.Int("position", member.Position),
		zap.Int64("amount_cents", lr.AmountCents),
	)
	return lr, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, rotation.ErrOutOfTurn):
		return "out_of_turn"
	case errors.Is(err, rotation.ErrAlreadyReceived):
		return "already_received"
	case errors.Is(err, rotation.ErrGroupNotFull):
		return "group_not_full"
	case errors.Is(err, rotation.ErrNotAMember):
		return "not_a_member"
	default:
		return "other"
	}
}

// ResolveRequest approves or rejects a pending request on behalf of actorID.
// Approval marks the member as having received the pot and records the
// disbursement; both happen in one ledger transaction, so a half-applied
// approval cannot be observed.
func (s *LoanService) ResolveRequest(ctx context.Context, requestID uuid.UUID, actorID uuid.UUID, approve bool) (*models.LoanRequest, error) {
	if approve {
		if err := s.ledger.ApproveLoanRequest(ctx, requestID, &actorID, s.now()); err != nil {
			return nil, fmt.Errorf("approve request: %w", err)
		}
	} else {
		if err := s.ledger.RejectLoanRequest(ctx, requestID, &actorID); err != nil {
			return nil, fmt.Errorf("reject request: %w", err)
		}
	}

	lr, err := s.ledger.LoanRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	zap.L().Info("payout request resolved",
		zap.String("request_id", requestID.String()),
		zap.String("status", lr.Status),
		zap.String("actor_id", actorID.String()),
	)
	return lr, nil
}

// PendingRequests lists pending requests with requester identity for the
// admin review screen.
func (s *LoanService) PendingRequests(ctx context.Context, limit, offset int) ([]models.LoanRequestDetail, error) {
	return s.ledger.ListLoanRequests(ctx, models.LoanRequestPending, limit, offset)
}

// Requests lists requests filtered by status; an empty status means all.
func (s *LoanService) Requests(ctx context.Context, status string, limit, offset int) ([]models.LoanRequestDetail, error) {
	return s.ledger.ListLoanRequests(ctx, status, limit, offset)
}
