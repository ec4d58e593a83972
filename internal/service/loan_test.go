package service

import (
	"context"
	"testing"
	"time"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/rotation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoanLedger struct {
	group    *models.Group
	members  []models.Member
	requests map[uuid.UUID]*models.LoanRequest
}

func newFakeLoanLedger(memberCount int) *fakeLoanLedger {
	groupID := uuid.New()
	l := &fakeLoanLedger{
		group: &models.Group{
			ID:          groupID,
			Name:        "Giro dos Vizinhos",
			Status:      models.GroupStatusActive,
			MaxMembers:  5,
			PayoutCents: 30000,
		},
		requests: make(map[uuid.UUID]*models.LoanRequest),
	}
	for i := 0; i < memberCount; i++ {
		l.members = append(l.members, models.Member{
			ID:        uuid.New(),
			GroupID:   groupID,
			ProfileID: uuid.New(),
			Position:  i + 1,
		})
	}
	return l
}

func (l *fakeLoanLedger) GroupByID(_ context.Context, id uuid.UUID) (*models.Group, error) {
	if id != l.group.ID {
		return nil, models.ErrGroupNotFound
	}
	return l.group, nil
}

func (l *fakeLoanLedger) MemberByProfile(_ context.Context, groupID, profileID uuid.UUID) (*models.Member, error) {
	for i := range l.members {
		if l.members[i].GroupID == groupID && l.members[i].ProfileID == profileID {
			return &l.members[i], nil
		}
	}
	return nil, models.ErrMemberNotFound
}

func (l *fakeLoanLedger) ListMembers(_ context.Context, groupID uuid.UUID) ([]models.Member, error) {
	out := make([]models.Member, 0, len(l.members))
	for _, m := range l.members {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *fakeLoanLedger) HasPendingLoanRequest(_ context.Context, userID, groupID uuid.UUID) (bool, error) {
	for _, lr := range l.requests {
		if lr.UserID == userID && lr.GroupID == groupID && lr.Status == models.LoanRequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLoanLedger) InsertLoanRequest(_ context.Context, lr *models.LoanRequest) error {
	for _, existing := range l.requests {
		if existing.UserID == lr.UserID && existing.GroupID == lr.GroupID && existing.Status == models.LoanRequestPending {
			return models.ErrDuplicateRequest
		}
	}
	cp := *lr
	l.requests[lr.ID] = &cp
	return nil
}

func (l *fakeLoanLedger) LoanRequestByID(_ context.Context, id uuid.UUID) (*models.LoanRequest, error) {
	lr, ok := l.requests[id]
	if !ok {
		return nil, models.ErrLoanRequestNotFound
	}
	return lr, nil
}

func (l *fakeLoanLedger) ListLoanRequests(_ context.Context, status string, _, _ int) ([]models.LoanRequestDetail, error) {
	var out []models.LoanRequestDetail
	for _, lr := range l.requests {
		if status == "" || lr.Status == status {
			out = append(out, models.LoanRequestDetail{LoanRequest: *lr})
		}
	}
	return out, nil
}

func (l *fakeLoanLedger) ApproveLoanRequest(_ context.Context, requestID uuid.UUID, _ *uuid.UUID, receivedAt time.Time) error {
	lr, ok := l.requests[requestID]
	if !ok {
		return models.ErrLoanRequestNotFound
	}
	if lr.Status != models.LoanRequestPending {
		return models.ErrRequestNotPending
	}
	lr.Status = models.LoanRequestApproved
	for i := range l.members {
		if l.members[i].GroupID == lr.GroupID && l.members[i].ProfileID == lr.UserID {
			l.members[i].HasReceived = true
			t := receivedAt
			l.members[i].ReceivedAt = &t
		}
	}
	return nil
}

func (l *fakeLoanLedger) RejectLoanRequest(_ context.Context, requestID uuid.UUID, _ *uuid.UUID) error {
	lr, ok := l.requests[requestID]
	if !ok {
		return models.ErrLoanRequestNotFound
	}
	if lr.Status != models.LoanRequestPending {
		return models.ErrRequestNotPending
	}
	lr.Status = models.LoanRequestRejected
	return nil
}

func TestRequestPayoutFirstInTurn(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	svc := NewLoanService(ledger)

	lr, err := svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	require.NoError(t, err)

	assert.Equal(t, models.LoanRequestPending, lr.Status)
	assert.Equal(t, int64(30000), lr.AmountCents)
	assert.Equal(t, ledger.group.ID, lr.GroupID)
}

func TestRequestPayoutOutOfTurn(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	svc := NewLoanService(ledger)

	// Position 3 while positions 1 and 2 have not received yet.
	_, err := svc.RequestPayout(context.Background(), ledger.members[2].ProfileID, ledger.group.ID)
	assert.ErrorIs(t, err, rotation.ErrOutOfTurn)
}

func TestRequestPayoutAdvancesWithRotation(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	now := time.Now()
	ledger.members[0].HasReceived = true
	ledger.members[0].ReceivedAt = &now
	svc := NewLoanService(ledger)

	_, err := svc.RequestPayout(context.Background(), ledger.members[1].ProfileID, ledger.group.ID)
	require.NoError(t, err)

	_, err = svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	assert.ErrorIs(t, err, rotation.ErrAlreadyReceived)
}

func TestRequestPayoutGroupNotFull(t *testing.T) {
	ledger := newFakeLoanLedger(3)
	svc := NewLoanService(ledger)

	_, err := svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	assert.ErrorIs(t, err, rotation.ErrGroupNotFull)
}

func TestRequestPayoutNonMember(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	svc := NewLoanService(ledger)

	_, err := svc.RequestPayout(context.Background(), uuid.New(), ledger.group.ID)
	assert.ErrorIs(t, err, rotation.ErrNotAMember)
}

func TestRequestPayoutDuplicatePending(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	svc := NewLoanService(ledger)

	_, err := svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	require.NoError(t, err)

	_, err = svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	assert.ErrorIs(t, err, models.ErrDuplicateRequest)
}

func TestRequestPayoutInactiveGroup(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	ledger.group.Status = models.GroupStatusCancelled
	svc := NewLoanService(ledger)

	_, err := svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	assert.ErrorIs(t, err, models.ErrGroupNotActive)
}

func TestResolveRequestApprove(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	svc := NewLoanService(ledger)
	admin := uuid.New()

	lr, err := svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	require.NoError(t, err)

	resolved, err := svc.ResolveRequest(context.Background(), lr.ID, admin, true)
	require.NoError(t, err)
	assert.Equal(t, models.LoanRequestApproved, resolved.Status)
	assert.True(t, ledger.members[0].HasReceived)
	require.NotNil(t, ledger.members[0].ReceivedAt)

	// Member 2 is now next in the rotation.
	_, err = svc.RequestPayout(context.Background(), ledger.members[1].ProfileID, ledger.group.ID)
	assert.NoError(t, err)
}

func TestResolveRequestReject(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	svc := NewLoanService(ledger)

	lr, err := svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	require.NoError(t, err)

	resolved, err := svc.ResolveRequest(context.Background(), lr.ID, uuid.New(), false)
	require.NoError(t, err)
	assert.Equal(t, models.LoanRequestRejected, resolved.Status)
	assert.False(t, ledger.members[0].HasReceived)

	// Rejection clears the pending slot, the member may request again.
	_, err = svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	assert.NoError(t, err)
}

func TestResolveRequestTwice(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	svc := NewLoanService(ledger)

	lr, err := svc.RequestPayout(context.Background(), ledger.members[0].ProfileID, ledger.group.ID)
	require.NoError(t, err)

	_, err = svc.ResolveRequest(context.Background(), lr.ID, uuid.New(), true)
	require.NoError(t, err)

	_, err = svc.ResolveRequest(context.Background(), lr.ID, uuid.New(), true)
	assert.ErrorIs(t, err, models.ErrRequestNotPending)
}

func TestResolveRequestMissing(t *testing.T) {
	ledger := newFakeLoanLedger(5)
	svc := NewLoanService(ledger)

	_, err := svc.ResolveRequest(context.Background(), uuid.New(), uuid.New(), true)
	assert.ErrorIs(t, err, models.ErrLoanRequestNotFound)
}
