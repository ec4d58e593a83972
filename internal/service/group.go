package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/rotation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults for a new group, matching the product's standard plan:
// R$100 deposit, R$80 weekly payment, R$300 payout, 5% service fee.
const (
	defaultMaxMembers         = 5
	defaultDepositCents       = 10000
	defaultWeeklyPaymentCents = 8000
	defaultPayoutCents        = 30000
	defaultServiceFeePercent  = 5
)

// joinRetries bounds the re-assign loop when two joins race for a position.
const joinRetries = 3

var ErrInvalidGroupName = errors.New("group name is required")

// GroupLedger is the slice of the ledger the group lifecycle needs.
type GroupLedger interface {
	CreateGroup(ctx context.Context, g *models.Group, creator *models.Member) error
	GroupByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	ListGroupsByProfile(ctx context.Context, profileID uuid.UUID) ([]models.GroupSummary, error)
	ListGroupsByStatus(ctx context.Context, status string, limit, offset int) ([]models.GroupSummary, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.Member, error)
	MemberByProfile(ctx context.Context, groupID, profileID uuid.UUID) (*models.Member, error)
	AddMember(ctx context.Context, m *models.Member) error
	AdvanceGroupCycle(ctx context.Context, groupID uuid.UUID, actorID *uuid.UUID, complete bool) error
	ListDeposits(ctx context.Context, groupID uuid.UUID, limit int) ([]models.Deposit, error)
	ConfirmedDepositTotal(ctx context.Context, groupID uuid.UUID) (int64, error)
}

// GroupService manages group lifecycle and membership.
type GroupService struct {
	ledger GroupLedger
	now    func() time.Time
}

func NewGroupService(ledger GroupLedger) *GroupService {
	return &GroupService{ledger: ledger, now: time.Now}
}

type CreateGroupInput struct {
	Name               string `json:"name"`
	MaxMembers         int    `json:"max_members"`
	DepositCents       int64  `json:"deposit_cents"`
	WeeklyPaymentCents int64  `json:"weekly_payment_cents"`
	PayoutCents        int64  `json:"payout_cents"`
	ServiceFeePercent  int    `json:"service_fee_percent"`
}

// Create opens a new active group with the creator seated at position 1.
func (s *GroupService) Create(ctx context.Context, creatorID uuid.UUID, in CreateGroupInput) (*models.Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidGroupName
	}

	g := &models.Group{
		ID:                 uuid.New(),
		Name:               name,
		CreatedBy:          creatorID,
		Status:             models.GroupStatusActive,
		CurrentCycle:       1,
		MaxMembers:         in.MaxMembers,
		DepositCents:       in.DepositCents,
		WeeklyPaymentCents: in.WeeklyPaymentCents,
		PayoutCents:        in.PayoutCents,
		ServiceFeePercent:  in.ServiceFeePercent,
		CreatedAt:          s.now(),
	}
	if g.MaxMembers <= 0 {
		g.MaxMembers = defaultMaxMembers
	}
	if g.DepositCents <= 0 {
		g.DepositCents = defaultDepositCents
	}
	if g.WeeklyPaymentCents <= 0 {
		g.WeeklyPaymentCents = defaultWeeklyPaymentCents
	}
	if g.PayoutCents <= 0 {
		g.PayoutCents = defaultPayoutCents
	}
	if g.ServiceFeePercent <= 0 {
		g.ServiceFeePercent = defaultServiceFeePercent
	}

	creator := &models.Member{
		ID:        uuid.New(),
		GroupID:   g.ID,
		ProfileID: creatorID,
		Position:  1,
		JoinedAt:  g.CreatedAt,
	}
	if err := s.ledger.CreateGroup(ctx, g, creator); err != nil {
		return nil, err
	}

	zap.L().Info("group created",
		zap.String("group_id", g.ID.String()),
		zap.String("created_by", creatorID.String()),
		zap.Int("max_members", g.MaxMembers),
	)
	return g, nil
}

// GroupDetail is a group with its roster, ordered by position.
type GroupDetail struct {
	Group   *models.Group   `json:"group"`
	Members []models.Member `json:"members"`
}

func (s *GroupService) Get(ctx context.Context, id uuid.UUID) (*GroupDetail, error) {
	g, err := s.ledger.GroupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.ledger.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	return &GroupDetail{Group: g, Members: members}, nil
}

// Join seats the profile at the lowest free position. Two concurrent joins
// may pick the same slot; the unique constraint rejects the loser and the
// assignment is retried against a fresh roster.
func (s *GroupService) Join(ctx context.Context, profileID, groupID uuid.UUID) (*models.Member, error) {
	g, err := s.ledger.GroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Status != models.GroupStatusActive {
		return nil, models.ErrGroupNotActive
	}

	for attempt := 0; attempt < joinRetries; attempt++ {
		members, err := s.ledger.ListMembers(ctx, groupID)
		if err != nil {
			return nil, err
		}
		position, err := rotation.AssignPosition(members, g.MaxMembers)
		if err != nil {
			return nil, err
		}

		m := &models.Member{
			ID:        uuid.New(),
			GroupID:   groupID,
			ProfileID: profileID,
			Position:  position,
			JoinedAt:  s.now(),
		}
		err = s.ledger.AddMember(ctx, m)
		if err == nil {
			zap.L().Info("member joined group",
				zap.String("group_id", groupID.String()),
				zap.String("profile_id", profileID.String()),
				zap.Int("position", position),
			)
			return m, nil
		}
		if errors.Is(err, models.ErrPositionTaken) {
			continue
		}
		return nil, err
	}
	return nil, models.ErrPositionTaken
}

// AdvanceCycle moves an active group to its next cycle, or completes it when
// complete is set. The ledger rejects the advance while members are still
// waiting for their payout.
func (s *GroupService) AdvanceCycle(ctx context.Context, groupID, actorID uuid.UUID, complete bool) error {
	if err := s.ledger.AdvanceGroupCycle(ctx, groupID, &actorID, complete); err != nil {
		return err
	}
	zap.L().Info("group cycle advanced",
		zap.String("group_id", groupID.String()),
		zap.String("actor_id", actorID.String()),
		zap.Bool("complete", complete),
	)
	return nil
}

func (s *GroupService) ListForProfile(ctx context.Context, profileID uuid.UUID) ([]models.GroupSummary, error) {
	return s.ledger.ListGroupsByProfile(ctx, profileID)
}

func (s *GroupService) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.GroupSummary, error) {
	return s.ledger.ListGroupsByStatus(ctx, status, limit, offset)
}

// GroupBalance summarizes confirmed deposits against the expected pot.
type GroupBalance struct {
	ConfirmedCents int64            `json:"confirmed_cents"`
	ExpectedCents  int64            `json:"expected_cents"`
	Deposits       []models.Deposit `json:"deposits"`
}

// Balance reports recent deposits and the confirmed total for a group.
func (s *GroupService) Balance(ctx context.Context, groupID uuid.UUID, limit int) (*GroupBalance, error) {
	g, err := s.ledger.GroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	total, err := s.ledger.ConfirmedDepositTotal(ctx, groupID)
	if err != nil {
		return nil, err
	}
	deposits, err := s.ledger.ListDeposits(ctx, groupID, limit)
	if err != nil {
		return nil, err
	}
	return &GroupBalance{
		ConfirmedCents: total,
		ExpectedCents:  g.DepositCents * int64(g.MaxMembers),
		Deposits:       deposits,
	}, nil
}
