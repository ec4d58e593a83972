package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/giroclub/giroclub-backend/internal/gateway"
	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/observability"
	"github.com/giroclub/giroclub-backend/internal/rotation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FlowState is a state of the Pix deposit flow.
type FlowState string

const (
	FlowIdle            FlowState = "idle"
	FlowCreating        FlowState = "creating"
	FlowAwaitingPayment FlowState = "awaiting_payment"
	FlowConfirmed       FlowState = "confirmed"
	FlowExpired         FlowState = "expired"
	FlowCancelled       FlowState = "cancelled"
	FlowFailed          FlowState = "failed"
)

// Terminal reports whether the flow can no longer move.
func (s FlowState) Terminal() bool {
	switch s {
	case FlowConfirmed, FlowExpired, FlowCancelled, FlowFailed:
		return true
	}
	return false
}

var flowTransitions = map[FlowState]map[FlowState]struct{}{
	FlowIdle: {
		FlowCreating: {},
	},
	FlowCreating: {
		FlowAwaitingPayment: {},
		FlowFailed:          {},
		FlowCancelled:       {},
	},
	FlowAwaitingPayment: {
		FlowConfirmed: {},
		FlowExpired:   {},
		FlowCancelled: {},
		FlowFailed:    {},
	},
	FlowConfirmed: {},
	FlowExpired:   {},
	FlowCancelled: {},
	FlowFailed:    {},
}

var (
	ErrNoActiveFlow       = errors.New("no deposit flow for this member")
	ErrFlowNotCancellable = errors.New("deposit flow already finished")
)

const (
	defaultChargeTTL    = 5 * time.Minute
	defaultPollInterval = 3 * time.Second
)

// DepositLedger is the slice of the group ledger the deposit flow needs.
type DepositLedger interface {
	GroupByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	MemberByProfile(ctx context.Context, groupID, profileID uuid.UUID) (*models.Member, error)
	// InsertConfirmedDeposit must be idempotent on the charge id: it reports
	// inserted=false when the charge was already credited.
	InsertConfirmedDeposit(ctx context.Context, d *models.Deposit) (bool, error)
}

// DepositService orchestrates Pix deposit attempts: create charge, poll the
// gateway until settlement or deadline, and apply the result to the ledger
// exactly once. At most one flow is active per (profile, group); a second
// start reuses the in-flight charge instead of creating a duplicate.
type DepositService struct {
	ledger       DepositLedger
	gateway      gateway.Gateway
	chargeTTL    time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu    sync.Mutex
	flows map[flowKey]*DepositFlow

	stopCh   chan struct{}
	stopOnce sync.Once
}

type flowKey struct {
	ProfileID uuid.UUID
	GroupID   uuid.UUID
}

func NewDepositService(ledger DepositLedger, gw gateway.Gateway) *DepositService {
	return &DepositService{
		ledger:       ledger,
		gateway:      gw,
		chargeTTL:    defaultChargeTTL,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		flows:        make(map[flowKey]*DepositFlow),
		stopCh:       make(chan struct{}),
	}
}

// WithChargeTTL sets how long a charge stays payable.
func (s *DepositService) WithChargeTTL(ttl time.Duration) *DepositService {
	if ttl > 0 {
		s.chargeTTL = ttl
	}
	return s
}

// WithPollInterval sets the gateway polling interval.
func (s *DepositService) WithPollInterval(interval time.Duration) *DepositService {
	if interval > 0 {
		s.pollInterval = interval
	}
	return s
}

// Stop halts all poll loops. Flows in AwaitingPayment stay as they are; the
// charge either settles out-of-band (reconciliation territory) or expires at
// the provider.
func (s *DepositService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// DepositFlow is one Pix deposit attempt. All mutation goes through the flow
// mutex; each poll tick is a single discrete step under that lock, so a stale
// in-flight status result can never override a terminal state.
type DepositFlow struct {
	svc       *DepositService
	profileID uuid.UUID
	groupID   uuid.UUID
	memberID  uuid.UUID
	amount    int64

	mu       sync.Mutex
	state    FlowState
	charge   *gateway.Charge
	deadline time.Time
	lastErr  string
	done     chan struct{}
}

// FlowSnapshot is the caller-facing view of a deposit flow.
type FlowSnapshot struct {
	State       FlowState  `json:"state"`
	GroupID     uuid.UUID  `json:"group_id"`
	AmountCents int64      `json:"amount_cents"`
	ChargeID    string     `json:"charge_id,omitempty"`
	QRPayload   string     `json:"qr_payload,omitempty"`
	QRImage     string     `json:"qr_image,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Start begins a deposit attempt for the member identified by (profileID,
// groupID), or returns the in-flight attempt when one is still running.
func (s *DepositService) Start(ctx context.Context, profileID, groupID uuid.UUID) (*FlowSnapshot, error) {
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
			return nil, rotation.ErrNotAMember
		}
		return nil, err
	}

	key := flowKey{ProfileID: profileID, GroupID: groupID}

	s.mu.Lock()
	if existing, ok := s.flows[key]; ok {
		if snap := existing.Snapshot(); !snap.State.Terminal() {
			s.mu.Unlock()
			return snap, nil
		}
	}
	flow := &DepositFlow{
		svc:       s,
		profileID: profileID,
		groupID:   groupID,
		memberID:  member.ID,
		amount:    group.DepositCents,
		state:     FlowCreating,
		done:      make(chan struct{}),
	}
	s.flows[key] = flow
	s.mu.Unlock()

	observability.IncrementFlowTransition(string(FlowCreating))

	charge, err := s.gateway.CreateCharge(ctx, group.DepositCents, "GiroClub • Depósito via Pix")
	if err != nil {
		flow.mu.Lock()
		// Cancel may have won the race while the gateway call was in flight.
		if !flow.state.Terminal() {
			flow.transitionLocked(FlowFailed, err.Error())
		}
		flow.mu.Unlock()
		return nil, fmt.Errorf("create charge: %w", err)
	}

	flow.mu.Lock()
	if flow.state.Terminal() {
		// Cancelled during creation: drop the charge locally, it is a
		// short-lived pull charge nobody will pay.
		snap := flow.snapshotLocked()
		flow.mu.Unlock()
		return snap, nil
	}
	flow.charge = charge
	flow.deadline = s.now().Add(s.chargeTTL)
	flow.transitionLocked(FlowAwaitingPayment, "")
	snap := flow.snapshotLocked()
	flow.mu.Unlock()

	go flow.pollLoop()

	return snap, nil
}

// Status returns the current flow for the member, if any.
func (s *DepositService) Status(profileID, groupID uuid.UUID) (*FlowSnapshot, error) {
	s.mu.Lock()
	flow, ok := s.flows[flowKey{ProfileID: profileID, GroupID: groupID}]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoActiveFlow
	}
	return flow.Snapshot(), nil
}

// Cancel stops an in-flight flow. Cancellation is cooperative: the poll loop
// observes the terminal state and exits; any in-flight gateway call completes
// and its result is discarded.
func (s *DepositService) Cancel(profileID, groupID uuid.UUID) (*FlowSnapshot, error) {
	s.mu.Lock()
	flow, ok := s.flows[flowKey{ProfileID: profileID, GroupID: groupID}]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoActiveFlow
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()
	switch flow.state {
	case FlowCreating, FlowAwaitingPayment:
		flow.transitionLocked(FlowCancelled, "")
		return flow.snapshotLocked(), nil
	default:
		return nil, ErrFlowNotCancellable
	}
}

func (f *DepositFlow) Snapshot() *FlowSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *DepositFlow) snapshotLocked() *FlowSnapshot {
	snap := &FlowSnapshot{
		State:       f.state,
		GroupID:     f.groupID,
		AmountCents: f.amount,
		Error:       f.lastErr,
	}
	if f.charge != nil {
		snap.ChargeID = f.charge.ID
		snap.QRPayload = f.charge.QRPayload
		snap.QRImage = f.charge.QRImage
	}
	if !f.deadline.IsZero() {
		d := f.deadline
		snap.Deadline = &d
	}
	return snap
}

func (f *DepositFlow) pollLoop() {
	ticker := time.NewTicker(f.svc.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-f.svc.stopCh:
			return
		case <-ticker.C:
			if terminal := f.step(context.Background()); terminal {
				return
			}
		}
	}
}

// step executes one poll tick: deadline check first, then the status query.
// The deadline check precedes the query so a charge that settles after
// expiry is still treated as expired for this session. Returns true once the
// flow is terminal.
func (f *DepositFlow) step(ctx context.Context) bool {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return true
	}
	if !f.svc.now().Before(f.deadline) {
		f.transitionLocked(FlowExpired, "")
		f.mu.Unlock()
		observability.IncrementPollTick("expired")
		return true
	}
	chargeID := f.charge.ID
	f.mu.Unlock()

	status, err := f.svc.gateway.GetChargeStatus(ctx, chargeID)

	f.mu.Lock()
	defer f.mu.Unlock()

	// The user may have cancelled while the status call was in flight; a
	// terminal state wins and the result is discarded.
	if f.state.Terminal() {
		observability.IncrementPollTick("discarded")
		return true
	}

	if err != nil {
		// Transient adapter failure: keep polling until the deadline.
		observability.IncrementPollTick("error")
		zap.L().Warn("charge status poll failed",
			zap.Error(err),
			zap.String("charge_id", chargeID),
			zap.String("group_id", f.groupID.String()),
		)
		return false
	}

	if status.Status != gateway.StatusApproved {
		observability.IncrementPollTick("pending")
		return false
	}

	confirmedAt := f.svc.now()
	inserted, err := f.svc.ledger.InsertConfirmedDeposit(ctx, &models.Deposit{
		ID:          uuid.New(),
		GroupID:     f.groupID,
		MemberID:    f.memberID,
		AmountCents: f.amount,
		Status:      models.DepositStatusConfirmed,
		PixCode:     chargeID,
		ConfirmedAt: &confirmedAt,
	})
	if err != nil {
		// The payment settled but the ledger write failed. That is a
		// reconciliation problem and must be surfaced, never swallowed.
		observability.IncrementPollTick("ledger_error")
		zap.L().Error("confirmed charge but ledger write failed",
			zap.Error(err),
			zap.String("charge_id", chargeID),
			zap.String("group_id", f.groupID.String()),
			zap.String("member_id", f.memberID.String()),
		)
		f.transitionLocked(FlowFailed, fmt.Sprintf("ledger write failed: %v", err))
		return true
	}
	if !inserted {
		zap.L().Info("charge already credited, skipping duplicate deposit",
			zap.String("charge_id", chargeID),
		)
	}

	observability.IncrementPollTick("approved")
	f.transitionLocked(FlowConfirmed, "")
	return true
}

// transitionLocked moves the flow to next; the caller holds f.mu.
func (f *DepositFlow) transitionLocked(next FlowState, errMsg string) {
	if _, ok := flowTransitions[f.state][next]; !ok {
		zap.L().Error("invalid deposit flow transition",
			zap.String("from", string(f.state)),
			zap.String("to", string(next)),
		)
		return
	}
	f.state = next
	f.lastErr = errMsg
	observability.IncrementFlowTransition(string(next))
	if next.Terminal() {
		close(f.done)
	}
}
