package worker

import (
	"context"
	"testing"
	"time"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkerLedger struct {
	groups    map[uuid.UUID]*models.Group
	members   map[uuid.UUID][]models.Member
	confirmed map[uuid.UUID]int64
}

func newFakeWorkerLedger() *fakeWorkerLedger {
	return &fakeWorkerLedger{
		groups:    make(map[uuid.UUID]*models.Group),
		members:   make(map[uuid.UUID][]models.Member),
		confirmed: make(map[uuid.UUID]int64),
	}
}

func (l *fakeWorkerLedger) addGroup(memberCount int, allReceived bool) *models.Group {
	g := &models.Group{
		ID:           uuid.New(),
		Status:       models.GroupStatusActive,
		CurrentCycle: 1,
		MaxMembers:   memberCount,
		DepositCents: 10000,
	}
	l.groups[g.ID] = g
	for i := 0; i < memberCount; i++ {
		l.members[g.ID] = append(l.members[g.ID], models.Member{
			ID:          uuid.New(),
			GroupID:     g.ID,
			Position:    i + 1,
			HasReceived: allReceived,
		})
	}
	return g
}

func (l *fakeWorkerLedger) ListActiveGroups(_ context.Context) ([]models.Group, error) {
	var out []models.Group
	for _, g := range l.groups {
		if g.Status == models.GroupStatusActive {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (l *fakeWorkerLedger) ListMembers(_ context.Context, groupID uuid.UUID) ([]models.Member, error) {
	return l.members[groupID], nil
}

func (l *fakeWorkerLedger) ConfirmedDepositTotal(_ context.Context, groupID uuid.UUID) (int64, error) {
	return l.confirmed[groupID], nil
}

func (l *fakeWorkerLedger) AdvanceGroupCycle(_ context.Context, groupID uuid.UUID, _ *uuid.UUID, complete bool) error {
	g, ok := l.groups[groupID]
	if !ok {
		return models.ErrGroupNotFound
	}
	if g.Status != models.GroupStatusActive {
		return models.ErrGroupNotActive
	}
	for _, m := range l.members[groupID] {
		if !m.HasReceived {
			return models.ErrCycleIncomplete
		}
	}
	if complete {
		g.Status = models.GroupStatusCompleted
		return nil
	}
	g.CurrentCycle++
	for i := range l.members[groupID] {
		l.members[groupID][i].HasReceived = false
	}
	return nil
}

func TestCycleWorkerAdvancesCompletedRotations(t *testing.T) {
	ledger := newFakeWorkerLedger()
	done := ledger.addGroup(3, true)
	waiting := ledger.addGroup(3, false)

	w := NewCycleWorker(ledger)
	w.RunOnce(context.Background())

	assert.Equal(t, 2, ledger.groups[done.ID].CurrentCycle)
	assert.Equal(t, 1, ledger.groups[waiting.ID].CurrentCycle)
	assert.False(t, ledger.members[done.ID][0].HasReceived)
}

func TestCycleWorkerSkipsInactiveGroups(t *testing.T) {
	ledger := newFakeWorkerLedger()
	g := ledger.addGroup(3, true)
	ledger.groups[g.ID].Status = models.GroupStatusCompleted

	w := NewCycleWorker(ledger)
	w.RunOnce(context.Background())

	assert.Equal(t, 1, ledger.groups[g.ID].CurrentCycle)
}

func TestCycleWorkerStartStops(t *testing.T) {
	ledger := newFakeWorkerLedger()
	w := NewCycleWorker(ledger).WithPollInterval(time.Millisecond)

	doneCh := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(doneCh)
	}()

	time.Sleep(10 * time.Millisecond)
	w.Stop()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestReconciliationReportsDivergence(t *testing.T) {
	ledger := newFakeWorkerLedger()
	g := ledger.addGroup(3, false)

	// Two of three members paid for cycle 1.
	ledger.confirmed[g.ID] = 20000

	w := NewReconciliationWorker(ledger)
	div, err := w.reconcileGroup(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, int64(-10000), div)
}

func TestReconciliationLateSettlementShowsPositive(t *testing.T) {
	ledger := newFakeWorkerLedger()
	g := ledger.addGroup(3, false)

	// A charge that settled after its local deadline was still credited by
	// the provider: more money than the ledger expects.
	ledger.confirmed[g.ID] = 40000

	w := NewReconciliationWorker(ledger)
	div, err := w.reconcileGroup(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), div)
}

func TestReconciliationRunOnce(t *testing.T) {
	ledger := newFakeWorkerLedger()
	g := ledger.addGroup(3, false)
	ledger.confirmed[g.ID] = 30000

	w := NewReconciliationWorker(ledger)
	w.RunOnce(context.Background())

	div, err := w.reconcileGroup(context.Background(), g)
	require.NoError(t, err)
	assert.Zero(t, div)
}
