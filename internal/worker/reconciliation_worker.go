package worker

import (
	"context"
	"time"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconciliationLedger is the slice of the ledger reconciliation needs.
type ReconciliationLedger interface {
	ListActiveGroups(ctx context.Context) ([]models.Group, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.Member, error)
	ConfirmedDepositTotal(ctx context.Context, groupID uuid.UUID) (int64, error)
}

// ReconciliationWorker compares confirmed deposit totals against what each
// group should have collected so far and reports the divergence. It is
// report-only: a Pix charge that settled after its local deadline shows up
// here as a positive divergence for an operator to resolve, the worker never
// credits or debits anything itself.
type ReconciliationWorker struct {
	ledger       ReconciliationLedger
	pollInterval time.Duration
	stopCh       chan struct{}
}

func NewReconciliationWorker(ledger ReconciliationLedger) *ReconciliationWorker {
	return &ReconciliationWorker{
		ledger:       ledger,
		pollInterval: 15 * time.Minute,
		stopCh:       make(chan struct{}),
	}
}

func (w *ReconciliationWorker) WithPollInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker stopping: context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *ReconciliationWorker) Stop() {
	close(w.stopCh)
}

// RunOnce reconciles every active group once. Exposed for manual triggering
// and tests.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) {
	groups, err := w.ledger.ListActiveGroups(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "error")
		zap.L().Error("reconciliation worker: list active groups", zap.Error(err))
		return
	}

	for _, g := range groups {
		divergence, err := w.reconcileGroup(ctx, &g)
		if err != nil {
			zap.L().Error("reconciliation worker: reconcile group",
				zap.Error(err),
				zap.String("group_id", g.ID.String()),
			)
			continue
		}
		observability.SetDepositDivergence(g.ID.String(), divergence)
		if divergence != 0 {
			zap.L().Warn("deposit divergence detected",
				zap.String("group_id", g.ID.String()),
				zap.Int64("divergence_cents", divergence),
				zap.Int("current_cycle", g.CurrentCycle),
			)
		}
	}

	observability.IncrementWorkerRun("reconciliation", "ok")
}

// reconcileGroup returns confirmed minus expected, in cents. Expected is one
// deposit per seated member per cycle, counting the current cycle.
func (w *ReconciliationWorker) reconcileGroup(ctx context.Context, g *models.Group) (int64, error) {
	members, err := w.ledger.ListMembers(ctx, g.ID)
	if err != nil {
		return 0, err
	}
	confirmed, err := w.ledger.ConfirmedDepositTotal(ctx, g.ID)
	if err != nil {
		return 0, err
	}
	expected := g.DepositCents * int64(len(members)) * int64(g.CurrentCycle)
	return confirmed - expected, nil
}
