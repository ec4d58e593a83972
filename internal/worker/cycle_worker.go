package worker

import (
	"context"
	"errors"
	"time"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CycleLedger is the slice of the ledger the cycle worker needs.
type CycleLedger interface {
	ListActiveGroups(ctx context.Context) ([]models.Group, error)
	AdvanceGroupCycle(ctx context.Context, groupID uuid.UUID, actorID *uuid.UUID, complete bool) error
}

// CycleWorker advances active groups whose rotation has completed: once every
// member has received the pot, the flags reset and the next cycle starts.
// Groups still mid-rotation are skipped. Advancing takes a row lock on the
// group, so concurrent instances are safe.
type CycleWorker struct {
	ledger       CycleLedger
	pollInterval time.Duration
	stopCh       chan struct{}
}

func NewCycleWorker(ledger CycleLedger) *CycleWorker {
	return &CycleWorker{
		ledger:       ledger,
		pollInterval: time.Hour,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets how often the worker scans active groups.
func (w *CycleWorker) WithPollInterval(interval time.Duration) *CycleWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// Start runs the worker loop until Stop is called or the context is canceled.
func (w *CycleWorker) Start(ctx context.Context) {
	zap.L().Info("cycle worker starting", zap.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("cycle worker stopping: context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("cycle worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *CycleWorker) Stop() {
	close(w.stopCh)
}

// RunOnce scans active groups and advances every group whose rotation is
// complete. Exposed for manual triggering and tests.
func (w *CycleWorker) RunOnce(ctx context.Context) {
	groups, err := w.ledger.ListActiveGroups(ctx)
	if err != nil {
		observability.IncrementWorkerRun("cycle", "error")
		zap.L().Error("cycle worker: list active groups", zap.Error(err))
		return
	}

	advanced := 0
	for _, g := range groups {
		err := w.ledger.AdvanceGroupCycle(ctx, g.ID, nil, false)
		switch {
		case err == nil:
			advanced++
			zap.L().Info("cycle advanced",
				zap.String("group_id", g.ID.String()),
				zap.Int("from_cycle", g.CurrentCycle),
			)
		case errors.Is(err, models.ErrCycleIncomplete):
			// Rotation still running, nothing to do.
		case errors.Is(err, models.ErrGroupNotActive):
			// Completed or cancelled between the scan and the advance.
		default:
			zap.L().Error("cycle worker: advance group",
				zap.Error(err),
				zap.String("group_id", g.ID.String()),
			)
		}
	}

	observability.IncrementWorkerRun("cycle", "ok")
	if advanced > 0 {
		zap.L().Info("cycle worker run finished", zap.Int("advanced", advanced))
	}
}
