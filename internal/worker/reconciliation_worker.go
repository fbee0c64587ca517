package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

const ReconciliationJob = "reconciliation"

// ReconciliationWorker runs periodic ledger reconciliation and the stale
// PENDING sweep.
type ReconciliationWorker struct {
	svc      *service.ReconciliationService
	sched    Scheduler
	interval time.Duration

	mu   sync.Mutex
	stop func()
}

// NewReconciliationWorker constructs a worker with a default hourly interval.
func NewReconciliationWorker(svc *service.ReconciliationService, sched Scheduler) *ReconciliationWorker {
	if sched == nil {
		sched = NewTickerScheduler()
	}
	return &ReconciliationWorker{
		svc:      svc,
		sched:    sched,
		interval: time.Hour,
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Run schedules reconciliation, running once immediately at startup, and
// returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop == nil {
		zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
		w.stop = w.sched.Schedule(ctx, ReconciliationJob, w.interval, true, func(ctx context.Context) {
			_, _ = w.RunOnce(ctx)
		})
	}
	return w.Stop
}

// Stop stops the running worker loop.
func (w *ReconciliationWorker) Stop() {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()
	if stop != nil {
		stop()
		zap.L().Info("reconciliation worker stopped")
	}
}

func (w *ReconciliationWorker) RunOnce(ctx context.Context) (service.ReconciliationReport, error) {
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return report, err
	}
	result := "success"
	if len(report.Imbalances) > 0 {
		result = "imbalanced"
	}
	observability.IncrementWorkerRun("reconciliation", result)
	return report, nil
}
