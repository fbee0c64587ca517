package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

const FraudJob = "fraud-scan"

// FraudWorker scans recent activity for abuse patterns on a fixed schedule.
type FraudWorker struct {
	svc      *service.FraudService
	sched    Scheduler
	interval time.Duration

	mu   sync.Mutex
	stop func()
}

// NewFraudWorker creates a worker that scans every 10 minutes by default.
func NewFraudWorker(svc *service.FraudService, sched Scheduler) *FraudWorker {
	if sched == nil {
		sched = NewTickerScheduler()
	}
	return &FraudWorker{
		svc:      svc,
		sched:    sched,
		interval: 10 * time.Minute,
	}
}

// WithInterval sets the scan interval.
func (w *FraudWorker) WithInterval(interval time.Duration) *FraudWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Run schedules the worker and returns its stop function.
func (w *FraudWorker) Run(ctx context.Context) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop == nil {
		zap.L().Info("fraud worker starting", zap.Duration("interval", w.interval))
		w.stop = w.sched.Schedule(ctx, FraudJob, w.interval, false, func(ctx context.Context) {
			_, _ = w.RunOnce(ctx)
		})
	}
	return w.Stop
}

// Stop halts the schedule and waits for a scan in progress.
func (w *FraudWorker) Stop() {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()
	if stop != nil {
		stop()
		zap.L().Info("fraud worker stopped")
	}
}

// RunOnce performs a single scan cycle.
func (w *FraudWorker) RunOnce(ctx context.Context) (service.ScanReport, error) {
	report, err := w.svc.Scan(ctx)
	if err != nil {
		observability.IncrementWorkerRun("fraud", "failed")
		zap.L().Error("fraud scan failed", zap.Error(err))
		return report, err
	}
	observability.IncrementWorkerRun("fraud", "success")
	zap.L().Info("fraud scan finished",
		zap.Int("wallets", report.Wallets),
		zap.Int("findings", report.Findings),
		zap.Int("alerts", len(report.Alerts)),
		zap.Int("suppressed", report.Suppressed),
		zap.Int("frozen", report.Frozen))
	return report, nil
}

func (w *FraudWorker) String() string {
	return fmt.Sprintf("FraudWorker(interval=%v)", w.interval)
}
