// Package worker runs the periodic background jobs of the ledger.
package worker

import (
	"context"
	"sync"
	"time"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context)

// Scheduler owns the timing and cancellation of periodic jobs.
type Scheduler interface {
	// Schedule starts job and returns a stop function. Stop cancels the
	// job's context and waits for an in-flight run to return. It is safe to
	// call more than once.
	Schedule(ctx context.Context, name string, interval time.Duration, runImmediately bool, job Job) (stop func())
}

// TickerScheduler runs jobs on wall-clock tickers.
type TickerScheduler struct{}

func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{}
}

func (TickerScheduler) Schedule(ctx context.Context, _ string, interval time.Duration, runImmediately bool, job Job) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if runImmediately {
			job(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// ManualScheduler runs jobs only when Tick is called. Tests use it to drive
// workers without timers.
type ManualScheduler struct {
	mu   sync.Mutex
	jobs map[string]*manualJob
}

type manualJob struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	job      Job
	runs     int
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{jobs: make(map[string]*manualJob)}
}

func (m *ManualScheduler) Schedule(ctx context.Context, name string, interval time.Duration, runImmediately bool, job Job) func() {
	ctx, cancel := context.WithCancel(ctx)
	mj := &manualJob{ctx: ctx, cancel: cancel, interval: interval, job: job}

	m.mu.Lock()
	m.jobs[name] = mj
	m.mu.Unlock()

	if runImmediately {
		m.Tick(name)
	}
	return func() {
		cancel()
		m.mu.Lock()
		if m.jobs[name] == mj {
			delete(m.jobs, name)
		}
		m.mu.Unlock()
	}
}

// Tick runs the named job once, synchronously. It reports false when no
// live job has that name.
func (m *ManualScheduler) Tick(name string) bool {
	m.mu.Lock()
	mj, ok := m.jobs[name]
	if ok {
		mj.runs++
	}
	m.mu.Unlock()
	if !ok || mj.ctx.Err() != nil {
		return false
	}
	mj.job(mj.ctx)
	return true
}

// Interval returns the interval the named job was scheduled with.
func (m *ManualScheduler) Interval(name string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[name]
	if !ok {
		return 0, false
	}
	return mj.interval, true
}

// Runs counts the ticks delivered to the named job.
func (m *ManualScheduler) Runs(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mj, ok := m.jobs[name]; ok {
		return mj.runs
	}
	return 0
}
