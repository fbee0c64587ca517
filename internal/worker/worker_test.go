package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/permission"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	ctx     context.Context
	store   *repository.MemStore
	audit   *service.AuditService
	wallets *service.WalletService
	engine  *service.Engine
	sink    *notify.MemorySink
	admin   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemStore()
	audit := service.NewAuditService()
	sink := &notify.MemorySink{}
	wallets := service.NewWalletService(store, audit, sink)
	admin := uuid.New()
	engine := service.NewEngine(store, wallets, audit, permission.NewPolicyGate(admin),
		service.NewStaticRateService(service.DefaultStaticRates()), sink, service.DefaultPolicy())
	f := &fixture{ctx: context.Background(), store: store, audit: audit, wallets: wallets, engine: engine, sink: sink, admin: admin}
	_, err := wallets.EnsureTreasury(f.ctx)
	require.NoError(t, err)
	return f
}

func (f *fixture) funded(t *testing.T, amount string) models.Wallet {
	t.Helper()
	w, err := f.wallets.CreateWallet(f.ctx, uuid.New(), domain.CurrencyCMT)
	require.NoError(t, err)
	res, err := f.engine.Execute(f.ctx, f.admin, service.DepositCrypto{WalletID: w.ID, Amount: amount, TxHash: uuid.NewString()})
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Error)
	return w
}

func (f *fixture) transfer(t *testing.T, from, to models.Wallet) {
	t.Helper()
	res, err := f.engine.Execute(f.ctx, from.UserID, service.CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "1"})
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.Error)
}

func TestFraudWorkerFreezesOnTick(t *testing.T) {
	f := newFixture(t)
	a := f.funded(t, "50")
	b, err := f.wallets.CreateWallet(f.ctx, uuid.New(), domain.CurrencyCMT)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		f.transfer(t, a, b)
	}

	sched := NewManualScheduler()
	fraud := service.NewFraudService(f.store, f.wallets, f.audit, f.sink, service.DefaultFraudConfig())
	w := NewFraudWorker(fraud, sched).WithInterval(time.Minute)
	stop := w.Run(f.ctx)

	interval, ok := sched.Interval(FraudJob)
	require.True(t, ok)
	assert.Equal(t, time.Minute, interval)
	assert.Zero(t, sched.Runs(FraudJob))

	require.True(t, sched.Tick(FraudJob))
	got, err := f.wallets.GetWallet(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletFrozen, got.Status)
	assert.Equal(t, 1, f.sink.Count(notify.EventFraudAlert))

	// a second cycle over the same window adds nothing
	require.True(t, sched.Tick(FraudJob))
	assert.Equal(t, 1, f.sink.Count(notify.EventFraudAlert))

	stop()
	assert.False(t, sched.Tick(FraudJob))
	w.Stop()
}

func TestFraudWorkerRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sched := NewManualScheduler()
	fraud := service.NewFraudService(f.store, f.wallets, f.audit, f.sink, service.DefaultFraudConfig())
	w := NewFraudWorker(fraud, sched)

	stop := w.Run(f.ctx)
	w.Run(f.ctx)
	interval, ok := sched.Interval(FraudJob)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, interval)
	stop()
	_, ok = sched.Interval(FraudJob)
	assert.False(t, ok)
}

func TestReconciliationWorkerRunsAtStartup(t *testing.T) {
	f := newFixture(t)
	w := f.funded(t, "10")

	sched := NewManualScheduler()
	recon := service.NewReconciliationService(f.store, f.audit, f.sink, time.Minute)
	worker := NewReconciliationWorker(recon, sched).WithInterval(2 * time.Hour)
	stop := worker.Run(f.ctx)
	defer stop()
	assert.Equal(t, 1, sched.Runs(ReconciliationJob))

	version := mustWallet(t, f, w.ID).Version
	require.NoError(t, f.store.RunInTx(f.ctx, func(q repository.Querier) error {
		_, err := q.UpdateWalletBalances(f.ctx, repository.UpdateWalletBalancesParams{
			ID:              w.ID,
			Available:       1,
			ExpectedVersion: version,
			UpdatedAt:       time.Now().UTC(),
		})
		return err
	}))

	require.True(t, sched.Tick(ReconciliationJob))
	assert.Equal(t, 1, f.sink.Count(notify.EventLedgerImbalance))

	report, err := worker.RunOnce(f.ctx)
	require.NoError(t, err)
	require.Len(t, report.Imbalances, 1)
	assert.Equal(t, w.ID, report.Imbalances[0].WalletID)
}

func mustWallet(t *testing.T, f *fixture, id uuid.UUID) models.Wallet {
	t.Helper()
	w, err := f.wallets.GetWallet(f.ctx, id)
	require.NoError(t, err)
	return w
}

func TestTickerSchedulerStopWaitsForJob(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	stop := NewTickerScheduler().Schedule(context.Background(), "job", time.Hour, true, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished.Store(true)
	})
	<-started

	stop()
	assert.True(t, finished.Load())
	// second stop is a no-op
	stop()
}

func TestTickerSchedulerHonoursParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	stop := NewTickerScheduler().Schedule(ctx, "job", time.Hour, true, func(context.Context) {
		ran <- struct{}{}
	})
	<-ran
	cancel()
	stop()
}

func TestFraudWorkerLogsOneSummaryPerCycle(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	f := newFixture(t)
	fraud := service.NewFraudService(f.store, f.wallets, f.audit, f.sink, service.DefaultFraudConfig())
	w := NewFraudWorker(fraud, NewManualScheduler())

	_, err := w.RunOnce(f.ctx)
	require.NoError(t, err)

	finished := logs.FilterMessage("fraud scan finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, int64(0), finished[0].ContextMap()["alerts"])
}
