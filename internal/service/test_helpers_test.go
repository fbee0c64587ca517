package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/permission"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// wednesday is inside the default withdrawal window.
var wednesday = time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *repository.MemStore
	audit   *AuditService
	wallets *WalletService
	engine  *Engine
	gate    *permission.PolicyGate
	rates   *StaticRateService
	sink    *notify.MemorySink
	clock   *testClock
	admin   uuid.UUID
}

func newHarness(t *testing.T, tweak ...func(*Policy)) *harness {
	t.Helper()
	store := repository.NewMemStore()
	audit := NewAuditService()
	sink := &notify.MemorySink{}
	clock := &testClock{now: wednesday}
	wallets := NewWalletService(store, audit, sink).WithClock(clock.Now)
	admin := uuid.New()
	gate := permission.NewPolicyGate(admin)
	rates := NewStaticRateService(DefaultStaticRates())

	policy := DefaultPolicy()
	policy.RetryBackoff = time.Millisecond
	for _, fn := range tweak {
		fn(&policy)
	}
	engine := NewEngine(store, wallets, audit, gate, rates, sink, policy).WithClock(clock.Now)

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		audit:   audit,
		wallets: wallets,
		engine:  engine,
		gate:    gate,
		rates:   rates,
		sink:    sink,
		clock:   clock,
		admin:   admin,
	}
	_, err := wallets.EnsureTreasury(h.ctx)
	require.NoError(t, err)
	return h
}

func (h *harness) wallet(user uuid.UUID, currency domain.Currency) models.Wallet {
	h.t.Helper()
	w, err := h.wallets.CreateWallet(h.ctx, user, currency)
	require.NoError(h.t, err)
	return w
}

// funded creates a wallet for a new user holding amount.
func (h *harness) funded(currency domain.Currency, amount string) models.Wallet {
	h.t.Helper()
	w := h.wallet(uuid.New(), currency)
	h.deposit(w.ID, amount)
	return h.reload(w.ID)
}

func (h *harness) deposit(walletID uuid.UUID, amount string) Result {
	h.t.Helper()
	return h.ok(h.admin, DepositCrypto{WalletID: walletID, Amount: amount, TxHash: "0x" + uuid.NewString(), Network: "ethereum"})
}

func (h *harness) treasury(currency domain.Currency) models.Wallet {
	h.t.Helper()
	w, err := h.store.Queries().GetWalletByOwner(h.ctx, domain.TreasuryUserID, currency)
	require.NoError(h.t, err)
	return w
}

func (h *harness) fundTreasury(currency domain.Currency, amount string) {
	h.t.Helper()
	h.deposit(h.treasury(currency).ID, amount)
}

func (h *harness) reload(id uuid.UUID) models.Wallet {
	h.t.Helper()
	w, err := h.store.Queries().GetWallet(h.ctx, id)
	require.NoError(h.t, err)
	return w
}

func (h *harness) exec(actor uuid.UUID, op Operation) Result {
	h.t.Helper()
	res, err := h.engine.Execute(h.ctx, actor, op)
	require.NoError(h.t, err)
	return res
}

func (h *harness) ok(actor uuid.UUID, op Operation) Result {
	h.t.Helper()
	res := h.exec(actor, op)
	require.Truef(h.t, res.Success, "%s failed: %+v", op.Kind(), res.Error)
	require.NotNil(h.t, res.TransactionID)
	return res
}

func (h *harness) fails(actor uuid.UUID, op Operation, want *domain.Error) Result {
	h.t.Helper()
	res := h.exec(actor, op)
	require.Falsef(h.t, res.Success, "%s unexpectedly succeeded", op.Kind())
	require.NotNil(h.t, res.Error)
	require.Equal(h.t, want.Code, res.Error.Code, res.Error.Message)
	return res
}

func (h *harness) tx(id *uuid.UUID) models.Transaction {
	h.t.Helper()
	require.NotNil(h.t, id)
	tx, err := h.store.Queries().GetTransaction(h.ctx, *id)
	require.NoError(h.t, err)
	return tx
}

func (h *harness) transactions(f repository.TransactionFilter) []models.Transaction {
	h.t.Helper()
	txs, err := h.store.Queries().ListTransactions(h.ctx, f)
	require.NoError(h.t, err)
	return txs
}

func units(n int64) int64 {
	return n * domain.MicrosPerUnit
}

func requireNonNegative(t *testing.T, w models.Wallet) {
	t.Helper()
	require.GreaterOrEqual(t, w.Available, int64(0))
	require.GreaterOrEqual(t, w.Locked, int64(0))
	require.GreaterOrEqual(t, w.Staked, int64(0))
}
