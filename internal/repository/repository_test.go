package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/db"
	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env")
}

func newWallet(user uuid.UUID, currency domain.Currency, available int64, at time.Time) models.Wallet {
	return models.Wallet{
		ID:        uuid.New(),
		UserID:    user,
		Currency:  currency,
		Available: available,
		Status:    domain.WalletActive,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func newTx(key string, status domain.TxStatus, to uuid.UUID, at time.Time) models.Transaction {
	tx := models.Transaction{
		ID:              uuid.New(),
		Type:            domain.TxDepositFiat,
		Status:          status,
		ToWalletID:      &to,
		Amount:          1_000_000,
		Currency:        domain.CurrencyCMT,
		Metadata:        models.Metadata{"rate": "1.5", "count": 3},
		MetadataVersion: models.MetadataVersion,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if key != "" {
		tx.IdempotencyKey = &key
	}
	return tx
}

// exerciseQuerier runs the same contract checks against any store.
func exerciseQuerier(t *testing.T, store interface {
	Queries() Querier
	RunInTx(context.Context, func(Querier) error) error
}) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	user := uuid.New()

	w, inserted, err := store.Queries().InsertWallet(ctx, newWallet(user, domain.CurrencyCMT, 0, now))
	require.NoError(t, err)
	require.True(t, inserted)

	again, inserted, err := store.Queries().InsertWallet(ctx, newWallet(user, domain.CurrencyCMT, 0, now))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, w.ID, again.ID)

	_, err = store.Queries().GetWallet(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNoRows))

	// optimistic version check
	n, err := store.Queries().UpdateWalletBalances(ctx, UpdateWalletBalancesParams{
		ID: w.ID, Available: 5, ExpectedVersion: w.Version, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.Queries().UpdateWalletBalances(ctx, UpdateWalletBalancesParams{
		ID: w.ID, Available: 7, ExpectedVersion: w.Version, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// idempotency key uniqueness ignores FAILED rows
	key := "key-" + uuid.NewString()
	failed := newTx(key, domain.TxStatusFailed, w.ID, now)
	require.NoError(t, store.Queries().InsertTransaction(ctx, failed))
	_, err = store.Queries().GetTransactionByIdempotencyKey(ctx, key)
	assert.True(t, errors.Is(err, ErrNoRows))

	done := newTx(key, domain.TxStatusCompleted, w.ID, now.Add(time.Second))
	require.NoError(t, store.Queries().InsertTransaction(ctx, done))
	dup := newTx(key, domain.TxStatusPending, w.ID, now.Add(2*time.Second))
	err = store.Queries().InsertTransaction(ctx, dup)
	assert.True(t, IsUniqueViolation(err))

	found, err := store.Queries().GetTransactionByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, done.ID, found.ID)
	assert.Equal(t, "1.5", found.Metadata["rate"])
	assert.Equal(t, float64(3), found.Metadata["count"])

	wid := w.ID
	list, err := store.Queries().ListTransactions(ctx, TransactionFilter{WalletID: &wid})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, done.ID, list[0].ID)

	list, err = store.Queries().ListTransactions(ctx, TransactionFilter{
		WalletID: &wid, Statuses: []domain.TxStatus{domain.TxStatusFailed}, Ascending: true,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, failed.ID, list[0].ID)

	// rollback discards every write of the transaction
	sentinel := errors.New("boom")
	err = store.RunInTx(ctx, func(q Querier) error {
		locked, err := q.GetWalletForUpdate(ctx, w.ID)
		if err != nil {
			return err
		}
		if _, err := q.UpdateWalletBalances(ctx, UpdateWalletBalancesParams{
			ID: w.ID, Available: 0, Locked: 5, ExpectedVersion: locked.Version, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	after, err := store.Queries().GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), after.Available)
	assert.Equal(t, int64(0), after.Locked)

	// ledger sums per bucket
	require.NoError(t, store.Queries().InsertLedgerEntry(ctx, models.LedgerEntry{
		ID: uuid.New(), TransactionID: done.ID, WalletID: w.ID, Bucket: domain.BucketAvailable, Delta: 10, CreatedAt: now,
	}))
	require.NoError(t, store.Queries().InsertLedgerEntry(ctx, models.LedgerEntry{
		ID: uuid.New(), TransactionID: done.ID, WalletID: w.ID, Bucket: domain.BucketAvailable, Delta: -4, CreatedAt: now,
	}))
	require.NoError(t, store.Queries().InsertLedgerEntry(ctx, models.LedgerEntry{
		ID: uuid.New(), TransactionID: done.ID, WalletID: w.ID, Bucket: domain.BucketLocked, Delta: 4, CreatedAt: now,
	}))
	totals, err := store.Queries().SumLedgerEntries(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BucketTotals{Available: 6, Locked: 4}, totals)

	// fraud alert resolution happens once
	alert := models.FraudAlert{
		ID: uuid.New(), WalletID: w.ID, PatternType: domain.PatternVelocity, Severity: domain.SeverityHigh,
		Evidence:  models.FraudEvidence{TransactionIDs: []uuid.UUID{done.ID}, Summary: "burst"},
		CreatedAt: now,
	}
	require.NoError(t, store.Queries().InsertFraudAlert(ctx, alert))
	open, err := store.Queries().ListOpenFraudAlerts(ctx, w.ID, domain.PatternVelocity)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Evidence.Covers([]uuid.UUID{done.ID}))

	admin := uuid.New()
	n, err = store.Queries().ResolveFraudAlert(ctx, ResolveFraudAlertParams{ID: alert.ID, ResolvedBy: admin, Note: "ok", ResolvedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.Queries().ResolveFraudAlert(ctx, ResolveFraudAlertParams{ID: alert.ID, ResolvedBy: admin, Note: "again", ResolvedAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// airdrop claims are unique per campaign and user
	campaign := models.AirdropCampaign{
		ID: uuid.New(), Name: "launch", TreasuryWallet: w.ID, Currency: domain.CurrencyCMT,
		AmountPerClaim: 1, TotalReserved: 2, Remaining: 2, Status: domain.AirdropActive, CreatedBy: admin,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Queries().InsertAirdropCampaign(ctx, campaign))
	claim := models.AirdropClaim{CampaignID: campaign.ID, UserID: user, WalletID: w.ID, Amount: 1, TransactionID: done.ID, CreatedAt: now}
	ok, err := store.Queries().InsertAirdropClaim(ctx, claim)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Queries().InsertAirdropClaim(ctx, claim)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStoreContract(t *testing.T) {
	exerciseQuerier(t, NewMemStore())
}

func TestMemStoreFailNextCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	now := time.Now().UTC()

	store.FailNextCommit()
	err := store.RunInTx(ctx, func(q Querier) error {
		_, _, err := q.InsertWallet(ctx, newWallet(uuid.New(), domain.CurrencyCE, 0, now))
		return err
	})
	require.ErrorIs(t, err, ErrInjectedCommitFailure)

	wallets, err := store.Queries().ListWallets(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, wallets)

	// only the next commit fails
	err = store.RunInTx(ctx, func(q Querier) error {
		_, _, err := q.InsertWallet(ctx, newWallet(uuid.New(), domain.CurrencyCE, 0, now))
		return err
	})
	require.NoError(t, err)
	wallets, err = store.Queries().ListWallets(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, wallets, 1)
}

func TestMemStoreRejectsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	w, _, err := store.Queries().InsertWallet(ctx, newWallet(uuid.New(), domain.CurrencyCMT, 1, time.Now()))
	require.NoError(t, err)

	_, err = store.Queries().UpdateWalletBalances(ctx, UpdateWalletBalancesParams{ID: w.ID, Available: -1, ExpectedVersion: w.Version})
	require.Error(t, err)
}

func TestPostgresContract(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	dblock.Acquire(t)

	require.NoError(t, db.Migrate(dbURL))
	pool, err := db.Connect(context.Background(), dbURL, db.PoolOptions{})
	require.NoError(t, err)
	defer pool.Close()

	exerciseQuerier(t, NewStore(pool))
}
