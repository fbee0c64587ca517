package service

import (
	"testing"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stake locks 1000 JY for a year at 10% APR.
func stake(h *harness) (models.Wallet, Result) {
	h.t.Helper()
	h.fundTreasury(domain.CurrencyJY, "1000")
	w := h.funded(domain.CurrencyJY, "1000")
	res := h.ok(w.UserID, LockStaking{WalletID: w.ID, Amount: "1000", DurationDays: 365, AprRate: "10"})
	require.NotNil(h.t, res.RecordID)
	return w, res
}

func TestAccruedReward(t *testing.T) {
	start := wednesday
	r := models.StakingRecord{
		Amount:          units(1000),
		AprRate:         "10",
		AccrualBaseline: start,
		UnlocksAt:       start.AddDate(0, 0, 365),
	}

	tests := []struct {
		name string
		at   time.Time
		want int64
	}{
		{"before start", start.Add(-time.Hour), 0},
		{"at start", start, 0},
		{"73 days", start.AddDate(0, 0, 73), units(20)},
		{"maturity", start.AddDate(0, 0, 365), units(100)},
		{"capped after maturity", start.AddDate(0, 0, 500), units(100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := accruedReward(r, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	r.AprRate = "ten"
	_, err := accruedReward(r, start)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestStakingUnlockAtMaturityPaysFullReward(t *testing.T) {
	h := newHarness(t)
	w, res := stake(h)

	locked := h.reload(w.ID)
	assert.Zero(t, locked.Available)
	assert.Equal(t, units(1000), locked.Staked)

	h.clock.Set(time.Date(2027, 10, 21, 10, 0, 0, 0, time.UTC))
	view, err := h.engine.GetStaking(h.ctx, *res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, units(100), view.Accrued)

	h.ok(w.UserID, UnlockStaking{StakingID: *res.RecordID})
	after := h.reload(w.ID)
	assert.Equal(t, units(1100), after.Available)
	assert.Zero(t, after.Staked)

	view, err = h.engine.GetStaking(h.ctx, *res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.StakingUnlocked, view.Status)
	assert.Equal(t, units(100), view.RewardsPaid)
	assert.Zero(t, view.RewardsForfeited)
	assert.Zero(t, view.Accrued)

	h.fails(w.UserID, ClaimStakingRewards{StakingID: *res.RecordID}, domain.ErrInvalidState)
}

func TestStakingEarlyUnlockForfeitsHalf(t *testing.T) {
	h := newHarness(t)
	w, res := stake(h)
	treasury := h.treasury(domain.CurrencyJY)

	h.clock.Advance(73 * 24 * time.Hour)
	unlock := h.ok(w.UserID, UnlockStaking{StakingID: *res.RecordID})

	after := h.reload(w.ID)
	assert.Equal(t, units(1010), after.Available)
	assert.Zero(t, after.Staked)
	assert.Equal(t, treasury.Available-units(10), h.reload(treasury.ID).Available)

	tx := h.tx(unlock.TransactionID)
	assert.Equal(t, "10", tx.Metadata["reward"])
	assert.Equal(t, "10", tx.Metadata["forfeited"])
	assert.Equal(t, true, tx.Metadata["early"])

	view, err := h.engine.GetStaking(h.ctx, *res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.StakingUnlocked, view.Status)
	assert.Equal(t, units(10), view.RewardsForfeited)

	var states []string
	for _, l := range h.store.AuditLogs() {
		if l.EntityID == *res.RecordID && l.Action == "staking_status_changed" && l.NextState != nil {
			states = append(states, *l.NextState)
		}
	}
	assert.Equal(t, []string{string(domain.StakingPenalized), string(domain.StakingUnlocked)}, states)
}

func TestStakingClaimRestartsAccrual(t *testing.T) {
	h := newHarness(t)
	w, res := stake(h)

	h.fails(w.UserID, ClaimStakingRewards{StakingID: *res.RecordID}, domain.ErrInvalidState)

	h.clock.Advance(73 * 24 * time.Hour)
	h.ok(w.UserID, ClaimStakingRewards{StakingID: *res.RecordID})
	claimed := h.reload(w.ID)
	assert.Equal(t, units(20), claimed.Available)
	assert.Equal(t, units(1000), claimed.Staked)

	h.fails(w.UserID, ClaimStakingRewards{StakingID: *res.RecordID}, domain.ErrInvalidState)

	h.clock.Set(time.Date(2027, 10, 21, 10, 0, 0, 0, time.UTC))
	h.ok(w.UserID, UnlockStaking{StakingID: *res.RecordID})
	after := h.reload(w.ID)
	assert.Equal(t, units(1100), after.Available)

	view, err := h.engine.GetStaking(h.ctx, *res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, units(100), view.RewardsPaid)
}

func TestLockStakingTerms(t *testing.T) {
	h := newHarness(t)
	w := h.funded(domain.CurrencyJY, "100")

	res := h.ok(w.UserID, LockStaking{WalletID: w.ID, Amount: "10", Tier: domain.TierSixMonth})
	view, err := h.engine.GetStaking(h.ctx, *res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "8", view.AprRate)
	assert.Equal(t, 180, view.LockDurationDays)
	assert.Equal(t, wednesday.AddDate(0, 0, 180), view.UnlocksAt)

	h.fails(w.UserID, LockStaking{WalletID: w.ID, Amount: "10", Tier: domain.TierSixMonth, DurationDays: 30}, domain.ErrValidation)
	h.fails(w.UserID, LockStaking{WalletID: w.ID, Amount: "10"}, domain.ErrValidation)
	h.fails(w.UserID, LockStaking{WalletID: w.ID, Amount: "10", DurationDays: 30, AprRate: "-1"}, domain.ErrValidation)
	h.fails(w.UserID, LockStaking{WalletID: w.ID, Amount: "1000", DurationDays: 30, AprRate: "5"}, domain.ErrInsufficientFunds)

	list, err := h.engine.ListStaking(h.ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, units(90), h.reload(w.ID).Available)
}
