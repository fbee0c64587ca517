package service

import (
	"testing"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/permission"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dest = "0x9f2c4e1b7a"

// whitelisted returns a funded CMT wallet that may withdraw to dest.
func whitelisted(h *harness, amount string) models.Wallet {
	h.t.Helper()
	w := h.funded(domain.CurrencyCMT, amount)
	h.ok(w.UserID, UpdateWhitelist{WalletID: w.ID, Address: dest, Action: "add"})
	return w
}

func TestWithdrawalHoldApproveAndCooldown(t *testing.T) {
	h := newHarness(t)
	w := whitelisted(h, "10")

	req := h.ok(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "4", DestinationAddress: dest})
	require.NotNil(t, req.RecordID)
	held := h.reload(w.ID)
	assert.Equal(t, units(6), held.Available)
	assert.Equal(t, units(4), held.Locked)

	pending, err := h.engine.PendingWithdrawals(h.ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, *req.RecordID, pending[0].ID)

	h.fails(w.UserID, ApproveWithdrawalRequest{RequestID: *req.RecordID}, domain.ErrUnauthorized)
	approved := h.ok(h.admin, ApproveWithdrawalRequest{RequestID: *req.RecordID, TxHash: "0xfeed"})
	assert.Equal(t, *req.RecordID, *approved.RecordID)

	after := h.reload(w.ID)
	assert.Equal(t, units(6), after.Available)
	assert.Zero(t, after.Locked)
	stored, err := h.engine.GetWithdrawalRequest(h.ctx, *req.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalApproved, stored.Status)
	require.NotNil(t, stored.AdminID)
	assert.Equal(t, h.admin, *stored.AdminID)

	// Friday 09:00 is 47h after the approval.
	h.clock.Advance(47 * time.Hour)
	h.fails(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "1", DestinationAddress: dest}, domain.ErrCooldownActive)

	h.clock.Advance(2 * time.Hour)
	h.ok(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "1", DestinationAddress: dest})

	assert.Equal(t, 2, h.sink.Count(notify.EventWithdrawalRequest))
	assert.Equal(t, 1, h.sink.Count(notify.EventWithdrawalApproved))
}

func TestWithdrawalRejectReleasesHold(t *testing.T) {
	h := newHarness(t)
	w := whitelisted(h, "10")

	req := h.ok(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "3", DestinationAddress: dest})
	h.ok(h.admin, RejectWithdrawalRequest{RequestID: *req.RecordID, Reason: "kyc incomplete"})

	after := h.reload(w.ID)
	assert.Equal(t, units(10), after.Available)
	assert.Zero(t, after.Locked)

	stored, err := h.engine.GetWithdrawalRequest(h.ctx, *req.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalRejected, stored.Status)
	require.NotNil(t, stored.Notes)
	assert.Equal(t, "kyc incomplete", *stored.Notes)

	h.fails(h.admin, ApproveWithdrawalRequest{RequestID: *req.RecordID}, domain.ErrInvalidState)
	assert.Equal(t, 1, h.sink.Count(notify.EventWithdrawalRejected))
}

func TestWithdrawalPolicyRejections(t *testing.T) {
	h := newHarness(t)
	w := whitelisted(h, "10")

	h.fails(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "0.049", DestinationAddress: dest}, domain.ErrBelowMinimum)
	h.fails(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "1", DestinationAddress: "0xunknown"}, domain.ErrAddressNotWhitelisted)
	h.fails(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "11", DestinationAddress: dest}, domain.ErrInsufficientFunds)

	// Thursday is outside the withdrawal window.
	h.clock.Set(wednesday.Add(24 * time.Hour))
	h.fails(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "1", DestinationAddress: dest}, domain.ErrCooldownActive)

	h.clock.Set(wednesday)
	_, err := h.wallets.FreezeWallet(h.ctx, w.ID, "review", &h.admin)
	require.NoError(t, err)
	h.fails(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "1", DestinationAddress: dest}, domain.ErrWalletFrozen)

	assert.Equal(t, units(10), h.reload(w.ID).Available)
	failed := h.transactions(repository.TransactionFilter{
		WalletID: &w.ID,
		Statuses: []domain.TxStatus{domain.TxStatusFailed},
	})
	assert.Len(t, failed, 5)
}

func TestUpdateWhitelist(t *testing.T) {
	h := newHarness(t)
	w := whitelisted(h, "1")

	h.ok(w.UserID, UpdateWhitelist{WalletID: w.ID, Address: dest, Action: "add"})
	assert.Equal(t, []string{dest}, h.reload(w.ID).Whitelist)

	h.ok(w.UserID, UpdateWhitelist{WalletID: w.ID, Address: dest, Action: "remove"})
	assert.Empty(t, h.reload(w.ID).Whitelist)

	h.fails(w.UserID, UpdateWhitelist{WalletID: w.ID, Address: dest, Action: "remove"}, domain.ErrNotFound)
	h.fails(uuid.New(), UpdateWhitelist{WalletID: w.ID, Address: dest, Action: "add"}, domain.ErrUnauthorized)

	updates := h.transactions(repository.TransactionFilter{
		WalletID: &w.ID,
		Types:    []domain.TxType{domain.TxWhitelistUpdate},
	})
	assert.Len(t, updates, 3)
}

func TestApprovedWithdrawalReplaysOnlyForReviewers(t *testing.T) {
	h := newHarness(t)
	w := whitelisted(h, "10")
	req := h.ok(w.UserID, CreateWithdrawalRequest{WalletID: w.ID, Amount: "4", DestinationAddress: dest})
	approve := ApproveWithdrawalRequest{RequestID: *req.RecordID, TxHash: "0xfeed"}
	approved := h.ok(h.admin, approve)

	h.fails(w.UserID, approve, domain.ErrUnauthorized)
	h.fails(uuid.New(), approve, domain.ErrUnauthorized)
	h.fails(uuid.New(), RejectWithdrawalRequest{RequestID: *req.RecordID, Reason: "late"}, domain.ErrUnauthorized)

	again := h.ok(h.admin, approve)
	assert.True(t, again.Replayed)
	assert.Equal(t, *approved.TransactionID, *again.TransactionID)

	reviewer := uuid.New()
	h.gate.Grant(reviewer, string(OpApproveWithdrawalRequest), permission.AnyResource)
	byReviewer := h.ok(reviewer, approve)
	assert.True(t, byReviewer.Replayed)

	after := h.reload(w.ID)
	assert.Equal(t, units(6), after.Available)
	assert.Zero(t, after.Locked)
}
