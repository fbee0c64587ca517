package service

import (
	"testing"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSubscriptionPlanChanges(t *testing.T) {
	h := newHarness(t)
	h.fundTreasury(domain.CurrencyCMT, "100")
	w := h.funded(domain.CurrencyCMT, "30")
	treasury := h.treasury(domain.CurrencyCMT)

	up := h.ok(w.UserID, SubscriptionUpgrade{WalletID: w.ID, SubscriptionID: "sub_1", FromPlanID: "basic", ToPlanID: "pro", Amount: "7.5"})
	assert.Equal(t, units(30)-units(15)/2, h.reload(w.ID).Available)
	assert.Equal(t, "pro", h.tx(up.TransactionID).Metadata["to_plan_id"])

	// A plain downgrade is a record with no balance effect.
	down := h.ok(w.UserID, SubscriptionDowngrade{WalletID: w.ID, SubscriptionID: "sub_1", FromPlanID: "pro", ToPlanID: "basic"})
	assert.Zero(t, h.tx(down.TransactionID).Amount)
	assert.Equal(t, units(30)-units(15)/2, h.reload(w.ID).Available)

	// Crediting the difference back is privileged.
	credit := SubscriptionDowngrade{WalletID: w.ID, SubscriptionID: "sub_1", FromPlanID: "pro", ToPlanID: "basic", CreditAmount: "2.5"}
	h.fails(w.UserID, credit, domain.ErrUnauthorized)
	h.ok(h.admin, credit)
	assert.Equal(t, units(25), h.reload(w.ID).Available)
	assert.Equal(t, treasury.Available+units(5), h.reload(treasury.ID).Available)

	h.fails(uuid.New(), SubscriptionUpgrade{WalletID: w.ID, SubscriptionID: "sub_1", FromPlanID: "basic", ToPlanID: "pro", Amount: "1"}, domain.ErrUnauthorized)
	h.fails(w.UserID, SubscriptionUpgrade{WalletID: w.ID, SubscriptionID: "sub_1", FromPlanID: "basic", ToPlanID: "pro", Amount: "100"}, domain.ErrInsufficientFunds)
}

func TestPurchaseContentTakesPlatformFee(t *testing.T) {
	h := newHarness(t)
	buyer := h.funded(domain.CurrencyCMT, "50")
	creator := h.wallet(uuid.New(), domain.CurrencyCMT)
	treasury := h.treasury(domain.CurrencyCMT)

	res := h.ok(buyer.UserID, PurchaseContent{BuyerWalletID: buyer.ID, CreatorWalletID: creator.ID, ContentID: "video-9", Amount: "50"})

	assert.Zero(t, h.reload(buyer.ID).Available)
	assert.Equal(t, units(45), h.reload(creator.ID).Available)
	assert.Equal(t, treasury.Available+units(5), h.reload(treasury.ID).Available)
	tx := h.tx(res.TransactionID)
	assert.Equal(t, domain.TxContentPurchase, tx.Type)
	assert.Equal(t, units(5), tx.Fee)
	assert.Equal(t, "video-9", tx.Metadata["content_id"])
}

func TestCreditRewardIsPrivileged(t *testing.T) {
	h := newHarness(t)
	h.fundTreasury(domain.CurrencyJY, "10")
	w := h.wallet(uuid.New(), domain.CurrencyJY)
	treasury := h.treasury(domain.CurrencyJY)

	h.fails(w.UserID, CreditReward{WalletID: w.ID, Amount: "1", Reason: "self"}, domain.ErrUnauthorized)

	res := h.ok(h.admin, CreditReward{WalletID: w.ID, Amount: "3", Reason: "quest"})
	assert.Equal(t, units(3), h.reload(w.ID).Available)
	assert.Equal(t, treasury.Available-units(3), h.reload(treasury.ID).Available)
	assert.Equal(t, domain.TxRewardCredit, h.tx(res.TransactionID).Type)

	h.fails(h.admin, CreditReward{WalletID: w.ID, Amount: "100", Reason: "too much"}, domain.ErrInsufficientFunds)
}
