package service

import (
	"testing"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// campaign reserves total CMT from a treasury holding 1000 and pays perClaim per wallet.
func (h *harness) campaign(perClaim, total string) uuid.UUID {
	h.t.Helper()
	h.fundTreasury(domain.CurrencyCMT, "1000")
	ends := h.clock.Now().Add(72 * time.Hour)
	res := h.ok(h.admin, CreateAirdropCampaign{
		Name:           "launch",
		Currency:       domain.CurrencyCMT,
		AmountPerClaim: perClaim,
		TotalAmount:    total,
		EndsAt:         &ends,
	})
	require.NotNil(h.t, res.RecordID)
	return *res.RecordID
}

func TestAirdropCampaignReservesTreasury(t *testing.T) {
	h := newHarness(t)
	id := h.campaign("10", "25")

	treasury := h.treasury(domain.CurrencyCMT)
	assert.Equal(t, units(975), treasury.Available)
	assert.Equal(t, units(25), treasury.Locked)

	camp, err := h.engine.GetAirdropCampaign(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AirdropActive, camp.Status)
	assert.Equal(t, units(25), camp.Remaining)

	user := uuid.New()
	h.fails(user, CreateAirdropCampaign{Name: "x", Currency: domain.CurrencyCMT, AmountPerClaim: "1", TotalAmount: "2"}, domain.ErrUnauthorized)
	h.fails(h.admin, CreateAirdropCampaign{Name: "x", Currency: domain.CurrencyCMT, AmountPerClaim: "3", TotalAmount: "2"}, domain.ErrValidation)
	past := wednesday.Add(-time.Minute)
	h.fails(h.admin, CreateAirdropCampaign{Name: "x", Currency: domain.CurrencyCMT, AmountPerClaim: "1", TotalAmount: "2", EndsAt: &past}, domain.ErrValidation)
	h.fails(h.admin, CreateAirdropCampaign{Name: "x", Currency: domain.CurrencyCMT, AmountPerClaim: "1", TotalAmount: "2000"}, domain.ErrInsufficientFunds)
}

func TestClaimAirdropOncePerUser(t *testing.T) {
	h := newHarness(t)
	id := h.campaign("10", "100")
	w := h.wallet(uuid.New(), domain.CurrencyCMT)

	first := h.ok(w.UserID, ClaimAirdrop{CampaignID: id, WalletID: w.ID})
	assert.Equal(t, units(10), h.reload(w.ID).Available)

	again := h.ok(w.UserID, ClaimAirdrop{CampaignID: id, WalletID: w.ID})
	assert.True(t, again.Replayed)
	assert.Equal(t, *first.TransactionID, *again.TransactionID)

	byAdmin := h.ok(h.admin, ClaimAirdrop{CampaignID: id, WalletID: w.ID})
	assert.True(t, byAdmin.Replayed)
	assert.Equal(t, *first.TransactionID, *byAdmin.TransactionID)
	assert.Equal(t, units(10), h.reload(w.ID).Available)

	other := h.wallet(uuid.New(), domain.CurrencyCMT)
	h.fails(w.UserID, ClaimAirdrop{CampaignID: id, WalletID: other.ID}, domain.ErrUnauthorized)
	h.fails(other.UserID, ClaimAirdrop{CampaignID: id, WalletID: w.ID}, domain.ErrUnauthorized)

	jy := h.wallet(uuid.New(), domain.CurrencyJY)
	h.fails(jy.UserID, ClaimAirdrop{CampaignID: id, WalletID: jy.ID}, domain.ErrValidation)

	camp, err := h.engine.GetAirdropCampaign(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, units(90), camp.Remaining)
	assert.Equal(t, units(90), h.treasury(domain.CurrencyCMT).Locked)
}

func TestAdminClaimsForSeveralWallets(t *testing.T) {
	h := newHarness(t)
	id := h.campaign("10", "100")
	a := h.wallet(uuid.New(), domain.CurrencyCMT)
	b := h.wallet(uuid.New(), domain.CurrencyCMT)

	ra := h.ok(h.admin, ClaimAirdrop{CampaignID: id, WalletID: a.ID})
	rb := h.ok(h.admin, ClaimAirdrop{CampaignID: id, WalletID: b.ID})

	assert.False(t, rb.Replayed)
	assert.NotEqual(t, *ra.TransactionID, *rb.TransactionID)
	assert.Equal(t, units(10), h.reload(a.ID).Available)
	assert.Equal(t, units(10), h.reload(b.ID).Available)

	camp, err := h.engine.GetAirdropCampaign(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, units(80), camp.Remaining)
}

func TestClaimAirdropAfterEnd(t *testing.T) {
	h := newHarness(t)
	id := h.campaign("10", "100")
	w := h.wallet(uuid.New(), domain.CurrencyCMT)

	h.clock.Advance(72 * time.Hour)
	h.fails(w.UserID, ClaimAirdrop{CampaignID: id, WalletID: w.ID}, domain.ErrInvalidState)
	assert.Zero(t, h.reload(w.ID).Available)
}

func TestDistributeAirdropSkipsAndExhausts(t *testing.T) {
	h := newHarness(t)
	id := h.campaign("10", "25")

	a := h.wallet(uuid.New(), domain.CurrencyCMT)
	b := h.wallet(uuid.New(), domain.CurrencyCMT)
	late := h.wallet(uuid.New(), domain.CurrencyCMT)
	frozen := h.wallet(uuid.New(), domain.CurrencyCMT)
	jy := h.wallet(uuid.New(), domain.CurrencyJY)
	missing := uuid.New()
	_, err := h.wallets.FreezeWallet(h.ctx, frozen.ID, "review", &h.admin)
	require.NoError(t, err)

	h.fails(a.UserID, DistributeAirdrop{CampaignID: id, WalletIDs: []uuid.UUID{a.ID}}, domain.ErrUnauthorized)

	res := h.ok(h.admin, DistributeAirdrop{
		CampaignID: id,
		WalletIDs:  []uuid.UUID{a.ID, b.ID, a.ID, frozen.ID, jy.ID, missing, late.ID},
	})
	reasons := map[uuid.UUID]string{}
	for _, s := range res.Skipped {
		if _, seen := reasons[s.WalletID]; !seen {
			reasons[s.WalletID] = s.Reason
		}
	}
	assert.Len(t, res.Skipped, 5)
	assert.Equal(t, "duplicate recipient", reasons[a.ID])
	assert.Equal(t, "wallet frozen", reasons[frozen.ID])
	assert.Equal(t, "currency mismatch", reasons[jy.ID])
	assert.Equal(t, "wallet not found", reasons[missing])
	assert.Equal(t, "campaign exhausted", reasons[late.ID])

	assert.Equal(t, units(10), h.reload(a.ID).Available)
	assert.Equal(t, units(10), h.reload(b.ID).Available)
	assert.Zero(t, h.reload(late.ID).Available)

	camp, err := h.engine.GetAirdropCampaign(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AirdropExhausted, camp.Status)
	assert.Zero(t, camp.Remaining)

	treasury := h.treasury(domain.CurrencyCMT)
	assert.Equal(t, units(980), treasury.Available)
	assert.Zero(t, treasury.Locked)

	tx := h.tx(res.TransactionID)
	assert.Equal(t, units(20), tx.Amount)
	assert.Equal(t, domain.TxAirdropDistribute, tx.Type)

	h.fails(late.UserID, ClaimAirdrop{CampaignID: id, WalletID: late.ID}, domain.ErrInvalidState)
}

func TestDistributeAirdropWithNoEligibleRecipients(t *testing.T) {
	h := newHarness(t)
	id := h.campaign("10", "100")
	w := h.wallet(uuid.New(), domain.CurrencyCMT)
	h.ok(w.UserID, ClaimAirdrop{CampaignID: id, WalletID: w.ID})

	res := h.fails(h.admin, DistributeAirdrop{CampaignID: id, WalletIDs: []uuid.UUID{w.ID}}, domain.ErrInvalidState)
	assert.Contains(t, res.Error.Message, "already claimed")
	assert.Equal(t, units(10), h.reload(w.ID).Available)
}
