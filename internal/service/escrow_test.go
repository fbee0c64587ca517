package service

import (
	"testing"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type escrowParties struct {
	buyer, seller models.Wallet
	mediator      uuid.UUID
	escrowID      uuid.UUID
}

// openEscrow holds 100 of the buyer's 150 CMT for the seller.
func openEscrow(h *harness) escrowParties {
	h.t.Helper()
	p := escrowParties{
		buyer:    h.funded(domain.CurrencyCMT, "150"),
		seller:   h.wallet(uuid.New(), domain.CurrencyCMT),
		mediator: uuid.New(),
	}
	res := h.ok(p.buyer.UserID, CreateEscrow{
		BuyerWalletID:  p.buyer.ID,
		SellerWalletID: p.seller.ID,
		Amount:         "100",
		MediatorID:     &p.mediator,
	})
	require.NotNil(h.t, res.RecordID)
	p.escrowID = *res.RecordID
	return p
}

func (h *harness) escrow(id uuid.UUID) models.EscrowRecord {
	h.t.Helper()
	rec, err := h.engine.GetEscrow(h.ctx, id)
	require.NoError(h.t, err)
	return rec
}

func TestEscrowRelease(t *testing.T) {
	h := newHarness(t)
	p := openEscrow(h)

	held := h.reload(p.buyer.ID)
	assert.Equal(t, units(50), held.Available)
	assert.Equal(t, units(100), held.Locked)
	assert.Equal(t, domain.EscrowHeld, h.escrow(p.escrowID).Status)

	h.fails(p.seller.UserID, ReleaseEscrow{EscrowID: p.escrowID}, domain.ErrUnauthorized)

	first := h.ok(p.buyer.UserID, ReleaseEscrow{EscrowID: p.escrowID})
	buyer, seller := h.reload(p.buyer.ID), h.reload(p.seller.ID)
	assert.Equal(t, units(50), buyer.Available)
	assert.Zero(t, buyer.Locked)
	assert.Equal(t, units(100), seller.Available)
	assert.Equal(t, domain.EscrowReleased, h.escrow(p.escrowID).Status)

	again := h.ok(p.buyer.UserID, ReleaseEscrow{EscrowID: p.escrowID})
	assert.True(t, again.Replayed)
	assert.Equal(t, *first.TransactionID, *again.TransactionID)
	assert.Equal(t, units(100), h.reload(p.seller.ID).Available)
}

func TestEscrowMediatorCanRelease(t *testing.T) {
	h := newHarness(t)
	p := openEscrow(h)

	h.ok(p.mediator, ReleaseEscrow{EscrowID: p.escrowID})
	assert.Equal(t, units(100), h.reload(p.seller.ID).Available)
}

func TestEscrowDisputeAndResolve(t *testing.T) {
	h := newHarness(t)
	p := openEscrow(h)
	before := h.reload(p.buyer.ID).Total() + h.reload(p.seller.ID).Total()

	h.fails(uuid.New(), HandleEscrowDispute{EscrowID: p.escrowID, Reason: "spam"}, domain.ErrUnauthorized)
	h.ok(p.seller.UserID, HandleEscrowDispute{EscrowID: p.escrowID, Reason: "not delivered"})

	rec := h.escrow(p.escrowID)
	assert.Equal(t, domain.EscrowDisputed, rec.Status)
	require.NotNil(t, rec.DisputeReason)
	assert.Equal(t, "not delivered", *rec.DisputeReason)
	assert.Equal(t, units(100), h.reload(p.buyer.ID).Locked)

	h.fails(p.buyer.UserID, ReleaseEscrow{EscrowID: p.escrowID}, domain.ErrInvalidState)

	split := func(buyer, seller string) HandleEscrowDispute {
		return HandleEscrowDispute{
			EscrowID: p.escrowID,
			Reason:   "not delivered",
			Resolution: &DisputeResolution{
				BuyerAmount:  buyer,
				SellerAmount: seller,
				Note:         "partial delivery",
			},
		}
	}
	h.fails(p.buyer.UserID, split("40", "60"), domain.ErrUnauthorized)
	h.fails(p.mediator, split("30", "60"), domain.ErrValidation)
	h.fails(p.mediator, split("-10", "110"), domain.ErrValidation)
	h.ok(p.mediator, split("40", "60"))

	buyer, seller := h.reload(p.buyer.ID), h.reload(p.seller.ID)
	assert.Equal(t, units(90), buyer.Available)
	assert.Zero(t, buyer.Locked)
	assert.Equal(t, units(60), seller.Available)
	assert.Equal(t, before, buyer.Total()+seller.Total())

	rec = h.escrow(p.escrowID)
	assert.Equal(t, domain.EscrowResolved, rec.Status)
	require.NotNil(t, rec.Resolution)
	assert.Equal(t, units(40), rec.Resolution.BuyerAmount)
	assert.Equal(t, units(60), rec.Resolution.SellerAmount)

	h.fails(p.mediator, ReleaseEscrow{EscrowID: p.escrowID}, domain.ErrInvalidState)
}

func TestEscrowResolveMovesFundsFromFrozenWallet(t *testing.T) {
	h := newHarness(t)
	p := openEscrow(h)

	_, err := h.wallets.FreezeWallet(h.ctx, p.buyer.ID, "chargeback risk", &h.admin)
	require.NoError(t, err)
	h.fails(p.buyer.UserID, ReleaseEscrow{EscrowID: p.escrowID}, domain.ErrWalletFrozen)

	h.ok(h.admin, HandleEscrowDispute{
		EscrowID:   p.escrowID,
		Reason:     "account review",
		Resolution: &DisputeResolution{BuyerAmount: "100", SellerAmount: "0"},
	})
	buyer := h.reload(p.buyer.ID)
	assert.Equal(t, units(150), buyer.Available)
	assert.Zero(t, buyer.Locked)
	assert.Zero(t, h.reload(p.seller.ID).Available)
}

func TestCreateEscrowValidation(t *testing.T) {
	h := newHarness(t)
	buyer := h.funded(domain.CurrencyCMT, "10")
	seller := h.wallet(uuid.New(), domain.CurrencyCMT)
	jy := h.wallet(uuid.New(), domain.CurrencyJY)

	h.fails(buyer.UserID, CreateEscrow{BuyerWalletID: buyer.ID, SellerWalletID: buyer.ID, Amount: "1"}, domain.ErrValidation)
	h.fails(buyer.UserID, CreateEscrow{BuyerWalletID: buyer.ID, SellerWalletID: jy.ID, Amount: "1"}, domain.ErrValidation)
	h.fails(seller.UserID, CreateEscrow{BuyerWalletID: buyer.ID, SellerWalletID: seller.ID, Amount: "1"}, domain.ErrUnauthorized)
	h.fails(buyer.UserID, CreateEscrow{BuyerWalletID: buyer.ID, SellerWalletID: seller.ID, Amount: "11"}, domain.ErrInsufficientFunds)
	assert.Equal(t, units(10), h.reload(buyer.ID).Available)
}
