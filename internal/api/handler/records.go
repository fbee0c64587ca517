package handler

import (
	"net/http"

	"github.com/cryptomedia/wallet-ledger/internal/api/problem"
	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"github.com/google/uuid"
)

// RecordHandler serves the records ledger operations create: staking
// positions, escrows, airdrop campaigns and withdrawal requests.
type RecordHandler struct {
	engine  *service.Engine
	wallets *service.WalletService
	admins  Admins
}

func NewRecordHandler(engine *service.Engine, wallets *service.WalletService, admins Admins) *RecordHandler {
	return &RecordHandler{engine: engine, wallets: wallets, admins: admins}
}

func (h *RecordHandler) GetStaking(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.params(w, r)
	if !ok {
		return
	}
	view, err := h.engine.GetStaking(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	if !h.visible(r, actor, view.WalletID) {
		problem.WriteError(w, r, domain.Errorf(domain.ErrNotFound, "staking record %s", id))
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

func (h *RecordHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.params(w, r)
	if !ok {
		return
	}
	rec, err := h.engine.GetEscrow(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	mediator := rec.MediatorID != nil && *rec.MediatorID == actor
	if !mediator && !h.visible(r, actor, rec.BuyerWalletID, rec.SellerWalletID) {
		problem.WriteError(w, r, domain.Errorf(domain.ErrNotFound, "escrow %s", id))
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// GetAirdrop is open to any authenticated user so claimants can check the
// remaining budget.
func (h *RecordHandler) GetAirdrop(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.params(w, r)
	if !ok {
		return
	}
	camp, err := h.engine.GetAirdropCampaign(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, camp)
}

func (h *RecordHandler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.params(w, r)
	if !ok {
		return
	}
	req, err := h.engine.GetWithdrawalRequest(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	if req.UserID != actor && !h.admins.IsAdmin(actor) {
		problem.WriteError(w, r, domain.Errorf(domain.ErrNotFound, "withdrawal request %s", id))
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

func (h *RecordHandler) params(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actor, ok := requestActor(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := pathID(w, r, "id")
	return actor, id, ok
}

// visible reports whether actor is an admin or owns one of walletIDs.
func (h *RecordHandler) visible(r *http.Request, actor uuid.UUID, walletIDs ...uuid.UUID) bool {
	if h.admins.IsAdmin(actor) {
		return true
	}
	for _, id := range walletIDs {
		if wallet, err := h.wallets.GetWallet(r.Context(), id); err == nil && wallet.UserID == actor {
			return true
		}
	}
	return false
}
