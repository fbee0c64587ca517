package handler

import (
	"net/http"

	"github.com/cryptomedia/wallet-ledger/internal/api/problem"
	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"github.com/google/uuid"
)

type WalletHandler struct {
	wallets *service.WalletService
	engine  *service.Engine
	admins  Admins
}

func NewWalletHandler(wallets *service.WalletService, engine *service.Engine, admins Admins) *WalletHandler {
	return &WalletHandler{wallets: wallets, engine: engine, admins: admins}
}

type createWalletRequest struct {
	UserID   *uuid.UUID      `json:"user_id,omitempty"`
	Currency domain.Currency `json:"currency"`
}

// CreateWallet handles POST /v1/wallets. A second call for the same user and
// currency returns the existing wallet.
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	var req createWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner := actor
	if req.UserID != nil {
		owner = *req.UserID
	}
	if owner != actor && !h.admins.IsAdmin(actor) {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}
	wallet, err := h.wallets.CreateWallet(r.Context(), owner, req.Currency)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, wallet)
}

// ListWallets handles GET /v1/wallets.
func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	wallets, err := h.wallets.ListWallets(r.Context(), actor)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"wallets": wallets})
}

// GetWallet handles GET /v1/wallets/{id}.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

// ListTransactions handles GET /v1/wallets/{id}/transactions?page=&page_size=.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	txs, err := h.wallets.ListWalletTransactions(r.Context(), wallet.ID, queryInt(r, "page", 1), queryInt(r, "page_size", 20))
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// ListStaking handles GET /v1/wallets/{id}/staking.
func (h *WalletHandler) ListStaking(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	records, err := h.engine.ListStaking(r.Context(), wallet.ID)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"staking": records})
}

// GetTransaction handles GET /v1/transactions/{id}.
func (h *WalletHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tx, err := h.wallets.GetTransaction(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	if !h.admins.IsAdmin(actor) && !h.touchesOwnWallet(r, actor, tx) {
		// same answer as a missing row so ids cannot be probed
		problem.WriteError(w, r, domain.Errorf(domain.ErrNotFound, "transaction %s", id))
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

func (h *WalletHandler) touchesOwnWallet(r *http.Request, actor uuid.UUID, tx models.Transaction) bool {
	for _, id := range []*uuid.UUID{tx.FromWalletID, tx.ToWalletID} {
		if id == nil {
			continue
		}
		if wallet, err := h.wallets.GetWallet(r.Context(), *id); err == nil && wallet.UserID == actor {
			return true
		}
	}
	return false
}

func (h *WalletHandler) ownedWallet(w http.ResponseWriter, r *http.Request) (models.Wallet, bool) {
	actor, ok := requestActor(w, r)
	if !ok {
		return models.Wallet{}, false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return models.Wallet{}, false
	}
	wallet, err := h.wallets.GetWallet(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, err)
		return models.Wallet{}, false
	}
	if wallet.UserID != actor && !h.admins.IsAdmin(actor) {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return models.Wallet{}, false
	}
	return wallet, true
}
