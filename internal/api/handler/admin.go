package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/cryptomedia/wallet-ledger/internal/api/problem"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"github.com/google/uuid"
)

// AdminHandler serves the review queue, fraud alerts, wallet status changes
// and on-demand background jobs. Routes are mounted behind RequireAdmin.
type AdminHandler struct {
	engine    *service.Engine
	wallets   *service.WalletService
	fraud     *service.FraudService
	reconcile *service.ReconciliationService
}

func NewAdminHandler(engine *service.Engine, wallets *service.WalletService, fraud *service.FraudService, reconcile *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{engine: engine, wallets: wallets, fraud: fraud, reconcile: reconcile}
}

// PendingWithdrawals handles GET /v1/admin/withdrawals?limit=&offset=.
func (h *AdminHandler) PendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	reqs, err := h.engine.PendingWithdrawals(r.Context(), limit, offset)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"withdrawals": reqs, "limit": limit, "offset": offset})
}

type approveWithdrawalRequest struct {
	TxHash string `json:"tx_hash"`
}

// ApproveWithdrawal handles POST /v1/admin/withdrawals/{id}/approve.
func (h *AdminHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.params(w, r)
	if !ok {
		return
	}
	var req approveWithdrawalRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	op := service.ApproveWithdrawalRequest{RequestID: id, TxHash: req.TxHash}
	res, err := h.engine.Execute(r.Context(), actor, op)
	writeResult(w, r, op.Kind(), res, err)
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

// RejectWithdrawal handles POST /v1/admin/withdrawals/{id}/reject.
func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.params(w, r)
	if !ok {
		return
	}
	var req rejectWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op := service.RejectWithdrawalRequest{RequestID: id, Reason: req.Reason}
	res, err := h.engine.Execute(r.Context(), actor, op)
	writeResult(w, r, op.Kind(), res, err)
}

// ListFraudAlerts handles GET /v1/admin/fraud-alerts?wallet_id=&unresolved=&limit=&offset=.
func (h *AdminHandler) ListFraudAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	filter := repository.FraudAlertFilter{
		UnresolvedOnly: strings.EqualFold(r.URL.Query().Get("unresolved"), "true"),
		Limit:          limit,
		Offset:         offset,
	}
	if raw := r.URL.Query().Get("wallet_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet_id", "Invalid wallet_id")
			return
		}
		filter.WalletID = &id
	}
	alerts, err := h.fraud.ListAlerts(r.Context(), filter)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// GetFraudAlert handles GET /v1/admin/fraud-alerts/{id}.
func (h *AdminHandler) GetFraudAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	alert, err := h.fraud.GetAlert(r.Context(), id)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, alert)
}

type resolveAlertRequest struct {
	Note     string `json:"note"`
	Unfreeze bool   `json:"unfreeze"`
}

// ResolveFraudAlert handles POST /v1/admin/fraud-alerts/{id}/resolve.
func (h *AdminHandler) ResolveFraudAlert(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.params(w, r)
	if !ok {
		return
	}
	var req resolveAlertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	alert, err := h.fraud.ResolveAlert(r.Context(), id, actor, req.Note, req.Unfreeze)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, alert)
}

// ScanFraud handles POST /v1/admin/fraud-scan.
func (h *AdminHandler) ScanFraud(w http.ResponseWriter, r *http.Request) {
	report, err := h.fraud.Scan(r.Context())
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// Reconcile handles POST /v1/admin/reconciliation.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.Run(r.Context())
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

type walletStatusRequest struct {
	Reason string `json:"reason"`
}

// FreezeWallet handles POST /v1/admin/wallets/{id}/freeze.
func (h *AdminHandler) FreezeWallet(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.wallets.FreezeWallet)
}

// LockWallet handles POST /v1/admin/wallets/{id}/lock.
func (h *AdminHandler) LockWallet(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.wallets.LockWallet)
}

// UnlockWallet handles POST /v1/admin/wallets/{id}/unlock. It lifts both
// locks and freezes.
func (h *AdminHandler) UnlockWallet(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.params(w, r)
	if !ok {
		return
	}
	wallet, err := h.wallets.UnlockWallet(r.Context(), id, &actor)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

type statusChange func(ctx context.Context, walletID uuid.UUID, reason string, actorID *uuid.UUID) (models.Wallet, error)

func (h *AdminHandler) changeStatus(w http.ResponseWriter, r *http.Request, change statusChange) {
	actor, id, ok := h.params(w, r)
	if !ok {
		return
	}
	var req walletStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wallet, err := change(r.Context(), id, req.Reason, &actor)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

func (h *AdminHandler) params(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actor, ok := requestActor(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := pathID(w, r, "id")
	return actor, id, ok
}
