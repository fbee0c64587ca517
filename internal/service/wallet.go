package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WalletService owns wallet records and the balance mutation primitive.
type WalletService struct {
	store QueryStore
	audit *AuditService
	sink  notify.Sink
	now   func() time.Time
}

func NewWalletService(store QueryStore, audit *AuditService, sink notify.Sink) *WalletService {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &WalletService{
		store: store,
		audit: audit,
		sink:  sink,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *WalletService) WithClock(now func() time.Time) *WalletService {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateWallet returns the caller's wallet for currency, creating it on first use.
func (s *WalletService) CreateWallet(ctx context.Context, userID uuid.UUID, currency domain.Currency) (models.Wallet, error) {
	if userID == uuid.Nil {
		return models.Wallet{}, domain.Errorf(domain.ErrValidation, "user id is required")
	}
	if !currency.Valid() {
		return models.Wallet{}, domain.Errorf(domain.ErrValidation, "unsupported currency %q", currency)
	}
	now := s.now()
	w, inserted, err := s.store.Queries().InsertWallet(ctx, models.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Status:    domain.WalletActive,
		Whitelist: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return models.Wallet{}, infraError("create wallet", err)
	}
	if inserted {
		zap.L().Info("wallet created", zap.String("wallet_id", w.ID.String()), zap.String("currency", string(currency)))
	}
	return w, nil
}

// EnsureTreasury creates the platform treasury wallet for every currency.
func (s *WalletService) EnsureTreasury(ctx context.Context) ([]models.Wallet, error) {
	out := make([]models.Wallet, 0, len(domain.Currencies))
	for _, c := range domain.Currencies {
		w, err := s.CreateWallet(ctx, domain.TreasuryUserID, c)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func treasuryWallet(ctx context.Context, q repository.Querier, currency domain.Currency) (models.Wallet, error) {
	w, err := q.GetWalletByOwner(ctx, domain.TreasuryUserID, currency)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return models.Wallet{}, domain.Errorf(domain.ErrNotFound, "treasury wallet for %s", currency)
		}
		return models.Wallet{}, fmt.Errorf("load treasury wallet: %w", err)
	}
	return w, nil
}

func (s *WalletService) GetWallet(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	w, err := s.store.Queries().GetWallet(ctx, id)
	if err != nil {
		return models.Wallet{}, notFoundOrInfra(err, "wallet", id)
	}
	return w, nil
}

func (s *WalletService) ListWallets(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	wallets, err := s.store.Queries().ListWalletsByUser(ctx, userID)
	if err != nil {
		return nil, infraError("list wallets", err)
	}
	return wallets, nil
}

func (s *WalletService) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	tx, err := s.store.Queries().GetTransaction(ctx, id)
	if err != nil {
		return models.Transaction{}, notFoundOrInfra(err, "transaction", id)
	}
	return tx, nil
}

// ListWalletTransactions pages through a wallet's history, newest first.
func (s *WalletService) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, page, pageSize int) ([]models.Transaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	txs, err := s.store.Queries().ListTransactions(ctx, repository.TransactionFilter{
		WalletID: &walletID,
		Limit:    uint64(pageSize),
		Offset:   uint64((page - 1) * pageSize),
	})
	if err != nil {
		return nil, infraError("list transactions", err)
	}
	return txs, nil
}

// AdjustRequest describes one signed bucket movement justified by TransactionID.
type AdjustRequest struct {
	WalletID        uuid.UUID
	TransactionID   uuid.UUID
	Bucket          domain.Bucket
	Delta           int64
	ExpectedVersion *int64
	// AdminOverride lets privileged flows move funds on FROZEN or LOCKED wallets.
	AdminOverride bool
}

// AdjustBalance applies req inside the caller's transaction and writes the
// matching ledger entry. The wallet row must already be locked by the caller
// when several wallets are involved, so the global lock order holds.
func (s *WalletService) AdjustBalance(ctx context.Context, q repository.Querier, req AdjustRequest) (models.Wallet, error) {
	if !req.Bucket.Valid() {
		return models.Wallet{}, domain.Errorf(domain.ErrValidation, "unknown bucket %q", req.Bucket)
	}
	if req.TransactionID == uuid.Nil {
		return models.Wallet{}, fmt.Errorf("adjust balance of %s without a transaction", req.WalletID)
	}

	w, err := q.GetWalletForUpdate(ctx, req.WalletID)
	if err != nil {
		return models.Wallet{}, notFound(err, "wallet", req.WalletID)
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != w.Version {
		return models.Wallet{}, domain.Errorf(domain.ErrConcurrencyConflict, "wallet %s is at version %d, expected %d", w.ID, w.Version, *req.ExpectedVersion)
	}
	if req.Delta == 0 {
		return w, nil
	}

	switch w.Status {
	case domain.WalletFrozen:
		if !req.AdminOverride {
			return models.Wallet{}, domain.Errorf(domain.ErrWalletFrozen, "wallet %s", w.ID)
		}
	case domain.WalletLocked:
		if req.Delta < 0 && !req.AdminOverride {
			return models.Wallet{}, domain.Errorf(domain.ErrWalletLocked, "wallet %s", w.ID)
		}
	}

	next := w
	target := map[domain.Bucket]*int64{
		domain.BucketAvailable: &next.Available,
		domain.BucketLocked:    &next.Locked,
		domain.BucketStaked:    &next.Staked,
	}[req.Bucket]
	sum, ok := domain.AddMicros(*target, req.Delta)
	if !ok {
		return models.Wallet{}, domain.Errorf(domain.ErrValidation, "wallet %s %s balance would overflow", w.ID, req.Bucket)
	}
	*target = sum
	if next.Balance(req.Bucket) < 0 {
		return models.Wallet{}, domain.Errorf(domain.ErrInsufficientFunds, "wallet %s has %s %s, needs %s",
			w.ID, domain.MicrosToDecimal(w.Balance(req.Bucket)).String(), req.Bucket, domain.MicrosToDecimal(-req.Delta).String())
	}

	now := s.now()
	rows, err := q.UpdateWalletBalances(ctx, repository.UpdateWalletBalancesParams{
		ID:              w.ID,
		Available:       next.Available,
		Locked:          next.Locked,
		Staked:          next.Staked,
		ExpectedVersion: w.Version,
		UpdatedAt:       now,
	})
	if err != nil {
		return models.Wallet{}, fmt.Errorf("update wallet balances: %w", err)
	}
	if rows == 0 {
		return models.Wallet{}, domain.Errorf(domain.ErrConcurrencyConflict, "wallet %s changed underneath", w.ID)
	}
	next.Version++
	next.UpdatedAt = now

	if err := q.InsertLedgerEntry(ctx, models.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: req.TransactionID,
		WalletID:      w.ID,
		Bucket:        req.Bucket,
		Delta:         req.Delta,
		CreatedAt:     now,
	}); err != nil {
		return models.Wallet{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	return next, nil
}

// LockWallet blocks user debits; credits still land.
func (s *WalletService) LockWallet(ctx context.Context, walletID uuid.UUID, reason string, actorID *uuid.UUID) (models.Wallet, error) {
	return s.changeStatus(ctx, walletID, domain.WalletLocked, reason, actorID, "admin")
}

// UnlockWallet returns a LOCKED or FROZEN wallet to ACTIVE.
func (s *WalletService) UnlockWallet(ctx context.Context, walletID uuid.UUID, actorID *uuid.UUID) (models.Wallet, error) {
	return s.changeStatus(ctx, walletID, domain.WalletActive, "", actorID, "admin")
}

// FreezeWallet blocks every balance change except admin overrides.
func (s *WalletService) FreezeWallet(ctx context.Context, walletID uuid.UUID, reason string, actorID *uuid.UUID) (models.Wallet, error) {
	return s.changeStatus(ctx, walletID, domain.WalletFrozen, reason, actorID, "admin")
}

func (s *WalletService) changeStatus(ctx context.Context, walletID uuid.UUID, status domain.WalletStatus, reason string, actorID *uuid.UUID, source string) (models.Wallet, error) {
	var (
		out     models.Wallet
		changed bool
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		out, changed, err = s.setStatus(ctx, q, walletID, status, reason, actorID)
		return err
	})
	if err != nil {
		if domain.IsBusiness(err) {
			return models.Wallet{}, err
		}
		return models.Wallet{}, infraError("change wallet status", err)
	}
	if changed {
		s.statusChanged(ctx, out, source)
	}
	return out, nil
}

// setStatus runs inside the caller's transaction. changed is false when the
// wallet already had the requested status.
func (s *WalletService) setStatus(ctx context.Context, q repository.Querier, walletID uuid.UUID, status domain.WalletStatus, reason string, actorID *uuid.UUID) (models.Wallet, bool, error) {
	w, err := q.GetWalletForUpdate(ctx, walletID)
	if err != nil {
		return models.Wallet{}, false, notFound(err, "wallet", walletID)
	}
	if w.Status == status {
		return w, false, nil
	}
	now := s.now()
	rows, err := q.UpdateWalletStatus(ctx, repository.UpdateWalletStatusParams{
		ID:        walletID,
		Status:    status,
		Reason:    textParam(reason),
		UpdatedAt: now,
	})
	if err != nil {
		return models.Wallet{}, false, fmt.Errorf("update wallet status: %w", err)
	}
	if err := requireExactlyOne(rows, "update wallet status"); err != nil {
		return models.Wallet{}, false, err
	}
	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}
	if err := s.audit.Write(ctx, q, "wallet", walletID, actorID, "wallet_status_changed", string(w.Status), string(status), meta); err != nil {
		return models.Wallet{}, false, err
	}
	prev := w.Status
	w.Status = status
	w.StatusReason = textParam(reason)
	w.Version++
	w.UpdatedAt = now
	zap.L().Info("wallet status changed",
		zap.String("wallet_id", walletID.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(status)),
		zap.String("reason", reason))
	return w, true, nil
}

// statusChanged emits metrics and notifications after the status change committed.
func (s *WalletService) statusChanged(ctx context.Context, w models.Wallet, source string) {
	observability.IncrementWalletStatusChange(string(w.Status), source)
	details := map[string]any{
		"wallet_id": w.ID.String(),
		"user_id":   w.UserID.String(),
		"status":    string(w.Status),
		"source":    source,
	}
	if w.StatusReason != nil {
		details["reason"] = *w.StatusReason
	}
	switch w.Status {
	case domain.WalletFrozen:
		s.sink.Record(ctx, notify.EventWalletFrozen, details)
	case domain.WalletActive:
		s.sink.Record(ctx, notify.EventWalletUnfrozen, details)
	}
}

// infraError marks err as a storage failure unless it already carries a ledger code.
func infraError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsError(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrFatalInfrastructure, err)
}

func notFoundOrInfra(err error, what string, id uuid.UUID) error {
	if errors.Is(err, repository.ErrNoRows) {
		return domain.Errorf(domain.ErrNotFound, "%s %s", what, id)
	}
	return infraError("load "+what, err)
}
