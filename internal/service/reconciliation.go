package service

import (
	"context"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const reconcilePageSize = 500

// ReconciliationService proves wallet balances match their ledger entries and clears
// transactions stuck in PENDING.
type ReconciliationService struct {
	store          QueryStore
	audit          *AuditService
	sink           notify.Sink
	pendingTimeout time.Duration
	now            func() time.Time
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore, audit *AuditService, sink notify.Sink, pendingTimeout time.Duration) *ReconciliationService {
	if sink == nil {
		sink = notify.Nop{}
	}
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPolicy().PendingTimeout
	}
	return &ReconciliationService{
		store:          store,
		audit:          audit,
		sink:           sink,
		pendingTimeout: pendingTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReconciliationService) WithClock(now func() time.Time) *ReconciliationService {
	if now != nil {
		s.now = now
	}
	return s
}

// Imbalance is a wallet whose stored buckets differ from its ledger entries.
type Imbalance struct {
	WalletID uuid.UUID           `json:"wallet_id"`
	Currency domain.Currency     `json:"currency"`
	Stored   models.BucketTotals `json:"stored"`
	Ledger   models.BucketTotals `json:"ledger"`
}

type ReconciliationReport struct {
	Swept              int         `json:"swept"`
	Checked            int         `json:"checked"`
	Imbalances         []Imbalance `json:"imbalances"`
	PendingWithdrawals int         `json:"pending_withdrawals"`
}

// Run sweeps stale PENDING transactions, then checks every wallet against
// its ledger entries.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport
	swept, err := s.SweepPending(ctx)
	if err != nil {
		return report, err
	}
	report.Swept = swept

	checked, imbalances, err := s.VerifyBalances(ctx)
	if err != nil {
		return report, err
	}
	report.Checked = checked
	report.Imbalances = imbalances

	queued, err := s.countPendingWithdrawals(ctx)
	if err != nil {
		return report, err
	}
	report.PendingWithdrawals = queued
	observability.SetWithdrawalQueueSize(int64(queued))

	if len(imbalances) == 0 {
		zap.L().Info("ledger balanced", zap.Int("wallets", checked), zap.Int("swept", swept))
	}
	return report, nil
}

// SweepPending moves PENDING transactions older than the timeout to FAILED.
// A PENDING row only survives a crashed writer; committed work is never
// left in that state.
func (s *ReconciliationService) SweepPending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.pendingTimeout)
	stale, err := s.store.Queries().ListTransactions(ctx, repository.TransactionFilter{
		Statuses:  []domain.TxStatus{domain.TxStatusPending},
		Until:     &cutoff,
		Ascending: true,
		Limit:     reconcilePageSize,
	})
	if err != nil {
		return 0, infraError("list stale pending transactions", err)
	}

	swept := 0
	for _, tx := range stale {
		err := s.store.RunInTx(ctx, func(q repository.Querier) error {
			return transitionTransactionState(ctx, q, s.audit, tx.ID, domain.TxStatusFailed, nil, "transaction_swept", map[string]any{
				"reason":     "pending timeout",
				"created_at": tx.CreatedAt,
			}, s.now())
		})
		if err != nil {
			if domain.IsBusiness(err) {
				// settled between the list and the update
				continue
			}
			return swept, infraError("sweep pending transaction", err)
		}
		swept++
		zap.L().Warn("stale pending transaction failed",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("type", string(tx.Type)),
			zap.Time("created_at", tx.CreatedAt))
	}
	if swept > 0 {
		observability.AddPendingSwept(swept)
	}
	return swept, nil
}

// VerifyBalances compares each wallet's buckets with the sum of its ledger entries.
func (s *ReconciliationService) VerifyBalances(ctx context.Context) (int, []Imbalance, error) {
	q := s.store.Queries()
	var (
		checked    int
		imbalances []Imbalance
	)
	for offset := int32(0); ; offset += reconcilePageSize {
		wallets, err := q.ListWallets(ctx, reconcilePageSize, offset)
		if err != nil {
			return checked, imbalances, infraError("list wallets", err)
		}
		for _, w := range wallets {
			sums, err := q.SumLedgerEntries(ctx, w.ID)
			if err != nil {
				return checked, imbalances, infraError("sum ledger entries", err)
			}
			checked++
			stored := models.BucketTotals{Available: w.Available, Locked: w.Locked, Staked: w.Staked}
			if stored == sums {
				continue
			}
			imb := Imbalance{WalletID: w.ID, Currency: w.Currency, Stored: stored, Ledger: sums}
			imbalances = append(imbalances, imb)
			s.reportImbalance(ctx, imb)
		}
		if len(wallets) < reconcilePageSize {
			break
		}
	}
	return checked, imbalances, nil
}

func (s *ReconciliationService) reportImbalance(ctx context.Context, imb Imbalance) {
	observability.IncrementLedgerImbalance(string(imb.Currency))
	zap.L().Error("CRITICAL: ledger imbalance detected",
		zap.String("wallet_id", imb.WalletID.String()),
		zap.String("currency", string(imb.Currency)),
		zap.Int64("stored_available", imb.Stored.Available),
		zap.Int64("ledger_available", imb.Ledger.Available),
		zap.Int64("stored_locked", imb.Stored.Locked),
		zap.Int64("ledger_locked", imb.Ledger.Locked),
		zap.Int64("stored_staked", imb.Stored.Staked),
		zap.Int64("ledger_staked", imb.Ledger.Staked))
	s.sink.Record(ctx, notify.EventLedgerImbalance, map[string]any{
		"wallet_id": imb.WalletID.String(),
		"currency":  string(imb.Currency),
		"stored":    imb.Stored,
		"ledger":    imb.Ledger,
	})
}

func (s *ReconciliationService) countPendingWithdrawals(ctx context.Context) (int, error) {
	q := s.store.Queries()
	total := 0
	for offset := int32(0); ; offset += reconcilePageSize {
		reqs, err := q.ListWithdrawalRequests(ctx, domain.WithdrawalPending, reconcilePageSize, offset)
		if err != nil {
			return total, infraError("list withdrawal requests", err)
		}
		total += len(reqs)
		if len(reqs) < reconcilePageSize {
			return total, nil
		}
	}
}
