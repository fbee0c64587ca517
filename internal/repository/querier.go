package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the data access contract shared by the Postgres and in-memory stores.
type Querier interface {
	InsertWallet(ctx context.Context, w models.Wallet) (models.Wallet, bool, error)
	GetWallet(ctx context.Context, id uuid.UUID) (models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, id uuid.UUID) (models.Wallet, error)
	GetWalletByOwner(ctx context.Context, userID uuid.UUID, currency domain.Currency) (models.Wallet, error)
	ListWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error)
	ListWallets(ctx context.Context, limit, offset int32) ([]models.Wallet, error)
	UpdateWalletBalances(ctx context.Context, arg UpdateWalletBalancesParams) (int64, error)
	UpdateWalletStatus(ctx context.Context, arg UpdateWalletStatusParams) (int64, error)
	UpdateWalletWhitelist(ctx context.Context, id uuid.UUID, whitelist []string, updatedAt time.Time) (int64, error)

	InsertTransaction(ctx context.Context, tx models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error)

	InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error
	SumLedgerEntries(ctx context.Context, walletID uuid.UUID) (models.BucketTotals, error)

	InsertStakingRecord(ctx context.Context, r models.StakingRecord) error
	GetStakingRecord(ctx context.Context, id uuid.UUID) (models.StakingRecord, error)
	GetStakingRecordForUpdate(ctx context.Context, id uuid.UUID) (models.StakingRecord, error)
	UpdateStakingRecord(ctx context.Context, r models.StakingRecord) (int64, error)
	ListStakingRecordsByWallet(ctx context.Context, walletID uuid.UUID) ([]models.StakingRecord, error)

	InsertEscrow(ctx context.Context, e models.EscrowRecord) error
	GetEscrow(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error)
	GetEscrowForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error)
	UpdateEscrow(ctx context.Context, e models.EscrowRecord) (int64, error)

	InsertWithdrawalRequest(ctx context.Context, r models.WithdrawalRequest) error
	GetWithdrawalRequest(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)
	GetWithdrawalRequestForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error)
	UpdateWithdrawalRequest(ctx context.Context, r models.WithdrawalRequest) (int64, error)
	ListWithdrawalRequests(ctx context.Context, status domain.WithdrawalStatus, limit, offset int32) ([]models.WithdrawalRequest, error)

	InsertAirdropCampaign(ctx context.Context, c models.AirdropCampaign) error
	GetAirdropCampaign(ctx context.Context, id uuid.UUID) (models.AirdropCampaign, error)
	GetAirdropCampaignForUpdate(ctx context.Context, id uuid.UUID) (models.AirdropCampaign, error)
	UpdateAirdropCampaign(ctx context.Context, c models.AirdropCampaign) (int64, error)
	InsertAirdropClaim(ctx context.Context, c models.AirdropClaim) (bool, error)
	GetAirdropClaim(ctx context.Context, campaignID, userID uuid.UUID) (models.AirdropClaim, error)

	InsertFraudAlert(ctx context.Context, a models.FraudAlert) error
	GetFraudAlert(ctx context.Context, id uuid.UUID) (models.FraudAlert, error)
	ListOpenFraudAlerts(ctx context.Context, walletID uuid.UUID, pattern domain.FraudPattern) ([]models.FraudAlert, error)
	ListFraudAlerts(ctx context.Context, f FraudAlertFilter) ([]models.FraudAlert, error)
	ResolveFraudAlert(ctx context.Context, arg ResolveFraudAlertParams) (int64, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error)
}

type UpdateWalletBalancesParams struct {
	ID              uuid.UUID
	Available       int64
	Locked          int64
	Staked          int64
	ExpectedVersion int64
	UpdatedAt       time.Time
}

type UpdateWalletStatusParams struct {
	ID        uuid.UUID
	Status    domain.WalletStatus
	Reason    *string
	UpdatedAt time.Time
}

type UpdateTransactionStatusParams struct {
	ID        uuid.UUID
	Status    domain.TxStatus
	UpdatedAt time.Time
}

// TransactionFilter narrows ListTransactions. Zero values mean "no constraint".
type TransactionFilter struct {
	WalletID  *uuid.UUID
	Types     []domain.TxType
	Statuses  []domain.TxStatus
	Since     *time.Time
	Until     *time.Time
	Limit     uint64
	Offset    uint64
	Ascending bool
}

type FraudAlertFilter struct {
	WalletID       *uuid.UUID
	UnresolvedOnly bool
	Limit          int32
	Offset         int32
}

type ResolveFraudAlertParams struct {
	ID         uuid.UUID
	ResolvedBy uuid.UUID
	Note       string
	ResolvedAt time.Time
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

// ErrNoRows is returned by both stores when a single-row lookup finds nothing.
var ErrNoRows = pgx.ErrNoRows

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsRetryable reports whether err is a serialization failure or deadlock that warrants a retry.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func txTypesToStrings(types []domain.TxType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func txStatusesToStrings(statuses []domain.TxStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
