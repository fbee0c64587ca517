package models

import (
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/google/uuid"
)

// MetadataVersion is the schema version written alongside every Transaction.Metadata.
const MetadataVersion = 1

// Metadata is the operation-specific payload stored as JSONB.
type Metadata map[string]any

// Clone returns a shallow copy so callers can add keys without touching the stored map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Origin describes where a request came from; the fraud detectors read it.
type Origin struct {
	IP       string `json:"ip,omitempty"`
	Country  string `json:"country,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// Empty reports whether no origin information was supplied.
func (o *Origin) Empty() bool {
	return o == nil || (o.IP == "" && o.Country == "" && o.DeviceID == "")
}

type Wallet struct {
	ID           uuid.UUID           `json:"id"`
	UserID       uuid.UUID           `json:"user_id"`
	Currency     domain.Currency     `json:"currency"`
	Available    int64               `json:"available"`
	Locked       int64               `json:"locked"`
	Staked       int64               `json:"staked"`
	Status       domain.WalletStatus `json:"status"`
	StatusReason *string             `json:"status_reason,omitempty"`
	Whitelist    []string            `json:"whitelist"`
	Version      int64               `json:"version"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Total is available + locked + staked.
func (w Wallet) Total() int64 {
	return w.Available + w.Locked + w.Staked
}

// Balance returns the value of a single bucket.
func (w Wallet) Balance(b domain.Bucket) int64 {
	switch b {
	case domain.BucketLocked:
		return w.Locked
	case domain.BucketStaked:
		return w.Staked
	default:
		return w.Available
	}
}

// IsWhitelisted reports whether address is an approved destination.
func (w Wallet) IsWhitelisted(address string) bool {
	for _, a := range w.Whitelist {
		if a == address {
			return true
		}
	}
	return false
}

type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	Type            domain.TxType   `json:"type"`
	Status          domain.TxStatus `json:"status"`
	FromWalletID    *uuid.UUID      `json:"from_wallet_id,omitempty"`
	ToWalletID      *uuid.UUID      `json:"to_wallet_id,omitempty"`
	Amount          int64           `json:"amount"`
	Currency        domain.Currency `json:"currency"`
	Fee             int64           `json:"fee"`
	IdempotencyKey  *string         `json:"idempotency_key,omitempty"`
	ExternalRef     *string         `json:"external_ref,omitempty"`
	Origin          *Origin         `json:"origin,omitempty"`
	Metadata        Metadata        `json:"metadata,omitempty"`
	MetadataVersion int             `json:"metadata_version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Touches reports whether the transaction debits or credits walletID.
func (t Transaction) Touches(walletID uuid.UUID) bool {
	return (t.FromWalletID != nil && *t.FromWalletID == walletID) || (t.ToWalletID != nil && *t.ToWalletID == walletID)
}

// LedgerEntry is one signed bucket movement justified by a transaction.
type LedgerEntry struct {
	ID            uuid.UUID     `json:"id"`
	TransactionID uuid.UUID     `json:"transaction_id"`
	WalletID      uuid.UUID     `json:"wallet_id"`
	Bucket        domain.Bucket `json:"bucket"`
	Delta         int64         `json:"delta"`
	CreatedAt     time.Time     `json:"created_at"`
}

// BucketTotals holds per-bucket sums of ledger entries.
type BucketTotals struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
	Staked    int64 `json:"staked"`
}

type StakingRecord struct {
	ID               uuid.UUID            `json:"id"`
	WalletID         uuid.UUID            `json:"wallet_id"`
	Amount           int64                `json:"amount"`
	Currency         domain.Currency      `json:"currency"`
	Tier             *domain.StakingTier  `json:"tier,omitempty"`
	LockDurationDays int                  `json:"lock_duration_days"`
	AprRate          string               `json:"apr_rate"` // decimal percent, e.g. "12.5"
	StartedAt        time.Time            `json:"started_at"`
	UnlocksAt        time.Time            `json:"unlocks_at"`
	AccrualBaseline  time.Time            `json:"accrual_baseline"`
	RewardsPaid      int64                `json:"rewards_paid"`
	RewardsForfeited int64                `json:"rewards_forfeited"`
	Status           domain.StakingStatus `json:"status"`
	UnlockedAt       *time.Time           `json:"unlocked_at,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

type EscrowRecord struct {
	ID             uuid.UUID           `json:"id"`
	BuyerWalletID  uuid.UUID           `json:"buyer_wallet_id"`
	SellerWalletID uuid.UUID           `json:"seller_wallet_id"`
	MediatorID     *uuid.UUID          `json:"mediator_id,omitempty"`
	Amount         int64               `json:"amount"`
	Currency       domain.Currency     `json:"currency"`
	Status         domain.EscrowStatus `json:"status"`
	DisputeReason  *string             `json:"dispute_reason,omitempty"`
	Resolution     *EscrowResolution   `json:"resolution,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// EscrowResolution splits the held amount between buyer and seller.
type EscrowResolution struct {
	BuyerAmount  int64  `json:"buyer_amount"`
	SellerAmount int64  `json:"seller_amount"`
	Note         string `json:"note,omitempty"`
}

type WithdrawalRequest struct {
	ID                 uuid.UUID               `json:"id"`
	UserID             uuid.UUID               `json:"user_id"`
	WalletID           uuid.UUID               `json:"wallet_id"`
	Amount             int64                   `json:"amount"`
	Currency           domain.Currency         `json:"currency"`
	DestinationAddress string                  `json:"destination_address"`
	Status             domain.WithdrawalStatus `json:"status"`
	HoldTransactionID  uuid.UUID               `json:"hold_transaction_id"`
	RequestedAt        time.Time               `json:"requested_at"`
	ReviewedAt         *time.Time              `json:"reviewed_at,omitempty"`
	AdminID            *uuid.UUID              `json:"admin_id,omitempty"`
	Notes              *string                 `json:"notes,omitempty"`
}

type AirdropCampaign struct {
	ID             uuid.UUID            `json:"id"`
	Name           string               `json:"name"`
	TreasuryWallet uuid.UUID            `json:"treasury_wallet_id"`
	Currency       domain.Currency      `json:"currency"`
	AmountPerClaim int64                `json:"amount_per_claim"`
	TotalReserved  int64                `json:"total_reserved"`
	Remaining      int64                `json:"remaining"`
	Status         domain.AirdropStatus `json:"status"`
	CreatedBy      uuid.UUID            `json:"created_by"`
	EndsAt         *time.Time           `json:"ends_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type AirdropClaim struct {
	CampaignID    uuid.UUID `json:"campaign_id"`
	UserID        uuid.UUID `json:"user_id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	Amount        int64     `json:"amount"`
	TransactionID uuid.UUID `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// FraudEvidence is the snapshot that justified an alert.
type FraudEvidence struct {
	TransactionIDs []uuid.UUID    `json:"transaction_ids"`
	Summary        string         `json:"summary"`
	Figures        map[string]any `json:"figures,omitempty"`
}

// Covers reports whether any of ids is part of the evidence.
func (e FraudEvidence) Covers(ids []uuid.UUID) bool {
	for _, a := range e.TransactionIDs {
		for _, b := range ids {
			if a == b {
				return true
			}
		}
	}
	return false
}

type FraudAlert struct {
	ID             uuid.UUID           `json:"id"`
	WalletID       uuid.UUID           `json:"wallet_id"`
	PatternType    domain.FraudPattern `json:"pattern_type"`
	Severity       domain.Severity     `json:"severity"`
	Evidence       FraudEvidence       `json:"evidence"`
	WalletFrozen   bool                `json:"wallet_frozen"`
	CreatedAt      time.Time           `json:"created_at"`
	ResolvedAt     *time.Time          `json:"resolved_at,omitempty"`
	ResolvedBy     *uuid.UUID          `json:"resolved_by,omitempty"`
	ResolutionNote *string             `json:"resolution_note,omitempty"`
}

// AuditLog is an immutable record of a state change.
type AuditLog struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  *string    `json:"prev_state,omitempty"`
	NextState  *string    `json:"next_state,omitempty"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
