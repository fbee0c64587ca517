package domain

import "github.com/google/uuid"

// TreasuryUserID owns the platform treasury wallets (one per currency).
var TreasuryUserID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

// Currency is a supported wallet currency.
type Currency string

const (
	CurrencyCMT Currency = "CMT" // platform token
	CurrencyCE  Currency = "CE"  // reward points
	CurrencyJY  Currency = "JY"  // JOY token
)

// Currencies lists every supported wallet currency.
var Currencies = []Currency{CurrencyCMT, CurrencyCE, CurrencyJY}

// Valid reports whether c is a supported wallet currency.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyCMT, CurrencyCE, CurrencyJY:
		return true
	default:
		return false
	}
}

// Bucket names one of the three balance fields of a wallet.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketLocked    Bucket = "locked"
	BucketStaked    Bucket = "staked"
)

func (b Bucket) Valid() bool {
	return b == BucketAvailable || b == BucketLocked || b == BucketStaked
}

type WalletStatus string

const (
	WalletActive WalletStatus = "ACTIVE"
	WalletFrozen WalletStatus = "FROZEN"
	WalletLocked WalletStatus = "LOCKED"
)

type TxStatus string

const (
	TxStatusPending   TxStatus = "PENDING"
	TxStatusCompleted TxStatus = "COMPLETED"
	TxStatusFailed    TxStatus = "FAILED"
	TxStatusReversed  TxStatus = "REVERSED"
)

// TxType is the kind of an immutable transaction record.
type TxType string

const (
	// deposits
	TxDepositCrypto TxType = "DEPOSIT_CRYPTO"
	TxDepositFiat   TxType = "DEPOSIT_FIAT"
	TxRewardCredit  TxType = "REWARD_CREDIT"

	// withdrawals
	TxWithdrawalHold    TxType = "WITHDRAWAL_HOLD"
	TxWithdrawal        TxType = "WITHDRAWAL"
	TxWithdrawalRelease TxType = "WITHDRAWAL_RELEASE"
	TxWhitelistUpdate   TxType = "WHITELIST_UPDATE"

	// transfers
	TxTransfer TxType = "TRANSFER"

	// payments
	TxSubscriptionCharge    TxType = "SUBSCRIPTION_CHARGE"
	TxSubscriptionRefund    TxType = "SUBSCRIPTION_REFUND"
	TxSubscriptionUpgrade   TxType = "SUBSCRIPTION_UPGRADE"
	TxSubscriptionDowngrade TxType = "SUBSCRIPTION_DOWNGRADE"
	TxSubscriptionPause     TxType = "SUBSCRIPTION_PAUSE"
	TxSubscriptionCancel    TxType = "SUBSCRIPTION_CANCEL"
	TxContentPurchase       TxType = "CONTENT_PURCHASE"

	// refunds
	TxRefundFull    TxType = "REFUND_FULL"
	TxRefundPartial TxType = "REFUND_PARTIAL"
	TxChargeback    TxType = "CHARGEBACK"

	// staking
	TxStakeLock   TxType = "STAKE_LOCK"
	TxStakeUnlock TxType = "STAKE_UNLOCK"
	TxStakeReward TxType = "STAKE_REWARD"

	// conversions
	TxConvertCEToJY     TxType = "CONVERT_CE_JY"
	TxConvertJYToFiat   TxType = "CONVERT_JY_FIAT"
	TxConvertJYToCrypto TxType = "CONVERT_JY_CRYPTO"

	// airdrops
	TxAirdropReserve    TxType = "AIRDROP_RESERVE"
	TxAirdropClaim      TxType = "AIRDROP_CLAIM"
	TxAirdropDistribute TxType = "AIRDROP_DISTRIBUTE"

	// escrow
	TxEscrowHold    TxType = "ESCROW_HOLD"
	TxEscrowRelease TxType = "ESCROW_RELEASE"
	TxEscrowDispute TxType = "ESCROW_DISPUTE"
	TxEscrowResolve TxType = "ESCROW_RESOLVE"

	// gifts
	TxGift     TxType = "GIFT"
	TxTip      TxType = "TIP"
	TxDonation TxType = "DONATION"
)

// Withdrawal kinds are what the cooldown and fraud detectors treat as cash-outs.
var WithdrawalTypes = []TxType{TxWithdrawal, TxConvertJYToFiat, TxConvertJYToCrypto}

// IsWithdrawal reports whether t moves value off-platform.
func (t TxType) IsWithdrawal() bool {
	for _, w := range WithdrawalTypes {
		if t == w {
			return true
		}
	}
	return t == TxWithdrawalHold
}

type StakingStatus string

const (
	StakingActive    StakingStatus = "ACTIVE"
	StakingUnlocked  StakingStatus = "UNLOCKED"
	StakingPenalized StakingStatus = "PENALIZED"
)

// StakingTier names a fixed lock term with a nominal APR.
type StakingTier string

const (
	TierFlexible        StakingTier = "FLEXIBLE"
	TierSixMonth        StakingTier = "SIX_MONTH"
	TierNineMonth       StakingTier = "NINE_MONTH"
	TierTwentyFourMonth StakingTier = "TWENTY_FOUR_MONTH"
)

// LockDays returns the lock term of the tier.
func (t StakingTier) LockDays() (int, bool) {
	switch t {
	case TierFlexible:
		return 7, true
	case TierSixMonth:
		return 180, true
	case TierNineMonth:
		return 270, true
	case TierTwentyFourMonth:
		return 730, true
	default:
		return 0, false
	}
}

type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "HELD"
	EscrowReleased EscrowStatus = "RELEASED"
	EscrowDisputed EscrowStatus = "DISPUTED"
	EscrowResolved EscrowStatus = "RESOLVED"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "PENDING"
	WithdrawalApproved WithdrawalStatus = "APPROVED"
	WithdrawalRejected WithdrawalStatus = "REJECTED"
)

type AirdropStatus string

const (
	AirdropActive    AirdropStatus = "ACTIVE"
	AirdropExhausted AirdropStatus = "EXHAUSTED"
)

// FraudPattern identifies one of the fraud detectors.
type FraudPattern string

const (
	PatternUnusualAmount      FraudPattern = "UNUSUAL_AMOUNT"
	PatternVelocity           FraudPattern = "VELOCITY"
	PatternNewWalletCashout   FraudPattern = "NEW_WALLET_CASHOUT"
	PatternNewLocation        FraudPattern = "NEW_LOCATION"
	PatternDormantReactivated FraudPattern = "DORMANT_REACTIVATION"
	PatternRoundTrip          FraudPattern = "ROUND_TRIP"
	PatternFailedWithdrawals  FraudPattern = "REPEATED_FAILED_WITHDRAWAL"
	PatternWhitelistThenDrain FraudPattern = "WHITELIST_CHANGE_THEN_WITHDRAW"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from LOW (1) to CRITICAL (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)
