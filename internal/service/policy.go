package service

import (
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Policy holds the tunable ledger rules. Amounts are in micros.
type Policy struct {
	WithdrawalMinAmount int64
	WithdrawalCooldown  time.Duration
	WithdrawalWeekdays  []time.Weekday

	// EarlyUnlockPenalty is the fraction of accrued rewards forfeited on early unlock.
	EarlyUnlockPenalty decimal.Decimal
	TierAPRs           map[domain.StakingTier]decimal.Decimal

	TipFeeRate      decimal.Decimal
	PurchaseFeeRate decimal.Decimal
	// CEPerJY is how many CE points buy one JY.
	CEPerJY decimal.Decimal

	MaxRetries     int
	RetryBackoff   time.Duration
	PendingTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		WithdrawalMinAmount: 50_000,
		WithdrawalCooldown:  48 * time.Hour,
		WithdrawalWeekdays:  []time.Weekday{time.Wednesday, time.Friday},
		EarlyUnlockPenalty:  decimal.NewFromFloat(0.5),
		TierAPRs: map[domain.StakingTier]decimal.Decimal{
			domain.TierFlexible:        decimal.NewFromInt(5),
			domain.TierSixMonth:        decimal.NewFromInt(8),
			domain.TierNineMonth:       decimal.NewFromInt(10),
			domain.TierTwentyFourMonth: decimal.NewFromInt(15),
		},
		TipFeeRate:      decimal.NewFromFloat(0.05),
		PurchaseFeeRate: decimal.NewFromFloat(0.10),
		CEPerJY:         decimal.NewFromInt(100),
		MaxRetries:      3,
		RetryBackoff:    20 * time.Millisecond,
		PendingTimeout:  15 * time.Minute,
	}
}

// withdrawalDayAllowed reports whether t falls on a configured withdrawal weekday (UTC).
func (p Policy) withdrawalDayAllowed(t time.Time) bool {
	if len(p.WithdrawalWeekdays) == 0 {
		return true
	}
	day := t.UTC().Weekday()
	for _, d := range p.WithdrawalWeekdays {
		if d == day {
			return true
		}
	}
	return false
}
