package service

import (
	"context"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	secondsPerYear = decimal.NewFromInt(365 * 24 * 60 * 60)
	hundred        = decimal.NewFromInt(100)
	maxAPR         = decimal.NewFromInt(1000)
)

// accruedReward is principal * apr/100 * elapsed/365 days, measured from the
// accrual baseline and capped at maturity. Rounds down to the micro.
func accruedReward(r models.StakingRecord, now time.Time) (int64, error) {
	apr, err := decimal.NewFromString(r.AprRate)
	if err != nil {
		return 0, domain.Errorf(domain.ErrInvalidState, "staking record %s has invalid apr %q", r.ID, r.AprRate)
	}
	end := now
	if end.After(r.UnlocksAt) {
		end = r.UnlocksAt
	}
	if !end.After(r.AccrualBaseline) {
		return 0, nil
	}
	elapsed := decimal.NewFromInt(int64(end.Sub(r.AccrualBaseline) / time.Second))
	reward := decimal.NewFromInt(r.Amount).
		Mul(apr).
		Mul(elapsed).
		Div(hundred.Mul(secondsPerYear))
	return reward.IntPart(), nil
}

// StakingView is a staking record with its rewards accrued so far.
type StakingView struct {
	models.StakingRecord
	Accrued int64 `json:"accrued"`
}

func (e *Engine) GetStaking(ctx context.Context, id uuid.UUID) (StakingView, error) {
	r, err := e.store.Queries().GetStakingRecord(ctx, id)
	if err != nil {
		return StakingView{}, notFoundOrInfra(err, "staking record", id)
	}
	return e.stakingView(r)
}

func (e *Engine) ListStaking(ctx context.Context, walletID uuid.UUID) ([]StakingView, error) {
	records, err := e.store.Queries().ListStakingRecordsByWallet(ctx, walletID)
	if err != nil {
		return nil, infraError("list staking records", err)
	}
	out := make([]StakingView, 0, len(records))
	for _, r := range records {
		v, err := e.stakingView(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) stakingView(r models.StakingRecord) (StakingView, error) {
	v := StakingView{StakingRecord: r}
	if r.Status != domain.StakingActive {
		return v, nil
	}
	accrued, err := accruedReward(r, e.now())
	if err != nil {
		return StakingView{}, err
	}
	v.Accrued = accrued
	return v, nil
}

// stakingTerms resolves the lock term and APR from a tier or an explicit pair.
func (e *Engine) stakingTerms(op LockStaking) (int, decimal.Decimal, error) {
	if op.Tier != "" {
		if op.DurationDays != 0 || op.AprRate != "" {
			return 0, decimal.Zero, domain.Errorf(domain.ErrValidation, "tier cannot be combined with duration_days or apr_rate")
		}
		days, ok := op.Tier.LockDays()
		if !ok {
			return 0, decimal.Zero, domain.Errorf(domain.ErrValidation, "unknown tier %q", op.Tier)
		}
		apr, ok := e.policy.TierAPRs[op.Tier]
		if !ok {
			return 0, decimal.Zero, domain.Errorf(domain.ErrValidation, "no apr configured for tier %s", op.Tier)
		}
		return days, apr, nil
	}
	if op.DurationDays <= 0 || op.AprRate == "" {
		return 0, decimal.Zero, domain.Errorf(domain.ErrValidation, "either tier or duration_days and apr_rate are required")
	}
	apr, err := decimal.NewFromString(op.AprRate)
	if err != nil || apr.IsNegative() || apr.GreaterThan(maxAPR) {
		return 0, decimal.Zero, domain.Errorf(domain.ErrValidation, "invalid apr_rate %q", op.AprRate)
	}
	return op.DurationDays, apr, nil
}

func (e *Engine) lockStaking(ctx context.Context, c call, op LockStaking) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	days, apr, err := e.stakingTerms(op)
	if err != nil {
		return outcome{}, err
	}
	d := draft{
		txType: domain.TxStakeLock,
		from:   &op.WalletID,
		amount: amount,
		metadata: models.Metadata{
			"lock_duration_days": days,
			"apr_rate":           apr.String(),
		},
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		w, err := loadWallet(ctx, q, op.WalletID)
		if err != nil {
			return outcome{}, err
		}
		if err := e.requireOwner(ctx, c, w); err != nil {
			return outcome{}, err
		}

		now := e.now()
		rec := models.StakingRecord{
			ID:               uuid.New(),
			WalletID:         w.ID,
			Amount:           amount,
			Currency:         w.Currency,
			LockDurationDays: days,
			AprRate:          apr.String(),
			StartedAt:        now,
			UnlocksAt:        now.AddDate(0, 0, days),
			AccrualBaseline:  now,
			Status:           domain.StakingActive,
			UpdatedAt:        now,
		}
		if op.Tier != "" {
			rec.Tier = ptr(op.Tier)
		}

		lock := withRecord(d, rec.ID)
		lock.currency = w.Currency
		tx, err := e.post(ctx, q, c, lock, shift(w.ID, domain.BucketAvailable, domain.BucketStaked, amount)...)
		if err != nil {
			return outcome{}, err
		}
		if err := q.InsertStakingRecord(ctx, rec); err != nil {
			return outcome{}, err
		}
		if err := e.audit.Write(ctx, q, "staking_record", rec.ID, &c.actor, "staking_locked", "", string(domain.StakingActive), map[string]any{
			"amount":   amount,
			"apr_rate": rec.AprRate,
			"days":     days,
		}); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: rec.ID}, nil
	})
}

// activeStake locks the record and checks the caller may act on it.
func (e *Engine) activeStake(ctx context.Context, q repository.Querier, c call, id uuid.UUID) (models.StakingRecord, models.Wallet, error) {
	r, err := q.GetStakingRecordForUpdate(ctx, id)
	if err != nil {
		return models.StakingRecord{}, models.Wallet{}, notFound(err, "staking record", id)
	}
	w, err := getWallet(ctx, q, r.WalletID)
	if err != nil {
		return models.StakingRecord{}, models.Wallet{}, err
	}
	if err := e.requireOwner(ctx, c, w); err != nil {
		return models.StakingRecord{}, models.Wallet{}, err
	}
	if r.Status != domain.StakingActive {
		return models.StakingRecord{}, models.Wallet{}, domain.Errorf(domain.ErrInvalidState, "staking record %s is %s", id, r.Status)
	}
	return r, w, nil
}

func (e *Engine) stakeDraft(ctx context.Context, txType domain.TxType, id uuid.UUID) (draft, error) {
	r, err := e.store.Queries().GetStakingRecord(ctx, id)
	if err != nil {
		return draft{}, notFound(err, "staking record", id)
	}
	return withRecord(draft{txType: txType, to: &r.WalletID, currency: r.Currency}, r.ID), nil
}

// claimStakingRewards pays accrued rewards from the treasury and restarts
// accrual. The principal stays staked.
func (e *Engine) claimStakingRewards(ctx context.Context, c call, op ClaimStakingRewards) (outcome, error) {
	d, err := e.stakeDraft(ctx, domain.TxStakeReward, op.StakingID)
	if err != nil {
		return outcome{}, err
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		r, w, err := e.activeStake(ctx, q, c, op.StakingID)
		if err != nil {
			return outcome{}, err
		}
		now := e.now()
		reward, err := accruedReward(r, now)
		if err != nil {
			return outcome{}, err
		}
		if reward <= 0 {
			return outcome{}, domain.Errorf(domain.ErrInvalidState, "no rewards accrued on staking record %s", r.ID)
		}
		treasury, err := treasuryWallet(ctx, q, r.Currency)
		if err != nil {
			return outcome{}, err
		}

		rec := d
		rec.from = &treasury.ID
		rec.amount = reward
		tx, err := e.post(ctx, q, c, rec, debit(treasury.ID, reward), credit(w.ID, reward))
		if err != nil {
			return outcome{}, err
		}

		r.RewardsPaid += reward
		r.AccrualBaseline = earliest(now, r.UnlocksAt)
		r.UpdatedAt = now
		if err := e.saveStake(ctx, q, r); err != nil {
			return outcome{}, err
		}
		if err := e.audit.Write(ctx, q, "staking_record", r.ID, &c.actor, "staking_rewards_claimed", string(r.Status), string(r.Status), map[string]any{
			"reward": reward,
		}); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: r.ID}, nil
	})
}

// unlockStaking returns the principal. At or after maturity the full reward
// is paid; before maturity the configured penalty fraction is forfeited and
// the record passes through PENALIZED.
func (e *Engine) unlockStaking(ctx context.Context, c call, op UnlockStaking) (outcome, error) {
	d, err := e.stakeDraft(ctx, domain.TxStakeUnlock, op.StakingID)
	if err != nil {
		return outcome{}, err
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		r, w, err := e.activeStake(ctx, q, c, op.StakingID)
		if err != nil {
			return outcome{}, err
		}
		now := e.now()
		accrued, err := accruedReward(r, now)
		if err != nil {
			return outcome{}, err
		}
		early := now.Before(r.UnlocksAt)
		var forfeited int64
		if early {
			forfeited = domain.NewMoney(accrued, r.Currency).Fee(e.policy.EarlyUnlockPenalty)
		}
		payout := accrued - forfeited

		rec := d
		rec.amount = r.Amount
		rec.metadata = rec.metadata.Clone()
		rec.metadata["reward"] = domain.MicrosToDecimal(payout).String()
		rec.metadata["forfeited"] = domain.MicrosToDecimal(forfeited).String()
		rec.metadata["early"] = early
		postings := shift(w.ID, domain.BucketStaked, domain.BucketAvailable, r.Amount)
		if payout > 0 {
			treasury, err := treasuryWallet(ctx, q, r.Currency)
			if err != nil {
				return outcome{}, err
			}
			rec.from = &treasury.ID
			postings = append(postings, debit(treasury.ID, payout), credit(w.ID, payout))
		}
		tx, err := e.post(ctx, q, c, rec, postings...)
		if err != nil {
			return outcome{}, err
		}

		r.RewardsPaid += payout
		r.RewardsForfeited += forfeited
		r.AccrualBaseline = earliest(now, r.UnlocksAt)
		r.UpdatedAt = now
		if early {
			if err := e.moveStake(ctx, q, c, &r, domain.StakingPenalized, map[string]any{"forfeited": forfeited}); err != nil {
				return outcome{}, err
			}
		}
		r.UnlockedAt = &now
		if err := e.moveStake(ctx, q, c, &r, domain.StakingUnlocked, map[string]any{"reward": payout}); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: r.ID}, nil
	})
}

func (e *Engine) moveStake(ctx context.Context, q repository.Querier, c call, r *models.StakingRecord, next domain.StakingStatus, meta map[string]any) error {
	prev := r.Status
	r.Status = next
	if err := e.saveStake(ctx, q, *r); err != nil {
		return err
	}
	return e.audit.Write(ctx, q, "staking_record", r.ID, &c.actor, "staking_status_changed", string(prev), string(next), meta)
}

func (e *Engine) saveStake(ctx context.Context, q repository.Querier, r models.StakingRecord) error {
	rows, err := q.UpdateStakingRecord(ctx, r)
	if err != nil {
		return err
	}
	return requireExactlyOne(rows, "update staking record")
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
