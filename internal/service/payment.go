package service

import (
	"context"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
)

// treasuryLeg is a one-sided payment between a user wallet and the treasury
// of the same currency. toUser flips the direction.
type treasuryLeg struct {
	txType   domain.TxType
	wallet   uuid.UUID
	amount   int64
	toUser   bool
	metadata models.Metadata
	override bool
}

func (e *Engine) settleWithTreasury(ctx context.Context, c call, leg treasuryLeg, check func(w models.Wallet) error) (outcome, error) {
	d := draft{txType: leg.txType, amount: leg.amount, metadata: leg.metadata, override: leg.override}
	if leg.toUser {
		d.to = &leg.wallet
	} else {
		d.from = &leg.wallet
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		w, err := getWallet(ctx, q, leg.wallet)
		if err != nil {
			return outcome{}, err
		}
		if err := check(w); err != nil {
			return outcome{}, err
		}
		treasury, err := treasuryWallet(ctx, q, w.Currency)
		if err != nil {
			return outcome{}, err
		}
		rec := d
		rec.currency = w.Currency
		var postings []posting
		if leg.toUser {
			rec.from = &treasury.ID
			postings = []posting{debit(treasury.ID, leg.amount), credit(w.ID, leg.amount)}
		} else {
			rec.to = &treasury.ID
			postings = []posting{debit(w.ID, leg.amount), credit(treasury.ID, leg.amount)}
		}
		tx, err := e.post(ctx, q, c, rec, postings...)
		if err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID}, nil
	})
}

func (e *Engine) ownerCheck(ctx context.Context, c call) func(models.Wallet) error {
	return func(w models.Wallet) error {
		return e.requireOwner(ctx, c, w)
	}
}

func (e *Engine) subscriptionCharge(ctx context.Context, c call, op SubscriptionCharge) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	return e.settleWithTreasury(ctx, c, treasuryLeg{
		txType: domain.TxSubscriptionCharge,
		wallet: op.WalletID,
		amount: amount,
		metadata: models.Metadata{
			"subscription_id": op.SubscriptionID,
			"plan_id":         op.PlanID,
		},
	}, e.ownerCheck(ctx, c))
}

// subscriptionUpgrade charges the price difference between the two plans.
func (e *Engine) subscriptionUpgrade(ctx context.Context, c call, op SubscriptionUpgrade) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	return e.settleWithTreasury(ctx, c, treasuryLeg{
		txType: domain.TxSubscriptionUpgrade,
		wallet: op.WalletID,
		amount: amount,
		metadata: models.Metadata{
			"subscription_id": op.SubscriptionID,
			"from_plan_id":    op.FromPlanID,
			"to_plan_id":      op.ToPlanID,
		},
	}, e.ownerCheck(ctx, c))
}

// subscriptionDowngrade records the plan change and credits any price
// difference back from the treasury. A credit needs the gate.
func (e *Engine) subscriptionDowngrade(ctx context.Context, c call, op SubscriptionDowngrade) (outcome, error) {
	amount, err := optionalAmount("credit_amount", op.CreditAmount)
	if err != nil {
		return outcome{}, err
	}
	meta := models.Metadata{
		"subscription_id": op.SubscriptionID,
		"from_plan_id":    op.FromPlanID,
		"to_plan_id":      op.ToPlanID,
	}
	if amount == 0 {
		return e.lifecycle(ctx, c, domain.TxSubscriptionDowngrade, op.WalletID, meta)
	}
	if err := e.requirePrivilege(ctx, c, op.WalletID.String()); err != nil {
		return outcome{}, err
	}
	return e.settleWithTreasury(ctx, c, treasuryLeg{
		txType:   domain.TxSubscriptionDowngrade,
		wallet:   op.WalletID,
		amount:   amount,
		toUser:   true,
		metadata: meta,
	}, func(models.Wallet) error { return nil })
}

func (e *Engine) subscriptionPause(ctx context.Context, c call, op SubscriptionPause) (outcome, error) {
	meta := models.Metadata{"subscription_id": op.SubscriptionID}
	if op.ResumeAt != nil {
		if !op.ResumeAt.After(e.now()) {
			return outcome{}, domain.Errorf(domain.ErrValidation, "resume_at must be in the future")
		}
		meta["resume_at"] = op.ResumeAt.UTC().Format(time.RFC3339)
	}
	return e.lifecycle(ctx, c, domain.TxSubscriptionPause, op.WalletID, meta)
}

// subscriptionCancel records the cancellation; a prorated refund is paid
// from the treasury and needs the gate.
func (e *Engine) subscriptionCancel(ctx context.Context, c call, op SubscriptionCancel) (outcome, error) {
	refund, err := optionalAmount("refund_amount", op.RefundAmount)
	if err != nil {
		return outcome{}, err
	}
	meta := models.Metadata{"subscription_id": op.SubscriptionID}
	if op.Reason != "" {
		meta["reason"] = op.Reason
	}
	if refund == 0 {
		return e.lifecycle(ctx, c, domain.TxSubscriptionCancel, op.WalletID, meta)
	}
	if err := e.requirePrivilege(ctx, c, op.WalletID.String()); err != nil {
		return outcome{}, err
	}
	meta["prorated_refund"] = true
	return e.settleWithTreasury(ctx, c, treasuryLeg{
		txType:   domain.TxSubscriptionCancel,
		wallet:   op.WalletID,
		amount:   refund,
		toUser:   true,
		metadata: meta,
	}, func(models.Wallet) error { return nil })
}

// lifecycle writes a zero-amount record against the wallet with no balance effect.
func (e *Engine) lifecycle(ctx context.Context, c call, txType domain.TxType, walletID uuid.UUID, meta models.Metadata) (outcome, error) {
	d := draft{txType: txType, from: &walletID, metadata: meta}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		w, err := getWallet(ctx, q, walletID)
		if err != nil {
			return outcome{}, err
		}
		if err := e.requireOwner(ctx, c, w); err != nil {
			return outcome{}, err
		}
		rec := d
		rec.currency = w.Currency
		tx, err := e.post(ctx, q, c, rec)
		if err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID}, nil
	})
}

// purchaseContent pays the creator; the platform keeps the purchase fee.
func (e *Engine) purchaseContent(ctx context.Context, c call, op PurchaseContent) (outcome, error) {
	return e.pay(ctx, c, payment{
		txType:  domain.TxContentPurchase,
		from:    op.BuyerWalletID,
		to:      op.CreatorWalletID,
		amount:  op.Amount,
		feeRate: e.policy.PurchaseFeeRate,
		metadata: models.Metadata{
			"content_id": op.ContentID,
			"fee_rate":   e.policy.PurchaseFeeRate.String(),
		},
	})
}
