package service

import (
	"context"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/shopspring/decimal"
)

func (e *Engine) sendGift(ctx context.Context, c call, op SendGift) (outcome, error) {
	meta := models.Metadata{}
	if op.Message != "" {
		meta["message"] = op.Message
	}
	return e.pay(ctx, c, payment{
		txType:   domain.TxGift,
		from:     op.FromWalletID,
		to:       op.ToWalletID,
		amount:   op.Amount,
		feeRate:  decimal.Zero,
		metadata: meta,
	})
}

// sendTip deducts the platform tip fee from the gross amount.
func (e *Engine) sendTip(ctx context.Context, c call, op SendTip) (outcome, error) {
	meta := models.Metadata{"fee_rate": e.policy.TipFeeRate.String()}
	if op.ContentID != "" {
		meta["content_id"] = op.ContentID
	}
	return e.pay(ctx, c, payment{
		txType:   domain.TxTip,
		from:     op.FromWalletID,
		to:       op.ToWalletID,
		amount:   op.Amount,
		feeRate:  e.policy.TipFeeRate,
		metadata: meta,
	})
}

// Donations never carry a fee.
func (e *Engine) sendDonation(ctx context.Context, c call, op SendDonation) (outcome, error) {
	meta := models.Metadata{}
	if op.Message != "" {
		meta["message"] = op.Message
	}
	return e.pay(ctx, c, payment{
		txType:   domain.TxDonation,
		from:     op.FromWalletID,
		to:       op.ToWalletID,
		amount:   op.Amount,
		feeRate:  decimal.Zero,
		metadata: meta,
	})
}
