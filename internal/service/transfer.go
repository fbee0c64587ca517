package service

import (
	"context"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/shopspring/decimal"
)

func (e *Engine) createTransfer(ctx context.Context, c call, op CreateTransfer) (outcome, error) {
	meta := models.Metadata{}
	if op.Memo != "" {
		meta["memo"] = op.Memo
	}
	return e.pay(ctx, c, payment{
		txType:   domain.TxTransfer,
		from:     op.FromWalletID,
		to:       op.ToWalletID,
		amount:   op.Amount,
		feeRate:  decimal.Zero,
		metadata: meta,
	})
}
