package service

import (
	"context"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
)

// depositCrypto credits an on-chain deposit observed by the settlement
// watcher. The chain transaction hash is the idempotency key.
func (e *Engine) depositCrypto(ctx context.Context, c call, op DepositCrypto) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	if err := e.requirePrivilege(ctx, c, op.WalletID.String()); err != nil {
		return outcome{}, err
	}
	d := draft{
		txType:      domain.TxDepositCrypto,
		to:          &op.WalletID,
		amount:      amount,
		externalRef: op.TxHash,
		metadata:    models.Metadata{"tx_hash": op.TxHash},
	}
	if op.Network != "" {
		d.metadata["network"] = op.Network
	}
	return e.deposit(ctx, c, d)
}

func (e *Engine) depositFiat(ctx context.Context, c call, op DepositFiat) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	if op.FiatAmount != "" {
		if _, err := positiveAmount("fiat_amount", op.FiatAmount); err != nil {
			return outcome{}, err
		}
	}
	if err := e.requirePrivilege(ctx, c, op.WalletID.String()); err != nil {
		return outcome{}, err
	}
	d := draft{
		txType:      domain.TxDepositFiat,
		to:          &op.WalletID,
		amount:      amount,
		externalRef: op.ProviderReference,
		metadata:    models.Metadata{"provider_reference": op.ProviderReference},
	}
	if op.FiatCurrency != "" {
		d.metadata["fiat_currency"] = op.FiatCurrency
		d.metadata["fiat_amount"] = op.FiatAmount
	}
	return e.deposit(ctx, c, d)
}

func (e *Engine) deposit(ctx context.Context, c call, d draft) (outcome, error) {
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		w, err := loadWallet(ctx, q, *d.to)
		if err != nil {
			return outcome{}, err
		}
		d.currency = w.Currency
		tx, err := e.post(ctx, q, c, d, credit(w.ID, d.amount))
		if err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID}, nil
	})
}

// creditReward pays reward points out of the treasury.
func (e *Engine) creditReward(ctx context.Context, c call, op CreditReward) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	if err := e.requirePrivilege(ctx, c, op.WalletID.String()); err != nil {
		return outcome{}, err
	}
	d := draft{
		txType:   domain.TxRewardCredit,
		to:       &op.WalletID,
		amount:   amount,
		metadata: models.Metadata{"reason": op.Reason},
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		w, err := getWallet(ctx, q, op.WalletID)
		if err != nil {
			return outcome{}, err
		}
		treasury, err := treasuryWallet(ctx, q, w.Currency)
		if err != nil {
			return outcome{}, err
		}
		d.currency = w.Currency
		d.from = &treasury.ID
		tx, err := e.post(ctx, q, c, d, debit(treasury.ID, amount), credit(w.ID, amount))
		if err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID}, nil
	})
}
