package service

import (
	"context"
	"errors"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// convertCEToJOY swaps reward points for JY at the configured CE-per-JY
// price. Both legs go through the treasury wallets of the two currencies.
func (e *Engine) convertCEToJOY(ctx context.Context, c call, op ConvertCEToJOY) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	if !e.policy.CEPerJY.IsPositive() {
		return outcome{}, domain.Errorf(domain.ErrInvalidState, "CE to JY price is not configured")
	}
	output := domain.NewMoney(amount, domain.CurrencyCE).DivideBy(domain.CurrencyJY, e.policy.CEPerJY)
	if output.Amount <= 0 {
		return outcome{}, domain.Errorf(domain.ErrValidation, "amount is too small to convert")
	}

	d := draft{
		txType:   domain.TxConvertCEToJY,
		from:     &op.FromWalletID,
		amount:   amount,
		currency: domain.CurrencyCE,
		metadata: models.Metadata{
			"output_amount":   domain.MicrosToDecimal(output.Amount).String(),
			"output_currency": string(domain.CurrencyJY),
			"ce_per_jy":       e.policy.CEPerJY.String(),
		},
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		from, err := getWallet(ctx, q, op.FromWalletID)
		if err != nil {
			return outcome{}, err
		}
		if err := e.requireOwner(ctx, c, from); err != nil {
			return outcome{}, err
		}
		if from.Currency != domain.CurrencyCE {
			return outcome{}, domain.Errorf(domain.ErrValidation, "source wallet holds %s, not CE", from.Currency)
		}
		to, err := e.joyWallet(ctx, q, from, op.ToWalletID)
		if err != nil {
			return outcome{}, err
		}
		ceTreasury, err := treasuryWallet(ctx, q, domain.CurrencyCE)
		if err != nil {
			return outcome{}, err
		}
		jyTreasury, err := treasuryWallet(ctx, q, domain.CurrencyJY)
		if err != nil {
			return outcome{}, err
		}

		rec := d
		rec.to = &to.ID
		tx, err := e.post(ctx, q, c, rec,
			debit(from.ID, amount),
			credit(ceTreasury.ID, amount),
			debit(jyTreasury.ID, output.Amount),
			credit(to.ID, output.Amount),
		)
		if err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID}, nil
	})
}

// joyWallet resolves the destination JY wallet, defaulting to the owner's own.
func (e *Engine) joyWallet(ctx context.Context, q repository.Querier, from models.Wallet, id uuid.UUID) (models.Wallet, error) {
	var (
		to  models.Wallet
		err error
	)
	if id == uuid.Nil {
		to, err = q.GetWalletByOwner(ctx, from.UserID, domain.CurrencyJY)
		if errors.Is(err, repository.ErrNoRows) {
			return models.Wallet{}, domain.Errorf(domain.ErrNotFound, "user has no JY wallet")
		}
		if err != nil {
			return models.Wallet{}, err
		}
	} else if to, err = getWallet(ctx, q, id); err != nil {
		return models.Wallet{}, err
	}
	if to.Currency != domain.CurrencyJY {
		return models.Wallet{}, domain.Errorf(domain.ErrValidation, "destination wallet holds %s, not JY", to.Currency)
	}
	if to.UserID != from.UserID {
		return models.Wallet{}, domain.Errorf(domain.ErrValidation, "destination wallet belongs to another user")
	}
	return to, nil
}

// offRamp is a JY cash-out to a fiat or crypto symbol. The external leg is
// only recorded; settlement happens outside the ledger.
type offRamp struct {
	walletID uuid.UUID
	amount   string
	target   string
	address  string
	txType   domain.TxType
}

// convertJOYOffRamp quotes the rate before opening the storage transaction,
// so a slow or failing provider never holds wallet locks. A failed quote is
// kept as a FAILED transaction and leaves balances untouched.
func (e *Engine) convertJOYOffRamp(ctx context.Context, c call, r offRamp) (outcome, error) {
	amount, err := positiveAmount("amount", r.amount)
	if err != nil {
		return outcome{}, err
	}
	w, err := e.store.Queries().GetWallet(ctx, r.walletID)
	if err != nil {
		return outcome{}, notFound(err, "wallet", r.walletID)
	}
	if err := e.requireOwner(ctx, c, w); err != nil {
		return outcome{}, err
	}
	if w.Currency != domain.CurrencyJY {
		return outcome{}, domain.Errorf(domain.ErrValidation, "wallet holds %s, not JY", w.Currency)
	}

	d := draft{
		txType:   r.txType,
		from:     &w.ID,
		amount:   amount,
		currency: domain.CurrencyJY,
		metadata: models.Metadata{"output_currency": r.target},
	}
	if r.address != "" {
		d.metadata["destination_address"] = r.address
	}

	quote, err := e.quote(ctx, string(domain.CurrencyJY), r.target)
	if err != nil {
		if domain.IsBusiness(err) {
			e.recordFailure(ctx, c, d, err)
		}
		return outcome{}, err
	}
	d.metadata["rate"] = quote.String()
	d.metadata["output_amount"] = domain.MicrosToDecimal(amount).Mul(quote).StringFixed(8)
	d.metadata["settlement"] = "external"

	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		treasury, err := treasuryWallet(ctx, q, domain.CurrencyJY)
		if err != nil {
			return outcome{}, err
		}
		rec := d
		rec.to = &treasury.ID
		tx, err := e.post(ctx, q, c, rec, debit(w.ID, amount), credit(treasury.ID, amount))
		if err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID}, nil
	})
}

func (e *Engine) quote(ctx context.Context, source, target string) (decimal.Decimal, error) {
	if e.rates == nil {
		return decimal.Zero, domain.Errorf(domain.ErrExternalService, "no exchange rate provider configured")
	}
	r, err := e.rates.GetExchangeRate(ctx, source, target)
	if err != nil {
		if domain.IsBusiness(err) {
			return decimal.Zero, err
		}
		return decimal.Zero, domain.Errorf(domain.ErrExternalService, "rate %s/%s: %v", source, target, err)
	}
	if !r.IsPositive() {
		return decimal.Zero, domain.Errorf(domain.ErrExternalService, "no usable rate for %s/%s", source, target)
	}
	return r, nil
}
