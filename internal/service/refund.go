package service

import (
	"context"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	refundableTypes = []domain.TxType{
		domain.TxTransfer,
		domain.TxContentPurchase,
		domain.TxSubscriptionCharge,
		domain.TxSubscriptionUpgrade,
		domain.TxGift,
		domain.TxTip,
		domain.TxDonation,
	}
	chargebackTypes   = append([]domain.TxType{domain.TxDepositFiat}, refundableTypes...)
	subscriptionTypes = []domain.TxType{domain.TxSubscriptionCharge, domain.TxSubscriptionUpgrade}
)

// reversal undoes all or part of a COMPLETED transaction and marks it REVERSED.
type reversal struct {
	txType   domain.TxType
	original uuid.UUID
	// amount zero means the whole original amount.
	amount  int64
	reason  string
	allowed []domain.TxType
}

func (e *Engine) processFullRefund(ctx context.Context, c call, op ProcessFullRefund) (outcome, error) {
	return e.reverse(ctx, c, reversal{
		txType:   domain.TxRefundFull,
		original: op.OriginalTransactionID,
		reason:   op.Reason,
		allowed:  refundableTypes,
	})
}

func (e *Engine) processPartialRefund(ctx context.Context, c call, op ProcessPartialRefund) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	return e.reverse(ctx, c, reversal{
		txType:   domain.TxRefundPartial,
		original: op.OriginalTransactionID,
		amount:   amount,
		reason:   op.Reason,
		allowed:  refundableTypes,
	})
}

func (e *Engine) handleChargeback(ctx context.Context, c call, op HandleChargeback) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	return e.reverse(ctx, c, reversal{
		txType:   domain.TxChargeback,
		original: op.OriginalTransactionID,
		amount:   amount,
		reason:   op.Reason,
		allowed:  chargebackTypes,
	})
}

func (e *Engine) subscriptionRefund(ctx context.Context, c call, op SubscriptionRefund) (outcome, error) {
	amount, err := optionalAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	return e.reverse(ctx, c, reversal{
		txType:   domain.TxSubscriptionRefund,
		original: op.OriginalTransactionID,
		amount:   amount,
		reason:   op.Reason,
		allowed:  subscriptionTypes,
	})
}

func (e *Engine) reverse(ctx context.Context, c call, r reversal) (outcome, error) {
	if err := e.requirePrivilege(ctx, c, r.original.String()); err != nil {
		return outcome{}, err
	}
	orig, err := e.store.Queries().GetTransaction(ctx, r.original)
	if err != nil {
		return outcome{}, notFound(err, "transaction", r.original)
	}
	if !containsType(r.allowed, orig.Type) {
		return outcome{}, domain.Errorf(domain.ErrValidation, "%s transactions cannot be reversed by %s", orig.Type, c.kind)
	}
	amount := r.amount
	if amount == 0 {
		amount = orig.Amount
	}
	if amount > orig.Amount {
		return outcome{}, domain.Errorf(domain.ErrValidation, "amount %s exceeds original %s",
			domain.MicrosToDecimal(amount).String(), domain.MicrosToDecimal(orig.Amount).String())
	}

	meta := models.Metadata{"original_transaction_id": orig.ID.String()}
	if r.reason != "" {
		meta["reason"] = r.reason
	}
	d := draft{
		txType:   r.txType,
		from:     orig.ToWalletID,
		to:       orig.FromWalletID,
		amount:   amount,
		currency: orig.Currency,
		metadata: meta,
		override: true,
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		current, err := q.GetTransactionForUpdate(ctx, orig.ID)
		if err != nil {
			return outcome{}, notFound(err, "transaction", orig.ID)
		}
		if current.Status != domain.TxStatusCompleted {
			return outcome{}, domain.Errorf(domain.ErrInvalidState, "transaction %s is %s", orig.ID, current.Status)
		}

		postings, err := reversalPostings(ctx, q, current, amount)
		if err != nil {
			return outcome{}, err
		}
		tx, err := e.post(ctx, q, c, d, postings...)
		if err != nil {
			return outcome{}, err
		}
		if err := transitionTransactionState(ctx, q, e.audit, current.ID, domain.TxStatusReversed, &c.actor, "transaction_reversed", map[string]any{
			"reversal_transaction_id": tx.ID.String(),
			"amount":                  amount,
		}, e.now()); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID}, nil
	})
}

// reversalPostings returns amount to the payer. The payee gives back its
// proportional share of the net amount and the treasury returns the rest of
// the fee. Transactions without a payer (deposits) are simply debited.
func reversalPostings(ctx context.Context, q repository.Querier, orig models.Transaction, amount int64) ([]posting, error) {
	if orig.ToWalletID == nil {
		return nil, domain.Errorf(domain.ErrInvalidState, "transaction %s has no payee", orig.ID)
	}
	payee := *orig.ToWalletID
	if orig.FromWalletID == nil {
		return []posting{debit(payee, amount)}, nil
	}

	net := orig.Amount - orig.Fee
	payeeShare := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(net)).
		Div(decimal.NewFromInt(orig.Amount)).
		IntPart()
	feeShare := amount - payeeShare

	postings := []posting{credit(*orig.FromWalletID, amount), debit(payee, payeeShare)}
	if feeShare > 0 {
		treasury, err := treasuryWallet(ctx, q, orig.Currency)
		if err != nil {
			return nil, err
		}
		postings = append(postings, debit(treasury.ID, feeShare))
	}
	return postings, nil
}

func containsType(types []domain.TxType, t domain.TxType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
