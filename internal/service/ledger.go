package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/permission"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// posting is one signed bucket movement of a transaction.
type posting struct {
	wallet uuid.UUID
	bucket domain.Bucket
	delta  int64
}

func debit(wallet uuid.UUID, amount int64) posting {
	return posting{wallet: wallet, bucket: domain.BucketAvailable, delta: -amount}
}

func credit(wallet uuid.UUID, amount int64) posting {
	return posting{wallet: wallet, bucket: domain.BucketAvailable, delta: amount}
}

// shift moves amount between two buckets of the same wallet.
func shift(wallet uuid.UUID, from, to domain.Bucket, amount int64) []posting {
	return []posting{
		{wallet: wallet, bucket: from, delta: -amount},
		{wallet: wallet, bucket: to, delta: amount},
	}
}

// draft is the transaction row a handler is about to write.
type draft struct {
	txType      domain.TxType
	from, to    *uuid.UUID
	amount      int64
	currency    domain.Currency
	fee         int64
	externalRef string
	metadata    models.Metadata
	// override lets privileged flows move funds on FROZEN or LOCKED wallets.
	override bool
}

func (e *Engine) newTransaction(c call, d draft, status domain.TxStatus) models.Transaction {
	now := e.now()
	meta := d.metadata.Clone()
	meta["operation"] = string(c.kind)
	meta["actor_id"] = c.actor.String()
	tx := models.Transaction{
		ID:              uuid.New(),
		Type:            d.txType,
		Status:          status,
		FromWalletID:    d.from,
		ToWalletID:      d.to,
		Amount:          d.amount,
		Currency:        d.currency,
		Fee:             d.fee,
		Origin:          c.origin,
		Metadata:        meta,
		MetadataVersion: models.MetadataVersion,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if c.key != "" {
		tx.IdempotencyKey = ptr(c.key)
	}
	if d.externalRef != "" {
		tx.ExternalRef = ptr(d.externalRef)
	}
	return tx
}

// post writes d as a COMPLETED transaction together with its balance
// effects. It must be called inside RunInTx.
func (e *Engine) post(ctx context.Context, q repository.Querier, c call, d draft, postings ...posting) (models.Transaction, error) {
	// 1. Lock every touched wallet in the global order
	ids := make([]uuid.UUID, 0, len(postings)+2)
	for _, p := range postings {
		ids = append(ids, p.wallet)
	}
	if d.from != nil {
		ids = append(ids, *d.from)
	}
	if d.to != nil {
		ids = append(ids, *d.to)
	}
	for _, id := range sortedUnique(ids...) {
		if _, err := q.GetWalletForUpdate(ctx, id); err != nil {
			return models.Transaction{}, notFound(err, "wallet", id)
		}
	}

	// 2. Record the attempt
	tx := e.newTransaction(c, d, domain.TxStatusPending)
	if err := q.InsertTransaction(ctx, tx); err != nil {
		return models.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	// 3. Apply balance effects
	if err := e.apply(ctx, q, tx.ID, d.override, postings); err != nil {
		return models.Transaction{}, err
	}

	// 4. Finalize
	if err := transitionTransactionState(ctx, q, e.audit, tx.ID, domain.TxStatusCompleted, &c.actor, "transaction_completed", nil, e.now()); err != nil {
		return models.Transaction{}, err
	}
	tx.Status = domain.TxStatusCompleted
	return tx, nil
}

func (e *Engine) apply(ctx context.Context, q repository.Querier, txID uuid.UUID, override bool, postings []posting) error {
	for _, p := range postings {
		if p.delta == 0 {
			continue
		}
		if _, err := e.wallets.AdjustBalance(ctx, q, AdjustRequest{
			WalletID:      p.wallet,
			TransactionID: txID,
			Bucket:        p.bucket,
			Delta:         p.delta,
			AdminOverride: override,
		}); err != nil {
			return err
		}
	}
	return nil
}

// run executes fn in a single storage transaction. A business failure is
// kept as a FAILED transaction record so the fraud detectors can see it.
func (e *Engine) run(ctx context.Context, c call, d draft, fn func(q repository.Querier) (outcome, error)) (outcome, error) {
	var out outcome
	err := e.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		out, err = fn(q)
		return err
	})
	if err != nil {
		if recordsFailure(err) {
			e.recordFailure(ctx, c, d, err)
		}
		return outcome{}, err
	}
	return out, nil
}

var recordedFailures = []*domain.Error{
	domain.ErrInsufficientFunds,
	domain.ErrWalletFrozen,
	domain.ErrWalletLocked,
	domain.ErrBelowMinimum,
	domain.ErrAddressNotWhitelisted,
	domain.ErrCooldownActive,
	domain.ErrInvalidState,
	domain.ErrExternalService,
}

func recordsFailure(err error) bool {
	for _, s := range recordedFailures {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func (e *Engine) recordFailure(ctx context.Context, c call, d draft, cause error) {
	code := domain.ErrFatalInfrastructure.Code
	if de, ok := domain.AsError(cause); ok {
		code = de.Code
	}
	err := e.store.RunInTx(ctx, func(q repository.Querier) error {
		if d.currency == "" {
			for _, id := range []*uuid.UUID{d.from, d.to} {
				if id == nil {
					continue
				}
				w, err := q.GetWallet(ctx, *id)
				if err != nil {
					return notFound(err, "wallet", *id)
				}
				d.currency = w.Currency
				break
			}
		}
		d.metadata = d.metadata.Clone()
		d.metadata["error_code"] = code
		d.metadata["error"] = cause.Error()
		return q.InsertTransaction(ctx, e.newTransaction(c, d, domain.TxStatusFailed))
	})
	if err != nil {
		zap.L().Warn("record failed transaction",
			zap.String("operation", string(c.kind)),
			zap.String("code", code),
			zap.Error(err))
	}
}

// loadWallet locks and returns a wallet inside the caller's transaction.
func loadWallet(ctx context.Context, q repository.Querier, id uuid.UUID) (models.Wallet, error) {
	w, err := q.GetWalletForUpdate(ctx, id)
	if err != nil {
		return models.Wallet{}, notFound(err, "wallet", id)
	}
	return w, nil
}

// getWallet reads a wallet without locking it. Handlers use it for checks on
// immutable fields; post takes the row locks in the global order.
func getWallet(ctx context.Context, q repository.Querier, id uuid.UUID) (models.Wallet, error) {
	w, err := q.GetWallet(ctx, id)
	if err != nil {
		return models.Wallet{}, notFound(err, "wallet", id)
	}
	return w, nil
}

func getPair(ctx context.Context, q repository.Querier, a, b uuid.UUID) (models.Wallet, models.Wallet, error) {
	wa, err := getWallet(ctx, q, a)
	if err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	wb, err := getWallet(ctx, q, b)
	if err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	return wa, wb, nil
}

// privileged reports whether the actor may run the current operation on resource.
func (e *Engine) privileged(ctx context.Context, c call, resource string) bool {
	return e.gate != nil && e.gate.IsAuthorized(ctx, c.actor, string(c.kind), resource)
}

func (e *Engine) requirePrivilege(ctx context.Context, c call, resource string) error {
	if e.privileged(ctx, c, resource) {
		return nil
	}
	return domain.Errorf(domain.ErrUnauthorized, "%s requires elevated permission", c.kind)
}

// requireOwner passes for the wallet's owner or an actor the gate authorizes for it.
func (e *Engine) requireOwner(ctx context.Context, c call, w models.Wallet) error {
	if w.UserID == c.actor || e.privileged(ctx, c, w.ID.String()) {
		return nil
	}
	return domain.Errorf(domain.ErrUnauthorized, "actor does not own wallet %s", w.ID)
}

func (e *Engine) isAdmin(ctx context.Context, c call) bool {
	return e.privileged(ctx, c, permission.AnyResource)
}

// positiveAmount parses a decimal amount string into micros and rejects zero or negatives.
func positiveAmount(field, raw string) (int64, error) {
	v, err := domain.ParseAmount(raw)
	if err != nil {
		return 0, domain.Errorf(domain.ErrValidation, "%s: %v", field, err)
	}
	if v <= 0 {
		return 0, domain.Errorf(domain.ErrValidation, "%s must be positive", field)
	}
	return v, nil
}

// optionalAmount is positiveAmount for fields that may be empty.
func optionalAmount(field, raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return positiveAmount(field, raw)
}

// payment is a single debit from one user wallet to another, with an optional platform fee.
type payment struct {
	txType   domain.TxType
	from, to uuid.UUID
	amount   string
	feeRate  decimal.Decimal
	metadata models.Metadata
}

// pay moves amount from p.from to p.to; the fee is taken from the gross
// amount and credited to the treasury.
func (e *Engine) pay(ctx context.Context, c call, p payment) (outcome, error) {
	amount, err := positiveAmount("amount", p.amount)
	if err != nil {
		return outcome{}, err
	}
	if p.from == p.to {
		return outcome{}, domain.Errorf(domain.ErrValidation, "source and destination wallet must differ")
	}
	d := draft{txType: p.txType, from: &p.from, to: &p.to, amount: amount, metadata: p.metadata}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		from, to, err := getPair(ctx, q, p.from, p.to)
		if err != nil {
			return outcome{}, err
		}
		if err := e.requireOwner(ctx, c, from); err != nil {
			return outcome{}, err
		}
		if from.Currency != to.Currency {
			return outcome{}, domain.Errorf(domain.ErrValidation, "currency mismatch: %s to %s", from.Currency, to.Currency)
		}

		fee := domain.NewMoney(amount, from.Currency).Fee(p.feeRate)
		postings := []posting{debit(from.ID, amount), credit(to.ID, amount-fee)}
		if fee > 0 {
			treasury, err := treasuryWallet(ctx, q, from.Currency)
			if err != nil {
				return outcome{}, err
			}
			postings = append(postings, credit(treasury.ID, fee))
		}

		tx := d
		tx.currency = from.Currency
		tx.fee = fee
		posted, err := e.post(ctx, q, c, tx, postings...)
		if err != nil {
			return outcome{}, err
		}
		return outcome{txID: posted.ID}, nil
	})
}
