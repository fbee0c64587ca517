package service

import (
	"context"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
)

// withRecord tags a draft with the id of the record it creates or settles.
func withRecord(d draft, id uuid.UUID) draft {
	d.metadata = d.metadata.Clone()
	d.metadata["record_id"] = id.String()
	return d
}

// checkWithdrawalPolicy applies the minimum, whitelist, weekday window and cooldown rules.
func (e *Engine) checkWithdrawalPolicy(ctx context.Context, q repository.Querier, w models.Wallet, amount int64, address string, now time.Time) error {
	if w.Status == domain.WalletFrozen {
		return domain.Errorf(domain.ErrWalletFrozen, "wallet %s", w.ID)
	}
	if amount < e.policy.WithdrawalMinAmount {
		return domain.Errorf(domain.ErrBelowMinimum, "minimum withdrawal is %s %s",
			domain.MicrosToDecimal(e.policy.WithdrawalMinAmount).String(), w.Currency)
	}
	if !w.IsWhitelisted(address) {
		return domain.Errorf(domain.ErrAddressNotWhitelisted, "address %q", address)
	}
	if !e.policy.withdrawalDayAllowed(now) {
		return domain.Errorf(domain.ErrCooldownActive, "withdrawals are not processed on %s", now.UTC().Weekday())
	}
	since := now.Add(-e.policy.WithdrawalCooldown)
	recent, err := q.ListTransactions(ctx, repository.TransactionFilter{
		WalletID: &w.ID,
		Types:    []domain.TxType{domain.TxWithdrawal},
		Statuses: []domain.TxStatus{domain.TxStatusCompleted},
		Since:    &since,
		Limit:    1,
	})
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		next := recent[0].CreatedAt.Add(e.policy.WithdrawalCooldown)
		return domain.Errorf(domain.ErrCooldownActive, "next withdrawal allowed after %s", next.UTC().Format(time.RFC3339))
	}
	return nil
}

func (e *Engine) createWithdrawalRequest(ctx context.Context, c call, op CreateWithdrawalRequest) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	d := draft{
		txType:   domain.TxWithdrawalHold,
		from:     &op.WalletID,
		amount:   amount,
		metadata: models.Metadata{"destination_address": op.DestinationAddress},
	}
	var req models.WithdrawalRequest
	out, err := e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		w, err := loadWallet(ctx, q, op.WalletID)
		if err != nil {
			return outcome{}, err
		}
		if err := e.requireOwner(ctx, c, w); err != nil {
			return outcome{}, err
		}
		now := e.now()
		if err := e.checkWithdrawalPolicy(ctx, q, w, amount, op.DestinationAddress, now); err != nil {
			return outcome{}, err
		}

		reqID := uuid.New()
		hold := withRecord(d, reqID)
		hold.currency = w.Currency
		tx, err := e.post(ctx, q, c, hold, shift(w.ID, domain.BucketAvailable, domain.BucketLocked, amount)...)
		if err != nil {
			return outcome{}, err
		}

		req = models.WithdrawalRequest{
			ID:                 reqID,
			UserID:             w.UserID,
			WalletID:           w.ID,
			Amount:             amount,
			Currency:           w.Currency,
			DestinationAddress: op.DestinationAddress,
			Status:             domain.WithdrawalPending,
			HoldTransactionID:  tx.ID,
			RequestedAt:        now,
		}
		if err := q.InsertWithdrawalRequest(ctx, req); err != nil {
			return outcome{}, err
		}
		if err := e.audit.Write(ctx, q, "withdrawal_request", reqID, &c.actor, "withdrawal_requested", "", string(domain.WithdrawalPending), map[string]any{
			"amount":              amount,
			"destination_address": op.DestinationAddress,
		}); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: reqID}, nil
	})
	if err != nil {
		return outcome{}, err
	}
	observability.IncrementWithdrawalReview("requested")
	e.sink.Record(ctx, notify.EventWithdrawalRequest, withdrawalDetails(req))
	return out, nil
}

// pendingRequest reads the request outside the transaction so a failed
// attempt can still be recorded against the right wallet.
func (e *Engine) pendingRequest(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	req, err := e.store.Queries().GetWithdrawalRequest(ctx, id)
	if err != nil {
		return models.WithdrawalRequest{}, notFound(err, "withdrawal request", id)
	}
	return req, nil
}

func (e *Engine) approveWithdrawalRequest(ctx context.Context, c call, op ApproveWithdrawalRequest) (outcome, error) {
	if err := e.requirePrivilege(ctx, c, op.RequestID.String()); err != nil {
		return outcome{}, err
	}
	req, err := e.pendingRequest(ctx, op.RequestID)
	if err != nil {
		return outcome{}, err
	}
	d := withRecord(draft{
		txType:      domain.TxWithdrawal,
		from:        &req.WalletID,
		amount:      req.Amount,
		currency:    req.Currency,
		externalRef: op.TxHash,
		metadata: models.Metadata{
			"destination_address": req.DestinationAddress,
			"hold_transaction_id": req.HoldTransactionID.String(),
		},
	}, req.ID)

	out, err := e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		var err error
		req, err = e.reviewable(ctx, q, op.RequestID)
		if err != nil {
			return outcome{}, err
		}
		tx, err := e.post(ctx, q, c, d, posting{wallet: req.WalletID, bucket: domain.BucketLocked, delta: -req.Amount})
		if err != nil {
			return outcome{}, err
		}
		if err := e.decide(ctx, q, c, &req, domain.WithdrawalApproved, ""); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: req.ID}, nil
	})
	if err != nil {
		return outcome{}, err
	}
	observability.IncrementWithdrawalReview("approved")
	details := withdrawalDetails(req)
	if op.TxHash != "" {
		details["tx_hash"] = op.TxHash
	}
	e.sink.Record(ctx, notify.EventWithdrawalApproved, details)
	return out, nil
}

func (e *Engine) rejectWithdrawalRequest(ctx context.Context, c call, op RejectWithdrawalRequest) (outcome, error) {
	if err := e.requirePrivilege(ctx, c, op.RequestID.String()); err != nil {
		return outcome{}, err
	}
	req, err := e.pendingRequest(ctx, op.RequestID)
	if err != nil {
		return outcome{}, err
	}
	d := withRecord(draft{
		txType:   domain.TxWithdrawalRelease,
		to:       &req.WalletID,
		amount:   req.Amount,
		currency: req.Currency,
		metadata: models.Metadata{"reason": op.Reason},
		override: true,
	}, req.ID)

	out, err := e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		var err error
		req, err = e.reviewable(ctx, q, op.RequestID)
		if err != nil {
			return outcome{}, err
		}
		tx, err := e.post(ctx, q, c, d, shift(req.WalletID, domain.BucketLocked, domain.BucketAvailable, req.Amount)...)
		if err != nil {
			return outcome{}, err
		}
		if err := e.decide(ctx, q, c, &req, domain.WithdrawalRejected, op.Reason); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: req.ID}, nil
	})
	if err != nil {
		return outcome{}, err
	}
	observability.IncrementWithdrawalReview("rejected")
	details := withdrawalDetails(req)
	details["reason"] = op.Reason
	e.sink.Record(ctx, notify.EventWithdrawalRejected, details)
	return out, nil
}

func (e *Engine) reviewable(ctx context.Context, q repository.Querier, id uuid.UUID) (models.WithdrawalRequest, error) {
	req, err := q.GetWithdrawalRequestForUpdate(ctx, id)
	if err != nil {
		return models.WithdrawalRequest{}, notFound(err, "withdrawal request", id)
	}
	if req.Status != domain.WithdrawalPending {
		return models.WithdrawalRequest{}, domain.Errorf(domain.ErrInvalidState, "withdrawal request %s is %s", id, req.Status)
	}
	return req, nil
}

func (e *Engine) decide(ctx context.Context, q repository.Querier, c call, req *models.WithdrawalRequest, status domain.WithdrawalStatus, notes string) error {
	now := e.now()
	prev := req.Status
	req.Status = status
	req.ReviewedAt = &now
	req.AdminID = ptr(c.actor)
	req.Notes = textParam(notes)
	rows, err := q.UpdateWithdrawalRequest(ctx, *req)
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "update withdrawal request"); err != nil {
		return err
	}
	meta := map[string]any{}
	if notes != "" {
		meta["notes"] = notes
	}
	return e.audit.Write(ctx, q, "withdrawal_request", req.ID, &c.actor, "withdrawal_reviewed", string(prev), string(status), meta)
}

// PendingWithdrawals lists requests awaiting review, oldest first.
func (e *Engine) PendingWithdrawals(ctx context.Context, limit, offset int32) ([]models.WithdrawalRequest, error) {
	reqs, err := e.store.Queries().ListWithdrawalRequests(ctx, domain.WithdrawalPending, limit, offset)
	if err != nil {
		return nil, infraError("list withdrawal requests", err)
	}
	return reqs, nil
}

// GetWithdrawalRequest returns a single request by id.
func (e *Engine) GetWithdrawalRequest(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	req, err := e.store.Queries().GetWithdrawalRequest(ctx, id)
	if err != nil {
		return models.WithdrawalRequest{}, notFoundOrInfra(err, "withdrawal request", id)
	}
	return req, nil
}

func (e *Engine) updateWhitelist(ctx context.Context, c call, op UpdateWhitelist) (outcome, error) {
	d := draft{
		txType:   domain.TxWhitelistUpdate,
		to:       &op.WalletID,
		metadata: models.Metadata{"address": op.Address, "action": op.Action},
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		w, err := loadWallet(ctx, q, op.WalletID)
		if err != nil {
			return outcome{}, err
		}
		if err := e.requireOwner(ctx, c, w); err != nil {
			return outcome{}, err
		}
		if w.Status == domain.WalletFrozen {
			return outcome{}, domain.Errorf(domain.ErrWalletFrozen, "wallet %s", w.ID)
		}

		next, err := editWhitelist(w.Whitelist, op.Address, op.Action)
		if err != nil {
			return outcome{}, err
		}
		rows, err := q.UpdateWalletWhitelist(ctx, w.ID, next, e.now())
		if err != nil {
			return outcome{}, err
		}
		if err := requireExactlyOne(rows, "update wallet whitelist"); err != nil {
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

func editWhitelist(current []string, address, action string) ([]string, error) {
	next := make([]string, 0, len(current)+1)
	found := false
	for _, a := range current {
		if a == address {
			found = true
			if action == "remove" {
				continue
			}
		}
		next = append(next, a)
	}
	switch action {
	case "add":
		if !found {
			next = append(next, address)
		}
	case "remove":
		if !found {
			return nil, domain.Errorf(domain.ErrNotFound, "address %q is not whitelisted", address)
		}
	default:
		return nil, domain.Errorf(domain.ErrValidation, "unknown whitelist action %q", action)
	}
	return next, nil
}

func withdrawalDetails(req models.WithdrawalRequest) map[string]any {
	return map[string]any{
		"request_id":          req.ID.String(),
		"wallet_id":           req.WalletID.String(),
		"user_id":             req.UserID.String(),
		"amount":              domain.MicrosToDecimal(req.Amount).String(),
		"currency":            string(req.Currency),
		"destination_address": req.DestinationAddress,
	}
}
