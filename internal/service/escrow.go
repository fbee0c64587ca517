package service

import (
	"context"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
)

func (e *Engine) GetEscrow(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error) {
	rec, err := e.store.Queries().GetEscrow(ctx, id)
	if err != nil {
		return models.EscrowRecord{}, notFoundOrInfra(err, "escrow", id)
	}
	return rec, nil
}

// createEscrow moves the buyer's funds into the locked bucket until the
// escrow is released or resolved.
func (e *Engine) createEscrow(ctx context.Context, c call, op CreateEscrow) (outcome, error) {
	amount, err := positiveAmount("amount", op.Amount)
	if err != nil {
		return outcome{}, err
	}
	if op.BuyerWalletID == op.SellerWalletID {
		return outcome{}, domain.Errorf(domain.ErrValidation, "buyer and seller wallet must differ")
	}
	meta := models.Metadata{}
	if op.MediatorID != nil {
		meta["mediator_id"] = op.MediatorID.String()
	}
	d := draft{
		txType:   domain.TxEscrowHold,
		from:     &op.BuyerWalletID,
		to:       &op.SellerWalletID,
		amount:   amount,
		metadata: meta,
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		buyer, seller, err := getPair(ctx, q, op.BuyerWalletID, op.SellerWalletID)
		if err != nil {
			return outcome{}, err
		}
		if err := e.requireOwner(ctx, c, buyer); err != nil {
			return outcome{}, err
		}
		if buyer.Currency != seller.Currency {
			return outcome{}, domain.Errorf(domain.ErrValidation, "currency mismatch: %s to %s", buyer.Currency, seller.Currency)
		}

		now := e.now()
		rec := models.EscrowRecord{
			ID:             uuid.New(),
			BuyerWalletID:  buyer.ID,
			SellerWalletID: seller.ID,
			MediatorID:     op.MediatorID,
			Amount:         amount,
			Currency:       buyer.Currency,
			Status:         domain.EscrowHeld,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		hold := withRecord(d, rec.ID)
		hold.currency = buyer.Currency
		tx, err := e.post(ctx, q, c, hold, shift(buyer.ID, domain.BucketAvailable, domain.BucketLocked, amount)...)
		if err != nil {
			return outcome{}, err
		}
		if err := q.InsertEscrow(ctx, rec); err != nil {
			return outcome{}, err
		}
		if err := e.audit.Write(ctx, q, "escrow", rec.ID, &c.actor, "escrow_created", "", string(domain.EscrowHeld), map[string]any{
			"amount":      amount,
			"transaction": tx.ID.String(),
		}); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: rec.ID}, nil
	})
}

func (e *Engine) escrowDraft(ctx context.Context, txType domain.TxType, id uuid.UUID) (draft, error) {
	rec, err := e.store.Queries().GetEscrow(ctx, id)
	if err != nil {
		return draft{}, notFound(err, "escrow", id)
	}
	return withRecord(draft{
		txType:   txType,
		from:     &rec.BuyerWalletID,
		to:       &rec.SellerWalletID,
		amount:   rec.Amount,
		currency: rec.Currency,
	}, rec.ID), nil
}

func (e *Engine) lockEscrow(ctx context.Context, q repository.Querier, id uuid.UUID) (models.EscrowRecord, error) {
	rec, err := q.GetEscrowForUpdate(ctx, id)
	if err != nil {
		return models.EscrowRecord{}, notFound(err, "escrow", id)
	}
	return rec, nil
}

func isMediator(rec models.EscrowRecord, actor uuid.UUID) bool {
	return rec.MediatorID != nil && *rec.MediatorID == actor
}

// ownsWallet reports whether actor owns the wallet; admins pass too.
func (e *Engine) ownsWallet(ctx context.Context, q repository.Querier, c call, walletID uuid.UUID) (bool, error) {
	w, err := getWallet(ctx, q, walletID)
	if err != nil {
		return false, err
	}
	return w.UserID == c.actor || e.isAdmin(ctx, c), nil
}

func (e *Engine) saveEscrow(ctx context.Context, q repository.Querier, c call, rec models.EscrowRecord, prev domain.EscrowStatus, meta map[string]any) error {
	rows, err := q.UpdateEscrow(ctx, rec)
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "update escrow"); err != nil {
		return err
	}
	return e.audit.Write(ctx, q, "escrow", rec.ID, &c.actor, "escrow_status_changed", string(prev), string(rec.Status), meta)
}

// releaseEscrow pays the held amount to the seller. The buyer, the mediator
// or an admin may release.
func (e *Engine) releaseEscrow(ctx context.Context, c call, op ReleaseEscrow) (outcome, error) {
	d, err := e.escrowDraft(ctx, domain.TxEscrowRelease, op.EscrowID)
	if err != nil {
		return outcome{}, err
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		rec, err := e.lockEscrow(ctx, q, op.EscrowID)
		if err != nil {
			return outcome{}, err
		}
		if !isMediator(rec, c.actor) {
			ok, err := e.ownsWallet(ctx, q, c, rec.BuyerWalletID)
			if err != nil {
				return outcome{}, err
			}
			if !ok {
				return outcome{}, domain.Errorf(domain.ErrUnauthorized, "only the buyer or mediator may release escrow %s", rec.ID)
			}
		}
		if rec.Status != domain.EscrowHeld {
			return outcome{}, domain.Errorf(domain.ErrInvalidState, "escrow %s is %s", rec.ID, rec.Status)
		}

		tx, err := e.post(ctx, q, c, d,
			posting{wallet: rec.BuyerWalletID, bucket: domain.BucketLocked, delta: -rec.Amount},
			credit(rec.SellerWalletID, rec.Amount),
		)
		if err != nil {
			return outcome{}, err
		}
		prev := rec.Status
		rec.Status = domain.EscrowReleased
		rec.UpdatedAt = e.now()
		if err := e.saveEscrow(ctx, q, c, rec, prev, nil); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: rec.ID}, nil
	})
}

func (e *Engine) handleEscrowDispute(ctx context.Context, c call, op HandleEscrowDispute) (outcome, error) {
	if op.Resolution != nil {
		return e.resolveEscrow(ctx, c, op)
	}
	d, err := e.escrowDraft(ctx, domain.TxEscrowDispute, op.EscrowID)
	if err != nil {
		return outcome{}, err
	}
	d.amount = 0
	d.metadata["reason"] = op.Reason
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		rec, err := e.lockEscrow(ctx, q, op.EscrowID)
		if err != nil {
			return outcome{}, err
		}
		if !isMediator(rec, c.actor) {
			buyer, err := e.ownsWallet(ctx, q, c, rec.BuyerWalletID)
			if err != nil {
				return outcome{}, err
			}
			seller, err := e.ownsWallet(ctx, q, c, rec.SellerWalletID)
			if err != nil {
				return outcome{}, err
			}
			if !buyer && !seller {
				return outcome{}, domain.Errorf(domain.ErrUnauthorized, "only escrow parties may dispute escrow %s", rec.ID)
			}
		}
		if rec.Status != domain.EscrowHeld {
			return outcome{}, domain.Errorf(domain.ErrInvalidState, "escrow %s is %s", rec.ID, rec.Status)
		}

		tx, err := e.post(ctx, q, c, d)
		if err != nil {
			return outcome{}, err
		}
		prev := rec.Status
		rec.Status = domain.EscrowDisputed
		rec.DisputeReason = ptr(op.Reason)
		rec.UpdatedAt = e.now()
		if err := e.saveEscrow(ctx, q, c, rec, prev, map[string]any{"reason": op.Reason}); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: rec.ID}, nil
	})
}

// resolveEscrow splits the held amount between buyer and seller. Only the
// mediator or an admin may resolve, and the funds move even if either
// wallet has been frozen since.
func (e *Engine) resolveEscrow(ctx context.Context, c call, op HandleEscrowDispute) (outcome, error) {
	buyerShare, err := nonNegativeAmount("resolution.buyer_amount", op.Resolution.BuyerAmount)
	if err != nil {
		return outcome{}, err
	}
	sellerShare, err := nonNegativeAmount("resolution.seller_amount", op.Resolution.SellerAmount)
	if err != nil {
		return outcome{}, err
	}
	d, err := e.escrowDraft(ctx, domain.TxEscrowResolve, op.EscrowID)
	if err != nil {
		return outcome{}, err
	}
	d.override = true
	d.metadata["reason"] = op.Reason
	d.metadata["buyer_amount"] = domain.MicrosToDecimal(buyerShare).String()
	d.metadata["seller_amount"] = domain.MicrosToDecimal(sellerShare).String()
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		rec, err := e.lockEscrow(ctx, q, op.EscrowID)
		if err != nil {
			return outcome{}, err
		}
		if !isMediator(rec, c.actor) && !e.isAdmin(ctx, c) {
			return outcome{}, domain.Errorf(domain.ErrUnauthorized, "only the mediator may resolve escrow %s", rec.ID)
		}
		if rec.Status != domain.EscrowHeld && rec.Status != domain.EscrowDisputed {
			return outcome{}, domain.Errorf(domain.ErrInvalidState, "escrow %s is %s", rec.ID, rec.Status)
		}
		if buyerShare+sellerShare != rec.Amount {
			return outcome{}, domain.Errorf(domain.ErrValidation, "resolution must split exactly %s", domain.MicrosToDecimal(rec.Amount).String())
		}

		tx, err := e.post(ctx, q, c, d,
			posting{wallet: rec.BuyerWalletID, bucket: domain.BucketLocked, delta: -rec.Amount},
			credit(rec.BuyerWalletID, buyerShare),
			credit(rec.SellerWalletID, sellerShare),
		)
		if err != nil {
			return outcome{}, err
		}
		prev := rec.Status
		rec.Status = domain.EscrowResolved
		if rec.DisputeReason == nil {
			rec.DisputeReason = ptr(op.Reason)
		}
		rec.Resolution = &models.EscrowResolution{
			BuyerAmount:  buyerShare,
			SellerAmount: sellerShare,
			Note:         op.Resolution.Note,
		}
		rec.UpdatedAt = e.now()
		if err := e.saveEscrow(ctx, q, c, rec, prev, map[string]any{
			"buyer_amount":  buyerShare,
			"seller_amount": sellerShare,
		}); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: rec.ID}, nil
	})
}

func nonNegativeAmount(field, raw string) (int64, error) {
	v, err := domain.ParseAmount(raw)
	if err != nil {
		return 0, domain.Errorf(domain.ErrValidation, "%s: %v", field, err)
	}
	if v < 0 {
		return 0, domain.Errorf(domain.ErrValidation, "%s must not be negative", field)
	}
	return v, nil
}
