package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
)

func (e *Engine) createAirdropCampaign(ctx context.Context, c call, op CreateAirdropCampaign) (outcome, error) {
	perClaim, err := positiveAmount("amount_per_claim", op.AmountPerClaim)
	if err != nil {
		return outcome{}, err
	}
	total, err := positiveAmount("total_amount", op.TotalAmount)
	if err != nil {
		return outcome{}, err
	}
	if perClaim > total {
		return outcome{}, domain.Errorf(domain.ErrValidation, "amount_per_claim exceeds total_amount")
	}
	if op.EndsAt != nil && !op.EndsAt.After(e.now()) {
		return outcome{}, domain.Errorf(domain.ErrValidation, "ends_at must be in the future")
	}
	if err := e.requirePrivilege(ctx, c, string(op.Currency)); err != nil {
		return outcome{}, err
	}

	d := draft{
		txType:   domain.TxAirdropReserve,
		amount:   total,
		currency: op.Currency,
		metadata: models.Metadata{
			"name":             op.Name,
			"amount_per_claim": domain.MicrosToDecimal(perClaim).String(),
		},
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		treasury, err := treasuryWallet(ctx, q, op.Currency)
		if err != nil {
			return outcome{}, err
		}
		now := e.now()
		camp := models.AirdropCampaign{
			ID:             uuid.New(),
			Name:           op.Name,
			TreasuryWallet: treasury.ID,
			Currency:       op.Currency,
			AmountPerClaim: perClaim,
			TotalReserved:  total,
			Remaining:      total,
			Status:         domain.AirdropActive,
			CreatedBy:      c.actor,
			EndsAt:         op.EndsAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		rec := withRecord(d, camp.ID)
		rec.from = &treasury.ID
		tx, err := e.post(ctx, q, c, rec, shift(treasury.ID, domain.BucketAvailable, domain.BucketLocked, total)...)
		if err != nil {
			return outcome{}, err
		}
		if err := q.InsertAirdropCampaign(ctx, camp); err != nil {
			return outcome{}, err
		}
		if err := e.audit.Write(ctx, q, "airdrop_campaign", camp.ID, &c.actor, "airdrop_campaign_created", "", string(domain.AirdropActive), map[string]any{
			"total_amount":     total,
			"amount_per_claim": perClaim,
		}); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: camp.ID}, nil
	})
}

func (e *Engine) GetAirdropCampaign(ctx context.Context, id uuid.UUID) (models.AirdropCampaign, error) {
	camp, err := e.store.Queries().GetAirdropCampaign(ctx, id)
	if err != nil {
		return models.AirdropCampaign{}, notFoundOrInfra(err, "airdrop campaign", id)
	}
	return camp, nil
}

func claimable(camp models.AirdropCampaign, now time.Time) error {
	if camp.Status != domain.AirdropActive {
		return domain.Errorf(domain.ErrInvalidState, "airdrop campaign %s is %s", camp.ID, camp.Status)
	}
	if camp.EndsAt != nil && !now.Before(*camp.EndsAt) {
		return domain.Errorf(domain.ErrInvalidState, "airdrop campaign %s has ended", camp.ID)
	}
	return nil
}

// drawDown pays one claim to each recipient out of the campaign reserve and
// updates camp in place. When the reserve can no longer cover a claim the
// campaign is exhausted and the leftover goes back to the treasury's
// available balance.
func drawDown(camp *models.AirdropCampaign, recipients []uuid.UUID) []posting {
	total := camp.AmountPerClaim * int64(len(recipients))
	postings := make([]posting, 0, len(recipients)+3)
	for _, id := range recipients {
		postings = append(postings, credit(id, camp.AmountPerClaim))
	}
	postings = append(postings, posting{wallet: camp.TreasuryWallet, bucket: domain.BucketLocked, delta: -total})
	camp.Remaining -= total
	if camp.Remaining < camp.AmountPerClaim {
		camp.Status = domain.AirdropExhausted
		if camp.Remaining > 0 {
			postings = append(postings, shift(camp.TreasuryWallet, domain.BucketLocked, domain.BucketAvailable, camp.Remaining)...)
			camp.Remaining = 0
		}
	}
	return postings
}

func (e *Engine) campaignDraft(ctx context.Context, txType domain.TxType, id uuid.UUID) (draft, error) {
	camp, err := e.store.Queries().GetAirdropCampaign(ctx, id)
	if err != nil {
		return draft{}, notFound(err, "airdrop campaign", id)
	}
	return withRecord(draft{
		txType:   txType,
		from:     &camp.TreasuryWallet,
		amount:   camp.AmountPerClaim,
		currency: camp.Currency,
	}, camp.ID), nil
}

func (e *Engine) saveCampaign(ctx context.Context, q repository.Querier, c call, camp models.AirdropCampaign, prev domain.AirdropStatus) error {
	rows, err := q.UpdateAirdropCampaign(ctx, camp)
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "update airdrop campaign"); err != nil {
		return err
	}
	if camp.Status == prev {
		return nil
	}
	return e.audit.Write(ctx, q, "airdrop_campaign", camp.ID, &c.actor, "airdrop_campaign_status_changed", string(prev), string(camp.Status), nil)
}

// claimAirdrop pays one claim per campaign and user.
func (e *Engine) claimAirdrop(ctx context.Context, c call, op ClaimAirdrop) (outcome, error) {
	d, err := e.campaignDraft(ctx, domain.TxAirdropClaim, op.CampaignID)
	if err != nil {
		return outcome{}, err
	}
	d.to = &op.WalletID
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		camp, err := q.GetAirdropCampaignForUpdate(ctx, op.CampaignID)
		if err != nil {
			return outcome{}, notFound(err, "airdrop campaign", op.CampaignID)
		}
		w, err := getWallet(ctx, q, op.WalletID)
		if err != nil {
			return outcome{}, err
		}
		if err := e.requireOwner(ctx, c, w); err != nil {
			return outcome{}, err
		}
		if w.Currency != camp.Currency {
			return outcome{}, domain.Errorf(domain.ErrValidation, "campaign pays %s, wallet holds %s", camp.Currency, w.Currency)
		}
		now := e.now()
		if err := claimable(camp, now); err != nil {
			return outcome{}, err
		}
		if claimed, err := hasClaimed(ctx, q, camp.ID, w.UserID); err != nil {
			return outcome{}, err
		} else if claimed {
			return outcome{}, domain.Errorf(domain.ErrInvalidState, "airdrop %s already claimed", camp.ID)
		}

		prev := camp.Status
		tx, err := e.post(ctx, q, c, d, drawDown(&camp, []uuid.UUID{w.ID})...)
		if err != nil {
			return outcome{}, err
		}
		inserted, err := q.InsertAirdropClaim(ctx, models.AirdropClaim{
			CampaignID:    camp.ID,
			UserID:        w.UserID,
			WalletID:      w.ID,
			Amount:        camp.AmountPerClaim,
			TransactionID: tx.ID,
			CreatedAt:     now,
		})
		if err != nil {
			return outcome{}, err
		}
		if !inserted {
			return outcome{}, domain.Errorf(domain.ErrConcurrencyConflict, "airdrop %s claimed concurrently", camp.ID)
		}
		camp.UpdatedAt = now
		if err := e.saveCampaign(ctx, q, c, camp, prev); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: camp.ID}, nil
	})
}

func hasClaimed(ctx context.Context, q repository.Querier, campaignID, userID uuid.UUID) (bool, error) {
	_, err := q.GetAirdropClaim(ctx, campaignID, userID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// distributeAirdrop credits many wallets in one transaction. Recipients that
// cannot receive (unknown, wrong currency, frozen, already claimed, or past
// the reserve) are skipped and reported instead of failing the batch.
func (e *Engine) distributeAirdrop(ctx context.Context, c call, op DistributeAirdrop) (outcome, error) {
	if err := e.requirePrivilege(ctx, c, op.CampaignID.String()); err != nil {
		return outcome{}, err
	}
	d, err := e.campaignDraft(ctx, domain.TxAirdropDistribute, op.CampaignID)
	if err != nil {
		return outcome{}, err
	}
	return e.run(ctx, c, d, func(q repository.Querier) (outcome, error) {
		camp, err := q.GetAirdropCampaignForUpdate(ctx, op.CampaignID)
		if err != nil {
			return outcome{}, notFound(err, "airdrop campaign", op.CampaignID)
		}
		now := e.now()
		if err := claimable(camp, now); err != nil {
			return outcome{}, err
		}

		var (
			eligible []models.Wallet
			skipped  []SkippedRecipient
			seen     = make(map[uuid.UUID]struct{}, len(op.WalletIDs))
		)
		skip := func(id uuid.UUID, reason string) {
			skipped = append(skipped, SkippedRecipient{WalletID: id, Reason: reason})
		}
		for _, id := range op.WalletIDs {
			if _, dup := seen[id]; dup {
				skip(id, "duplicate recipient")
				continue
			}
			seen[id] = struct{}{}

			w, err := q.GetWallet(ctx, id)
			if errors.Is(err, repository.ErrNoRows) {
				skip(id, "wallet not found")
				continue
			}
			if err != nil {
				return outcome{}, err
			}
			switch {
			case w.Currency != camp.Currency:
				skip(id, "currency mismatch")
				continue
			case w.Status == domain.WalletFrozen:
				skip(id, "wallet frozen")
				continue
			}
			claimed, err := hasClaimed(ctx, q, camp.ID, w.UserID)
			if err != nil {
				return outcome{}, err
			}
			if claimed {
				skip(id, "already claimed")
				continue
			}
			if int64(len(eligible)+1)*camp.AmountPerClaim > camp.Remaining {
				skip(id, "campaign exhausted")
				continue
			}
			eligible = append(eligible, w)
		}
		if len(eligible) == 0 {
			return outcome{}, domain.Errorf(domain.ErrInvalidState, "no eligible recipients: %s", describeSkipped(skipped))
		}

		ids := make([]uuid.UUID, 0, len(eligible))
		for _, w := range eligible {
			ids = append(ids, w.ID)
		}
		prev := camp.Status
		postings := drawDown(&camp, ids)

		rec := d
		rec.amount = camp.AmountPerClaim * int64(len(ids))
		rec.metadata = rec.metadata.Clone()
		rec.metadata["recipients"] = len(ids)
		rec.metadata["skipped"] = len(skipped)
		tx, err := e.post(ctx, q, c, rec, postings...)
		if err != nil {
			return outcome{}, err
		}
		for _, w := range eligible {
			inserted, err := q.InsertAirdropClaim(ctx, models.AirdropClaim{
				CampaignID:    camp.ID,
				UserID:        w.UserID,
				WalletID:      w.ID,
				Amount:        camp.AmountPerClaim,
				TransactionID: tx.ID,
				CreatedAt:     now,
			})
			if err != nil {
				return outcome{}, err
			}
			if !inserted {
				return outcome{}, domain.Errorf(domain.ErrConcurrencyConflict, "airdrop %s claimed concurrently by %s", camp.ID, w.UserID)
			}
		}
		camp.UpdatedAt = now
		if err := e.saveCampaign(ctx, q, c, camp, prev); err != nil {
			return outcome{}, err
		}
		return outcome{txID: tx.ID, record: camp.ID, skipped: skipped}, nil
	})
}

func describeSkipped(skipped []SkippedRecipient) string {
	parts := make([]string, 0, len(skipped))
	for _, s := range skipped {
		parts = append(parts, fmt.Sprintf("%s (%s)", s.WalletID, s.Reason))
	}
	return strings.Join(parts, ", ")
}
