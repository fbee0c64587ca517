package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
)

var transactionTransitions = map[domain.TxStatus]map[domain.TxStatus]struct{}{
	domain.TxStatusPending: {
		domain.TxStatusCompleted: {},
		domain.TxStatusFailed:    {},
	},
	domain.TxStatusCompleted: {
		domain.TxStatusReversed: {},
	},
	domain.TxStatusFailed:   {},
	domain.TxStatusReversed: {},
}

func canTransition(current, next domain.TxStatus) bool {
	nextStates, ok := transactionTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func transitionTransactionState(ctx context.Context, q repository.Querier, audit *AuditService, transactionID uuid.UUID, next domain.TxStatus, actorID *uuid.UUID, action string, metadata map[string]any, now time.Time) error {
	current, err := q.GetTransactionForUpdate(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return domain.Errorf(domain.ErrNotFound, "transaction %s", transactionID)
		}
		return fmt.Errorf("get current transaction state: %w", err)
	}

	if current.Status == next {
		return nil
	}
	if !canTransition(current.Status, next) {
		return domain.Errorf(domain.ErrInvalidState, "transaction %s cannot move from %s to %s", transactionID, current.Status, next)
	}

	rows, err := q.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
		ID:        transactionID,
		Status:    next,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}
	if err := requireExactlyOne(rows, "update transaction state"); err != nil {
		return err
	}

	return audit.Write(ctx, q, "transaction", transactionID, actorID, action, string(current.Status), string(next), metadata)
}
