package service

import (
	"context"

	"github.com/cryptomedia/wallet-ledger/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
// Both repository.Store and repository.MemStore satisfy it.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}
