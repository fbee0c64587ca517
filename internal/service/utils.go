package service

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

// notFound maps a missing row to ErrNotFound and leaves other errors untouched.
func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, repository.ErrNoRows) {
		return domain.Errorf(domain.ErrNotFound, "%s %s", what, id)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

// sortedUnique returns ids deduplicated and in ascending byte order, the global lock order.
func sortedUnique(ids ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func ptr[T any](v T) *T {
	return &v
}
