package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/repository"
)

// MemoryBackend keeps idempotency records in process. It backs the API when
// the ledger runs on the in-memory store.
type MemoryBackend struct {
	mu   sync.Mutex
	rows map[string]repository.IdempotencyKey
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rows: make(map[string]repository.IdempotencyKey)}
}

func (m *MemoryBackend) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[key]
	if !ok {
		return repository.IdempotencyKey{}, repository.ErrNoRows
	}
	return row, nil
}

func (m *MemoryBackend) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.rows[arg.IdempotencyKey]; taken {
		return repository.IdempotencyKey{}, repository.ErrNoRows
	}
	now := time.Now().UTC()
	row := repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		InProgress:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.rows[arg.IdempotencyKey] = row
	return row, nil
}

func (m *MemoryBackend) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[arg.IdempotencyKey]
	if !ok || row.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, repository.ErrNoRows
	}
	row.ResponseStatus = arg.ResponseStatus
	row.ResponseBody = append([]byte(nil), arg.ResponseBody...)
	row.ContentType = arg.ContentType
	row.InProgress = false
	row.UpdatedAt = time.Now().UTC()
	m.rows[arg.IdempotencyKey] = row
	return row, nil
}

func (m *MemoryBackend) ReleaseIdempotencyKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[key]; ok && row.InProgress {
		delete(m.rows, key)
	}
	return nil
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*repository.Queries)(nil)
)
