package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInjectedCommitFailure is returned by MemStore.RunInTx after FailNextCommit.
var ErrInjectedCommitFailure = errors.New("injected commit failure")

// MemStore is an in-process Querier with the same transaction contract as Store:
// RunInTx works on a private copy of the state that replaces the shared state only
// when fn returns nil. Transactions are fully serialized.
type MemStore struct {
	mu         sync.Mutex
	state      *memState
	failCommit int
}

func NewMemStore() *MemStore {
	return &MemStore{state: newMemState()}
}

// Queries returns a query set that reads and writes the committed state directly.
func (s *MemStore) Queries() Querier {
	return &memQueries{store: s}
}

func (s *MemStore) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&memQueries{st: working}); err != nil {
		return err
	}
	if s.failCommit > 0 {
		s.failCommit--
		return fmt.Errorf("commit transaction: %w", ErrInjectedCommitFailure)
	}
	s.state = working
	return nil
}

// FailNextCommit makes the next RunInTx discard its work and return an error
// after fn has succeeded.
func (s *MemStore) FailNextCommit() {
	s.mu.Lock()
	s.failCommit++
	s.mu.Unlock()
}

// AuditLogs returns a copy of every audit row written so far.
func (s *MemStore) AuditLogs() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLog(nil), s.state.audit...)
}

// LedgerEntries returns a copy of every ledger entry written so far.
func (s *MemStore) LedgerEntries() []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LedgerEntry(nil), s.state.entries...)
}

type claimKey struct {
	campaign uuid.UUID
	user     uuid.UUID
}

type memState struct {
	wallets     map[uuid.UUID]models.Wallet
	txs         map[uuid.UUID]models.Transaction
	entries     []models.LedgerEntry
	staking     map[uuid.UUID]models.StakingRecord
	escrows     map[uuid.UUID]models.EscrowRecord
	withdrawals map[uuid.UUID]models.WithdrawalRequest
	campaigns   map[uuid.UUID]models.AirdropCampaign
	claims      map[claimKey]models.AirdropClaim
	alerts      map[uuid.UUID]models.FraudAlert
	audit       []models.AuditLog
}

func newMemState() *memState {
	return &memState{
		wallets:     map[uuid.UUID]models.Wallet{},
		txs:         map[uuid.UUID]models.Transaction{},
		staking:     map[uuid.UUID]models.StakingRecord{},
		escrows:     map[uuid.UUID]models.EscrowRecord{},
		withdrawals: map[uuid.UUID]models.WithdrawalRequest{},
		campaigns:   map[uuid.UUID]models.AirdropCampaign{},
		claims:      map[claimKey]models.AirdropClaim{},
		alerts:      map[uuid.UUID]models.FraudAlert{},
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// clone copies the containers. Stored values are never mutated in place, so
// sharing them between the copies is safe.
func (m *memState) clone() *memState {
	return &memState{
		wallets:     copyMap(m.wallets),
		txs:         copyMap(m.txs),
		entries:     append([]models.LedgerEntry(nil), m.entries...),
		staking:     copyMap(m.staking),
		escrows:     copyMap(m.escrows),
		withdrawals: copyMap(m.withdrawals),
		campaigns:   copyMap(m.campaigns),
		claims:      copyMap(m.claims),
		alerts:      copyMap(m.alerts),
		audit:       append([]models.AuditLog(nil), m.audit...),
	}
}

type memQueries struct {
	store *MemStore
	st    *memState
}

func (q *memQueries) with(fn func(st *memState)) {
	if q.st != nil {
		fn(q.st)
		return
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	fn(q.store.state)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func copyWallet(w models.Wallet) models.Wallet {
	w.Whitelist = append([]string{}, w.Whitelist...)
	return w
}

// roundTrip mimics the JSONB column so both stores hand back identical metadata shapes.
func roundTrip(m models.Metadata) (models.Metadata, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	var out models.Metadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

func copyTransaction(t models.Transaction) models.Transaction {
	if t.Metadata != nil {
		t.Metadata = t.Metadata.Clone()
	}
	if t.Origin != nil {
		o := *t.Origin
		t.Origin = &o
	}
	return t
}

// ---- wallets ----

func (q *memQueries) InsertWallet(_ context.Context, w models.Wallet) (out models.Wallet, inserted bool, err error) {
	q.with(func(st *memState) {
		for _, existing := range st.wallets {
			if existing.UserID == w.UserID && existing.Currency == w.Currency {
				out = copyWallet(existing)
				return
			}
		}
		if _, ok := st.wallets[w.ID]; ok {
			err = uniqueViolation("wallets_pkey")
			return
		}
		w.Version = 0
		w.UpdatedAt = w.CreatedAt
		if w.Whitelist == nil {
			w.Whitelist = []string{}
		}
		st.wallets[w.ID] = copyWallet(w)
		out, inserted = copyWallet(w), true
	})
	return out, inserted, err
}

func (q *memQueries) GetWallet(_ context.Context, id uuid.UUID) (out models.Wallet, err error) {
	q.with(func(st *memState) {
		w, ok := st.wallets[id]
		if !ok {
			err = ErrNoRows
			return
		}
		out = copyWallet(w)
	})
	return out, err
}

func (q *memQueries) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	return q.GetWallet(ctx, id)
}

func (q *memQueries) GetWalletByOwner(_ context.Context, userID uuid.UUID, currency domain.Currency) (out models.Wallet, err error) {
	err = ErrNoRows
	q.with(func(st *memState) {
		for _, w := range st.wallets {
			if w.UserID == userID && w.Currency == currency {
				out, err = copyWallet(w), nil
				return
			}
		}
	})
	return out, err
}

func sortedWallets(st *memState, keep func(models.Wallet) bool) []models.Wallet {
	out := []models.Wallet{}
	for _, w := range st.wallets {
		if keep(w) {
			out = append(out, copyWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func (q *memQueries) ListWalletsByUser(_ context.Context, userID uuid.UUID) (out []models.Wallet, err error) {
	q.with(func(st *memState) {
		out = sortedWallets(st, func(w models.Wallet) bool { return w.UserID == userID })
		sort.SliceStable(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	})
	return out, nil
}

func (q *memQueries) ListWallets(_ context.Context, limit, offset int32) (out []models.Wallet, err error) {
	q.with(func(st *memState) {
		all := sortedWallets(st, func(models.Wallet) bool { return true })
		out = page(all, int(limit), int(offset))
	})
	return out, nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func (q *memQueries) UpdateWalletBalances(_ context.Context, arg UpdateWalletBalancesParams) (n int64, err error) {
	q.with(func(st *memState) {
		w, ok := st.wallets[arg.ID]
		if !ok || w.Version != arg.ExpectedVersion {
			return
		}
		if arg.Available < 0 || arg.Locked < 0 || arg.Staked < 0 {
			err = &pgconn.PgError{Code: "23514", ConstraintName: "wallets_balance_check", Message: "new row violates check constraint"}
			return
		}
		w.Available, w.Locked, w.Staked = arg.Available, arg.Locked, arg.Staked
		w.Version++
		w.UpdatedAt = arg.UpdatedAt
		st.wallets[arg.ID] = w
		n = 1
	})
	return n, err
}

func (q *memQueries) UpdateWalletStatus(_ context.Context, arg UpdateWalletStatusParams) (n int64, err error) {
	q.with(func(st *memState) {
		w, ok := st.wallets[arg.ID]
		if !ok {
			return
		}
		w.Status = arg.Status
		w.StatusReason = arg.Reason
		w.Version++
		w.UpdatedAt = arg.UpdatedAt
		st.wallets[arg.ID] = w
		n = 1
	})
	return n, nil
}

func (q *memQueries) UpdateWalletWhitelist(_ context.Context, id uuid.UUID, whitelist []string, updatedAt time.Time) (n int64, err error) {
	q.with(func(st *memState) {
		w, ok := st.wallets[id]
		if !ok {
			return
		}
		w.Whitelist = append([]string{}, whitelist...)
		w.Version++
		w.UpdatedAt = updatedAt
		st.wallets[id] = w
		n = 1
	})
	return n, nil
}

// ---- transactions ----

func (q *memQueries) InsertTransaction(_ context.Context, t models.Transaction) (err error) {
	t.Metadata, err = roundTrip(t.Metadata)
	if err != nil {
		return err
	}
	if t.Origin.Empty() {
		t.Origin = nil
	}
	q.with(func(st *memState) {
		if _, ok := st.txs[t.ID]; ok {
			err = uniqueViolation("transactions_pkey")
			return
		}
		if t.IdempotencyKey != nil && t.Status != domain.TxStatusFailed {
			for _, other := range st.txs {
				if other.IdempotencyKey != nil && *other.IdempotencyKey == *t.IdempotencyKey && other.Status != domain.TxStatusFailed {
					err = uniqueViolation("transactions_idempotency_key_uq")
					return
				}
			}
		}
		st.txs[t.ID] = copyTransaction(t)
	})
	return err
}

func (q *memQueries) GetTransaction(_ context.Context, id uuid.UUID) (out models.Transaction, err error) {
	q.with(func(st *memState) {
		t, ok := st.txs[id]
		if !ok {
			err = ErrNoRows
			return
		}
		out = copyTransaction(t)
	})
	return out, err
}

func (q *memQueries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return q.GetTransaction(ctx, id)
}

func (q *memQueries) GetTransactionByIdempotencyKey(_ context.Context, key string) (out models.Transaction, err error) {
	err = ErrNoRows
	q.with(func(st *memState) {
		for _, t := range st.txs {
			if t.IdempotencyKey != nil && *t.IdempotencyKey == key && t.Status != domain.TxStatusFailed {
				out, err = copyTransaction(t), nil
				return
			}
		}
	})
	return out, err
}

func (q *memQueries) UpdateTransactionStatus(_ context.Context, arg UpdateTransactionStatusParams) (n int64, err error) {
	q.with(func(st *memState) {
		t, ok := st.txs[arg.ID]
		if !ok {
			return
		}
		t.Status = arg.Status
		t.UpdatedAt = arg.UpdatedAt
		st.txs[arg.ID] = t
		n = 1
	})
	return n, nil
}

func containsType(types []domain.TxType, t domain.TxType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []domain.TxStatus, s domain.TxStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

func (q *memQueries) ListTransactions(_ context.Context, f TransactionFilter) (out []models.Transaction, err error) {
	q.with(func(st *memState) {
		all := []models.Transaction{}
		for _, t := range st.txs {
			if f.WalletID != nil && !t.Touches(*f.WalletID) {
				continue
			}
			if len(f.Types) > 0 && !containsType(f.Types, t.Type) {
				continue
			}
			if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
				continue
			}
			if f.Since != nil && t.CreatedAt.Before(*f.Since) {
				continue
			}
			if f.Until != nil && !t.CreatedAt.Before(*f.Until) {
				continue
			}
			all = append(all, copyTransaction(t))
		}
		sort.Slice(all, func(i, j int) bool {
			a, b := all[i], all[j]
			if !f.Ascending {
				a, b = b, a
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return bytes.Compare(a.ID[:], b.ID[:]) < 0
		})
		out = page(all, int(f.Limit), int(f.Offset))
	})
	return out, nil
}

// ---- ledger entries ----

func (q *memQueries) InsertLedgerEntry(_ context.Context, e models.LedgerEntry) error {
	q.with(func(st *memState) {
		st.entries = append(st.entries, e)
	})
	return nil
}

func (q *memQueries) SumLedgerEntries(_ context.Context, walletID uuid.UUID) (out models.BucketTotals, err error) {
	q.with(func(st *memState) {
		for _, e := range st.entries {
			if e.WalletID != walletID {
				continue
			}
			switch e.Bucket {
			case domain.BucketAvailable:
				out.Available += e.Delta
			case domain.BucketLocked:
				out.Locked += e.Delta
			case domain.BucketStaked:
				out.Staked += e.Delta
			}
		}
	})
	return out, nil
}

// ---- staking ----

func (q *memQueries) InsertStakingRecord(_ context.Context, r models.StakingRecord) (err error) {
	q.with(func(st *memState) {
		if _, ok := st.staking[r.ID]; ok {
			err = uniqueViolation("staking_records_pkey")
			return
		}
		st.staking[r.ID] = r
	})
	return err
}

func (q *memQueries) GetStakingRecord(_ context.Context, id uuid.UUID) (out models.StakingRecord, err error) {
	q.with(func(st *memState) {
		r, ok := st.staking[id]
		if !ok {
			err = ErrNoRows
			return
		}
		out = r
	})
	return out, err
}

func (q *memQueries) GetStakingRecordForUpdate(ctx context.Context, id uuid.UUID) (models.StakingRecord, error) {
	return q.GetStakingRecord(ctx, id)
}

func (q *memQueries) UpdateStakingRecord(_ context.Context, r models.StakingRecord) (n int64, err error) {
	q.with(func(st *memState) {
		cur, ok := st.staking[r.ID]
		if !ok {
			return
		}
		cur.AccrualBaseline = r.AccrualBaseline
		cur.RewardsPaid = r.RewardsPaid
		cur.RewardsForfeited = r.RewardsForfeited
		cur.Status = r.Status
		cur.UnlockedAt = r.UnlockedAt
		cur.UpdatedAt = r.UpdatedAt
		st.staking[r.ID] = cur
		n = 1
	})
	return n, nil
}

func (q *memQueries) ListStakingRecordsByWallet(_ context.Context, walletID uuid.UUID) (out []models.StakingRecord, err error) {
	q.with(func(st *memState) {
		out = []models.StakingRecord{}
		for _, r := range st.staking {
			if r.WalletID == walletID {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	})
	return out, nil
}

// ---- escrow ----

func (q *memQueries) InsertEscrow(_ context.Context, e models.EscrowRecord) (err error) {
	q.with(func(st *memState) {
		if _, ok := st.escrows[e.ID]; ok {
			err = uniqueViolation("escrow_records_pkey")
			return
		}
		st.escrows[e.ID] = e
	})
	return err
}

func (q *memQueries) GetEscrow(_ context.Context, id uuid.UUID) (out models.EscrowRecord, err error) {
	q.with(func(st *memState) {
		e, ok := st.escrows[id]
		if !ok {
			err = ErrNoRows
			return
		}
		out = e
	})
	return out, err
}

func (q *memQueries) GetEscrowForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error) {
	return q.GetEscrow(ctx, id)
}

func (q *memQueries) UpdateEscrow(_ context.Context, e models.EscrowRecord) (n int64, err error) {
	q.with(func(st *memState) {
		cur, ok := st.escrows[e.ID]
		if !ok {
			return
		}
		cur.Status = e.Status
		cur.DisputeReason = e.DisputeReason
		cur.Resolution = e.Resolution
		cur.UpdatedAt = e.UpdatedAt
		st.escrows[e.ID] = cur
		n = 1
	})
	return n, nil
}

// ---- withdrawals ----

func (q *memQueries) InsertWithdrawalRequest(_ context.Context, r models.WithdrawalRequest) (err error) {
	q.with(func(st *memState) {
		if _, ok := st.withdrawals[r.ID]; ok {
			err = uniqueViolation("withdrawal_requests_pkey")
			return
		}
		st.withdrawals[r.ID] = r
	})
	return err
}

func (q *memQueries) GetWithdrawalRequest(_ context.Context, id uuid.UUID) (out models.WithdrawalRequest, err error) {
	q.with(func(st *memState) {
		r, ok := st.withdrawals[id]
		if !ok {
			err = ErrNoRows
			return
		}
		out = r
	})
	return out, err
}

func (q *memQueries) GetWithdrawalRequestForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return q.GetWithdrawalRequest(ctx, id)
}

func (q *memQueries) UpdateWithdrawalRequest(_ context.Context, r models.WithdrawalRequest) (n int64, err error) {
	q.with(func(st *memState) {
		cur, ok := st.withdrawals[r.ID]
		if !ok {
			return
		}
		cur.Status = r.Status
		cur.ReviewedAt = r.ReviewedAt
		cur.AdminID = r.AdminID
		cur.Notes = r.Notes
		st.withdrawals[r.ID] = cur
		n = 1
	})
	return n, nil
}

func (q *memQueries) ListWithdrawalRequests(_ context.Context, status domain.WithdrawalStatus, limit, offset int32) (out []models.WithdrawalRequest, err error) {
	q.with(func(st *memState) {
		all := []models.WithdrawalRequest{}
		for _, r := range st.withdrawals {
			if status == "" || r.Status == status {
				all = append(all, r)
			}
		}
		sort.Slice(all, func(i, j int) bool { return all[i].RequestedAt.Before(all[j].RequestedAt) })
		out = page(all, int(limit), int(offset))
	})
	return out, nil
}

// ---- airdrops ----

func (q *memQueries) InsertAirdropCampaign(_ context.Context, c models.AirdropCampaign) (err error) {
	q.with(func(st *memState) {
		if _, ok := st.campaigns[c.ID]; ok {
			err = uniqueViolation("airdrop_campaigns_pkey")
			return
		}
		st.campaigns[c.ID] = c
	})
	return err
}

func (q *memQueries) GetAirdropCampaign(_ context.Context, id uuid.UUID) (out models.AirdropCampaign, err error) {
	q.with(func(st *memState) {
		c, ok := st.campaigns[id]
		if !ok {
			err = ErrNoRows
			return
		}
		out = c
	})
	return out, err
}

func (q *memQueries) GetAirdropCampaignForUpdate(ctx context.Context, id uuid.UUID) (models.AirdropCampaign, error) {
	return q.GetAirdropCampaign(ctx, id)
}

func (q *memQueries) UpdateAirdropCampaign(_ context.Context, c models.AirdropCampaign) (n int64, err error) {
	q.with(func(st *memState) {
		cur, ok := st.campaigns[c.ID]
		if !ok {
			return
		}
		cur.Remaining = c.Remaining
		cur.Status = c.Status
		cur.UpdatedAt = c.UpdatedAt
		st.campaigns[c.ID] = cur
		n = 1
	})
	return n, nil
}

func (q *memQueries) InsertAirdropClaim(_ context.Context, c models.AirdropClaim) (inserted bool, err error) {
	q.with(func(st *memState) {
		k := claimKey{campaign: c.CampaignID, user: c.UserID}
		if _, ok := st.claims[k]; ok {
			return
		}
		st.claims[k] = c
		inserted = true
	})
	return inserted, nil
}

func (q *memQueries) GetAirdropClaim(_ context.Context, campaignID, userID uuid.UUID) (out models.AirdropClaim, err error) {
	q.with(func(st *memState) {
		c, ok := st.claims[claimKey{campaign: campaignID, user: userID}]
		if !ok {
			err = ErrNoRows
			return
		}
		out = c
	})
	return out, err
}

// ---- fraud alerts ----

func sortAlerts(all []models.FraudAlert, newestFirst bool) {
	sort.Slice(all, func(i, j int) bool {
		if newestFirst {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
}

func (q *memQueries) InsertFraudAlert(_ context.Context, a models.FraudAlert) (err error) {
	q.with(func(st *memState) {
		if _, ok := st.alerts[a.ID]; ok {
			err = uniqueViolation("fraud_alerts_pkey")
			return
		}
		a.ResolvedAt, a.ResolvedBy, a.ResolutionNote = nil, nil, nil
		st.alerts[a.ID] = a
	})
	return err
}

func (q *memQueries) GetFraudAlert(_ context.Context, id uuid.UUID) (out models.FraudAlert, err error) {
	q.with(func(st *memState) {
		a, ok := st.alerts[id]
		if !ok {
			err = ErrNoRows
			return
		}
		out = a
	})
	return out, err
}

func (q *memQueries) ListOpenFraudAlerts(_ context.Context, walletID uuid.UUID, pattern domain.FraudPattern) (out []models.FraudAlert, err error) {
	q.with(func(st *memState) {
		out = []models.FraudAlert{}
		for _, a := range st.alerts {
			if a.WalletID == walletID && a.PatternType == pattern && a.ResolvedAt == nil {
				out = append(out, a)
			}
		}
		sortAlerts(out, false)
	})
	return out, nil
}

func (q *memQueries) ListFraudAlerts(_ context.Context, f FraudAlertFilter) (out []models.FraudAlert, err error) {
	q.with(func(st *memState) {
		all := []models.FraudAlert{}
		for _, a := range st.alerts {
			if f.WalletID != nil && a.WalletID != *f.WalletID {
				continue
			}
			if f.UnresolvedOnly && a.ResolvedAt != nil {
				continue
			}
			all = append(all, a)
		}
		sortAlerts(all, true)
		out = page(all, int(f.Limit), int(f.Offset))
	})
	return out, nil
}

func (q *memQueries) ResolveFraudAlert(_ context.Context, arg ResolveFraudAlertParams) (n int64, err error) {
	q.with(func(st *memState) {
		a, ok := st.alerts[arg.ID]
		if !ok || a.ResolvedAt != nil {
			return
		}
		resolvedAt, resolvedBy, note := arg.ResolvedAt, arg.ResolvedBy, arg.Note
		a.ResolvedAt, a.ResolvedBy, a.ResolutionNote = &resolvedAt, &resolvedBy, &note
		st.alerts[arg.ID] = a
		n = 1
	})
	return n, nil
}

// ---- audit ----

func (q *memQueries) InsertAuditLog(_ context.Context, arg InsertAuditLogParams) (id int64, err error) {
	q.with(func(st *memState) {
		id = int64(len(st.audit) + 1)
		st.audit = append(st.audit, models.AuditLog{
			ID:         id,
			EntityType: arg.EntityType,
			EntityID:   arg.EntityID,
			ActorID:    arg.ActorID,
			Action:     arg.Action,
			PrevState:  arg.PrevState,
			NextState:  arg.NextState,
			Metadata:   append([]byte(nil), arg.Metadata...),
			CreatedAt:  time.Now().UTC(),
		})
	})
	return id, nil
}

var _ Querier = (*memQueries)(nil)
