package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries is the Postgres implementation of Querier.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- wallets ----

const walletColumns = `id, user_id, currency, available, locked, staked, status, status_reason, whitelist, version, created_at, updated_at`

func scanWallet(row rowScanner) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.Available, &w.Locked, &w.Staked,
		&w.Status, &w.StatusReason, &w.Whitelist, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if w.Whitelist == nil {
		w.Whitelist = []string{}
	}
	return w, err
}

func collectWallets(rows pgx.Rows) ([]models.Wallet, error) {
	defer rows.Close()
	out := []models.Wallet{}
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const insertWallet = `
INSERT INTO wallets (id, user_id, currency, available, locked, staked, status, whitelist, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
ON CONFLICT (user_id, currency) DO NOTHING
RETURNING ` + walletColumns

// InsertWallet creates w unless the owner already has a wallet in that currency,
// in which case the existing wallet is returned with inserted=false.
func (q *Queries) InsertWallet(ctx context.Context, w models.Wallet) (models.Wallet, bool, error) {
	whitelist := w.Whitelist
	if whitelist == nil {
		whitelist = []string{}
	}
	created, err := scanWallet(q.db.QueryRow(ctx, insertWallet,
		w.ID, w.UserID, string(w.Currency), w.Available, w.Locked, w.Staked, string(w.Status), whitelist, w.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Wallet{}, false, err
	}
	existing, err := q.GetWalletByOwner(ctx, w.UserID, w.Currency)
	return existing, false, err
}

func (q *Queries) GetWallet(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

func (q *Queries) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetWalletByOwner(ctx context.Context, userID uuid.UUID, currency domain.Currency) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND currency = $2`, userID, string(currency)))
}

func (q *Queries) ListWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY currency`, userID)
	if err != nil {
		return nil, err
	}
	return collectWallets(rows)
}

func (q *Queries) ListWallets(ctx context.Context, limit, offset int32) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+walletColumns+` FROM wallets ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectWallets(rows)
}

const updateWalletBalances = `
UPDATE wallets
SET available = $2, locked = $3, staked = $4, version = version + 1, updated_at = $6
WHERE id = $1 AND version = $5`

// UpdateWalletBalances writes all three buckets if the stored version still matches.
// Zero rows affected means another writer got there first.
func (q *Queries) UpdateWalletBalances(ctx context.Context, arg UpdateWalletBalancesParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateWalletBalances,
		arg.ID, arg.Available, arg.Locked, arg.Staked, arg.ExpectedVersion, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) UpdateWalletStatus(ctx context.Context, arg UpdateWalletStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET status = $2, status_reason = $3, version = version + 1, updated_at = $4 WHERE id = $1`,
		arg.ID, string(arg.Status), arg.Reason, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) UpdateWalletWhitelist(ctx context.Context, id uuid.UUID, whitelist []string, updatedAt time.Time) (int64, error) {
	if whitelist == nil {
		whitelist = []string{}
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET whitelist = $2, version = version + 1, updated_at = $3 WHERE id = $1`,
		id, whitelist, updatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---- transactions ----

const transactionColumns = `id, type, status, from_wallet_id, to_wallet_id, amount, currency, fee, idempotency_key, external_ref, origin, metadata, metadata_version, created_at, updated_at`

var transactionColumnList = []string{"id", "type", "status", "from_wallet_id", "to_wallet_id", "amount", "currency", "fee",
	"idempotency_key", "external_ref", "origin", "metadata", "metadata_version", "created_at", "updated_at"}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		t        models.Transaction
		origin   []byte
		metadata []byte
	)
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.FromWalletID, &t.ToWalletID, &t.Amount, &t.Currency, &t.Fee,
		&t.IdempotencyKey, &t.ExternalRef, &origin, &metadata, &t.MetadataVersion, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	if len(origin) > 0 {
		var o models.Origin
		if err := json.Unmarshal(origin, &o); err != nil {
			return models.Transaction{}, fmt.Errorf("decode origin of %s: %w", t.ID, err)
		}
		t.Origin = &o
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return models.Transaction{}, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func encodeOrigin(o *models.Origin) ([]byte, error) {
	if o.Empty() {
		return nil, nil
	}
	return json.Marshal(o)
}

func encodeMetadata(m models.Metadata) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

const insertTransaction = `
INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

func (q *Queries) InsertTransaction(ctx context.Context, t models.Transaction) error {
	origin, err := encodeOrigin(t.Origin)
	if err != nil {
		return fmt.Errorf("encode origin: %w", err)
	}
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = q.db.Exec(ctx, insertTransaction,
		t.ID, string(t.Type), string(t.Status), t.FromWalletID, t.ToWalletID, t.Amount, string(t.Currency), t.Fee,
		t.IdempotencyKey, t.ExternalRef, origin, metadata, t.MetadataVersion, t.CreatedAt, t.UpdatedAt)
	return err
}

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

// GetTransactionByIdempotencyKey ignores FAILED attempts; their keys are free for reuse.
func (q *Queries) GetTransactionByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1 AND status <> 'FAILED'`, key))
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`,
		arg.ID, string(arg.Status), arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	query := psql.Select(transactionColumnList...).From("transactions")
	if f.WalletID != nil {
		query = query.Where(sq.Expr("(from_wallet_id = ? OR to_wallet_id = ?)", *f.WalletID, *f.WalletID))
	}
	if len(f.Types) > 0 {
		query = query.Where(sq.Eq{"type": txTypesToStrings(f.Types)})
	}
	if len(f.Statuses) > 0 {
		query = query.Where(sq.Eq{"status": txStatusesToStrings(f.Statuses)})
	}
	if f.Since != nil {
		query = query.Where(sq.Expr("created_at >= ?", *f.Since))
	}
	if f.Until != nil {
		query = query.Where(sq.Expr("created_at < ?", *f.Until))
	}
	if f.Ascending {
		query = query.OrderBy("created_at ASC", "id ASC")
	} else {
		query = query.OrderBy("created_at DESC", "id DESC")
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build transaction query: %w", err)
	}
	rows, err := q.db.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- ledger entries ----

func (q *Queries) InsertLedgerEntry(ctx context.Context, e models.LedgerEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO ledger_entries (id, transaction_id, wallet_id, bucket, delta, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TransactionID, e.WalletID, string(e.Bucket), e.Delta, e.CreatedAt)
	return err
}

const sumLedgerEntries = `
SELECT
    COALESCE(SUM(delta) FILTER (WHERE bucket = 'available'), 0)::BIGINT,
    COALESCE(SUM(delta) FILTER (WHERE bucket = 'locked'), 0)::BIGINT,
    COALESCE(SUM(delta) FILTER (WHERE bucket = 'staked'), 0)::BIGINT
FROM ledger_entries
WHERE wallet_id = $1`

func (q *Queries) SumLedgerEntries(ctx context.Context, walletID uuid.UUID) (models.BucketTotals, error) {
	var t models.BucketTotals
	err := q.db.QueryRow(ctx, sumLedgerEntries, walletID).Scan(&t.Available, &t.Locked, &t.Staked)
	return t, err
}

// ---- staking ----

const stakingColumns = `id, wallet_id, amount, currency, tier, lock_duration_days, apr_rate::TEXT, started_at, unlocks_at, accrual_baseline, rewards_paid, rewards_forfeited, status, unlocked_at, updated_at`

func scanStaking(row rowScanner) (models.StakingRecord, error) {
	var (
		r    models.StakingRecord
		tier *string
	)
	err := row.Scan(&r.ID, &r.WalletID, &r.Amount, &r.Currency, &tier, &r.LockDurationDays, &r.AprRate,
		&r.StartedAt, &r.UnlocksAt, &r.AccrualBaseline, &r.RewardsPaid, &r.RewardsForfeited, &r.Status, &r.UnlockedAt, &r.UpdatedAt)
	if tier != nil {
		t := domain.StakingTier(*tier)
		r.Tier = &t
	}
	return r, err
}

func tierArg(t *domain.StakingTier) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func (q *Queries) InsertStakingRecord(ctx context.Context, r models.StakingRecord) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO staking_records (id, wallet_id, amount, currency, tier, lock_duration_days, apr_rate, started_at, unlocks_at,
    accrual_baseline, rewards_paid, rewards_forfeited, status, unlocked_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.WalletID, r.Amount, string(r.Currency), tierArg(r.Tier), r.LockDurationDays, r.AprRate, r.StartedAt, r.UnlocksAt,
		r.AccrualBaseline, r.RewardsPaid, r.RewardsForfeited, string(r.Status), r.UnlockedAt, r.UpdatedAt)
	return err
}

func (q *Queries) GetStakingRecord(ctx context.Context, id uuid.UUID) (models.StakingRecord, error) {
	return scanStaking(q.db.QueryRow(ctx, `SELECT `+stakingColumns+` FROM staking_records WHERE id = $1`, id))
}

func (q *Queries) GetStakingRecordForUpdate(ctx context.Context, id uuid.UUID) (models.StakingRecord, error) {
	return scanStaking(q.db.QueryRow(ctx, `SELECT `+stakingColumns+` FROM staking_records WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) UpdateStakingRecord(ctx context.Context, r models.StakingRecord) (int64, error) {
	tag, err := q.db.Exec(ctx, `
UPDATE staking_records
SET accrual_baseline = $2, rewards_paid = $3, rewards_forfeited = $4, status = $5, unlocked_at = $6, updated_at = $7
WHERE id = $1`,
		r.ID, r.AccrualBaseline, r.RewardsPaid, r.RewardsForfeited, string(r.Status), r.UnlockedAt, r.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListStakingRecordsByWallet(ctx context.Context, walletID uuid.UUID) ([]models.StakingRecord, error) {
	rows, err := q.db.Query(ctx, `SELECT `+stakingColumns+` FROM staking_records WHERE wallet_id = $1 ORDER BY started_at`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.StakingRecord{}
	for rows.Next() {
		r, err := scanStaking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- escrow ----

const escrowColumns = `id, buyer_wallet_id, seller_wallet_id, mediator_id, amount, currency, status, dispute_reason, resolution, created_at, updated_at`

func scanEscrow(row rowScanner) (models.EscrowRecord, error) {
	var (
		e          models.EscrowRecord
		resolution []byte
	)
	if err := row.Scan(&e.ID, &e.BuyerWalletID, &e.SellerWalletID, &e.MediatorID, &e.Amount, &e.Currency, &e.Status,
		&e.DisputeReason, &resolution, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return models.EscrowRecord{}, err
	}
	if len(resolution) > 0 {
		var res models.EscrowResolution
		if err := json.Unmarshal(resolution, &res); err != nil {
			return models.EscrowRecord{}, fmt.Errorf("decode escrow resolution: %w", err)
		}
		e.Resolution = &res
	}
	return e, nil
}

func encodeResolution(r *models.EscrowResolution) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func (q *Queries) InsertEscrow(ctx context.Context, e models.EscrowRecord) error {
	resolution, err := encodeResolution(e.Resolution)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
INSERT INTO escrow_records (`+escrowColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.BuyerWalletID, e.SellerWalletID, e.MediatorID, e.Amount, string(e.Currency), string(e.Status),
		e.DisputeReason, resolution, e.CreatedAt, e.UpdatedAt)
	return err
}

func (q *Queries) GetEscrow(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error) {
	return scanEscrow(q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_records WHERE id = $1`, id))
}

func (q *Queries) GetEscrowForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowRecord, error) {
	return scanEscrow(q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_records WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) UpdateEscrow(ctx context.Context, e models.EscrowRecord) (int64, error) {
	resolution, err := encodeResolution(e.Resolution)
	if err != nil {
		return 0, err
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE escrow_records SET status = $2, dispute_reason = $3, resolution = $4, updated_at = $5 WHERE id = $1`,
		e.ID, string(e.Status), e.DisputeReason, resolution, e.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---- withdrawals ----

const withdrawalColumns = `id, user_id, wallet_id, amount, currency, destination_address, status, hold_transaction_id, requested_at, reviewed_at, admin_id, notes`

func scanWithdrawal(row rowScanner) (models.WithdrawalRequest, error) {
	var r models.WithdrawalRequest
	err := row.Scan(&r.ID, &r.UserID, &r.WalletID, &r.Amount, &r.Currency, &r.DestinationAddress, &r.Status,
		&r.HoldTransactionID, &r.RequestedAt, &r.ReviewedAt, &r.AdminID, &r.Notes)
	return r, err
}

func (q *Queries) InsertWithdrawalRequest(ctx context.Context, r models.WithdrawalRequest) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO withdrawal_requests (`+withdrawalColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.UserID, r.WalletID, r.Amount, string(r.Currency), r.DestinationAddress, string(r.Status),
		r.HoldTransactionID, r.RequestedAt, r.ReviewedAt, r.AdminID, r.Notes)
	return err
}

func (q *Queries) GetWithdrawalRequest(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
}

func (q *Queries) GetWithdrawalRequestForUpdate(ctx context.Context, id uuid.UUID) (models.WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) UpdateWithdrawalRequest(ctx context.Context, r models.WithdrawalRequest) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE withdrawal_requests SET status = $2, reviewed_at = $3, admin_id = $4, notes = $5 WHERE id = $1`,
		r.ID, string(r.Status), r.ReviewedAt, r.AdminID, r.Notes)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListWithdrawalRequests(ctx context.Context, status domain.WithdrawalStatus, limit, offset int32) ([]models.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+withdrawalColumns+` FROM withdrawal_requests
WHERE ($1 = '' OR status = $1)
ORDER BY requested_at, id
LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.WithdrawalRequest{}
	for rows.Next() {
		r, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- airdrops ----

const campaignColumns = `id, name, treasury_wallet_id, currency, amount_per_claim, total_reserved, remaining, status, created_by, ends_at, created_at, updated_at`

func scanCampaign(row rowScanner) (models.AirdropCampaign, error) {
	var c models.AirdropCampaign
	err := row.Scan(&c.ID, &c.Name, &c.TreasuryWallet, &c.Currency, &c.AmountPerClaim, &c.TotalReserved, &c.Remaining,
		&c.Status, &c.CreatedBy, &c.EndsAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (q *Queries) InsertAirdropCampaign(ctx context.Context, c models.AirdropCampaign) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO airdrop_campaigns (`+campaignColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Name, c.TreasuryWallet, string(c.Currency), c.AmountPerClaim, c.TotalReserved, c.Remaining,
		string(c.Status), c.CreatedBy, c.EndsAt, c.CreatedAt, c.UpdatedAt)
	return err
}

func (q *Queries) GetAirdropCampaign(ctx context.Context, id uuid.UUID) (models.AirdropCampaign, error) {
	return scanCampaign(q.db.QueryRow(ctx, `SELECT `+campaignColumns+` FROM airdrop_campaigns WHERE id = $1`, id))
}

func (q *Queries) GetAirdropCampaignForUpdate(ctx context.Context, id uuid.UUID) (models.AirdropCampaign, error) {
	return scanCampaign(q.db.QueryRow(ctx, `SELECT `+campaignColumns+` FROM airdrop_campaigns WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) UpdateAirdropCampaign(ctx context.Context, c models.AirdropCampaign) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE airdrop_campaigns SET remaining = $2, status = $3, updated_at = $4 WHERE id = $1`,
		c.ID, c.Remaining, string(c.Status), c.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertAirdropClaim returns false when the user already claimed from the campaign.
func (q *Queries) InsertAirdropClaim(ctx context.Context, c models.AirdropClaim) (bool, error) {
	tag, err := q.db.Exec(ctx, `
INSERT INTO airdrop_claims (campaign_id, user_id, wallet_id, amount, transaction_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (campaign_id, user_id) DO NOTHING`,
		c.CampaignID, c.UserID, c.WalletID, c.Amount, c.TransactionID, c.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) GetAirdropClaim(ctx context.Context, campaignID, userID uuid.UUID) (models.AirdropClaim, error) {
	var c models.AirdropClaim
	err := q.db.QueryRow(ctx, `
SELECT campaign_id, user_id, wallet_id, amount, transaction_id, created_at
FROM airdrop_claims WHERE campaign_id = $1 AND user_id = $2`, campaignID, userID).
		Scan(&c.CampaignID, &c.UserID, &c.WalletID, &c.Amount, &c.TransactionID, &c.CreatedAt)
	return c, err
}

// ---- fraud alerts ----

var fraudAlertColumnList = []string{"id", "wallet_id", "pattern_type", "severity", "evidence", "wallet_frozen",
	"created_at", "resolved_at", "resolved_by", "resolution_note"}

func scanFraudAlert(row rowScanner) (models.FraudAlert, error) {
	var (
		a        models.FraudAlert
		evidence []byte
	)
	if err := row.Scan(&a.ID, &a.WalletID, &a.PatternType, &a.Severity, &evidence, &a.WalletFrozen,
		&a.CreatedAt, &a.ResolvedAt, &a.ResolvedBy, &a.ResolutionNote); err != nil {
		return models.FraudAlert{}, err
	}
	if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
		return models.FraudAlert{}, fmt.Errorf("decode fraud evidence: %w", err)
	}
	return a, nil
}

func (q *Queries) queryFraudAlerts(ctx context.Context, query sq.SelectBuilder) ([]models.FraudAlert, error) {
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fraud alert query: %w", err)
	}
	rows, err := q.db.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.FraudAlert{}
	for rows.Next() {
		a, err := scanFraudAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) InsertFraudAlert(ctx context.Context, a models.FraudAlert) error {
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return fmt.Errorf("encode fraud evidence: %w", err)
	}
	_, err = q.db.Exec(ctx, `
INSERT INTO fraud_alerts (id, wallet_id, pattern_type, severity, evidence, wallet_frozen, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.WalletID, string(a.PatternType), string(a.Severity), evidence, a.WalletFrozen, a.CreatedAt)
	return err
}

func (q *Queries) GetFraudAlert(ctx context.Context, id uuid.UUID) (models.FraudAlert, error) {
	sqlText, args, err := psql.Select(fraudAlertColumnList...).From("fraud_alerts").Where(sq.Expr("id = ?", id)).ToSql()
	if err != nil {
		return models.FraudAlert{}, err
	}
	return scanFraudAlert(q.db.QueryRow(ctx, sqlText, args...))
}

func (q *Queries) ListOpenFraudAlerts(ctx context.Context, walletID uuid.UUID, pattern domain.FraudPattern) ([]models.FraudAlert, error) {
	return q.queryFraudAlerts(ctx, psql.Select(fraudAlertColumnList...).From("fraud_alerts").
		Where(sq.Expr("wallet_id = ?", walletID)).
		Where(sq.Eq{"pattern_type": string(pattern)}).
		Where("resolved_at IS NULL").
		OrderBy("created_at"))
}

func (q *Queries) ListFraudAlerts(ctx context.Context, f FraudAlertFilter) ([]models.FraudAlert, error) {
	query := psql.Select(fraudAlertColumnList...).From("fraud_alerts")
	if f.WalletID != nil {
		query = query.Where(sq.Expr("wallet_id = ?", *f.WalletID))
	}
	if f.UnresolvedOnly {
		query = query.Where("resolved_at IS NULL")
	}
	query = query.OrderBy("created_at DESC", "id")
	if f.Limit > 0 {
		query = query.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		query = query.Offset(uint64(f.Offset))
	}
	return q.queryFraudAlerts(ctx, query)
}

// ResolveFraudAlert only touches open alerts, so a second resolve affects zero rows.
func (q *Queries) ResolveFraudAlert(ctx context.Context, arg ResolveFraudAlertParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
UPDATE fraud_alerts SET resolved_at = $2, resolved_by = $3, resolution_note = $4
WHERE id = $1 AND resolved_at IS NULL`,
		arg.ID, arg.ResolvedAt, arg.ResolvedBy, arg.Note)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---- audit ----

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata).Scan(&id)
	return id, err
}

var _ Querier = (*Queries)(nil)
