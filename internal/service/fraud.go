package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FraudConfig holds detector thresholds. Amounts are in micros.
type FraudConfig struct {
	Lookback          time.Duration
	VelocityCount     int
	VelocityWindow    time.Duration
	AmountMultiplier  decimal.Decimal
	NewWalletAge      time.Duration
	LargeWithdrawal   int64
	DormantAfter      time.Duration
	RoundTripWindow   time.Duration
	FailedWithdrawals int
	WhitelistWindow   time.Duration
}

func DefaultFraudConfig() FraudConfig {
	return FraudConfig{
		Lookback:          24 * time.Hour,
		VelocityCount:     10,
		VelocityWindow:    5 * time.Minute,
		AmountMultiplier:  decimal.NewFromInt(5),
		NewWalletAge:      24 * time.Hour,
		LargeWithdrawal:   1000 * domain.MicrosPerUnit,
		DormantAfter:      90 * 24 * time.Hour,
		RoundTripWindow:   time.Hour,
		FailedWithdrawals: 3,
		WhitelistWindow:   time.Hour,
	}
}

const (
	// minimum prior withdrawals before the amount detector trusts the average
	minAmountSamples = 3
	historyLimit     = 200
	// a round trip returns at least this share of the original amount
	roundTripShare = "0.9"
)

var transferTypes = []domain.TxType{
	domain.TxTransfer,
	domain.TxGift,
	domain.TxTip,
	domain.TxDonation,
	domain.TxContentPurchase,
}

// FraudService scans recent ledger activity and raises alerts.
type FraudService struct {
	store   QueryStore
	wallets *WalletService
	audit   *AuditService
	sink    notify.Sink
	cfg     FraudConfig
	now     func() time.Time
}

func NewFraudService(store QueryStore, wallets *WalletService, audit *AuditService, sink notify.Sink, cfg FraudConfig) *FraudService {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &FraudService{
		store:   store,
		wallets: wallets,
		audit:   audit,
		sink:    sink,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *FraudService) WithClock(now func() time.Time) *FraudService {
	if now != nil {
		s.now = now
	}
	return s
}

// ScanReport summarises one detection pass.
type ScanReport struct {
	Wallets    int                 `json:"wallets"`
	Findings   int                 `json:"findings"`
	Alerts     []models.FraudAlert `json:"alerts"`
	Suppressed int                 `json:"suppressed"`
	Frozen     int                 `json:"frozen"`
}

// finding is a detector hit before deduplication.
type finding struct {
	pattern  domain.FraudPattern
	severity domain.Severity
	txIDs    []uuid.UUID
	summary  string
	figures  map[string]any
}

// activity is what the detectors see for one wallet.
type activity struct {
	wallet models.Wallet
	// recent transactions touching the wallet, oldest first
	recent []models.Transaction
	since  time.Time
	q      repository.Querier
}

func (a activity) outgoing(match func(models.Transaction) bool) []models.Transaction {
	var out []models.Transaction
	for _, t := range a.recent {
		if t.FromWalletID != nil && *t.FromWalletID == a.wallet.ID && match(t) {
			out = append(out, t)
		}
	}
	return out
}

type detector func(ctx context.Context, cfg FraudConfig, a activity) ([]finding, error)

var detectors = []detector{
	detectUnusualAmount,
	detectVelocity,
	detectNewWalletCashout,
	detectNewLocation,
	detectDormantReactivation,
	detectRoundTrip,
	detectFailedWithdrawals,
	detectWhitelistThenDrain,
}

// Scan runs every detector over the lookback window. Findings already covered
// by an unresolved alert of the same pattern are suppressed, so repeated
// scans of the same window do not duplicate alerts.
func (s *FraudService) Scan(ctx context.Context) (ScanReport, error) {
	q := s.store.Queries()
	now := s.now()
	since := now.Add(-s.cfg.Lookback)

	txs, err := q.ListTransactions(ctx, repository.TransactionFilter{Since: &since, Ascending: true})
	if err != nil {
		return ScanReport{}, infraError("list recent transactions", err)
	}

	byWallet := make(map[uuid.UUID][]models.Transaction)
	for _, t := range txs {
		for _, id := range []*uuid.UUID{t.FromWalletID, t.ToWalletID} {
			if id != nil {
				byWallet[*id] = append(byWallet[*id], t)
			}
		}
	}
	ids := make([]uuid.UUID, 0, len(byWallet))
	for id := range byWallet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var report ScanReport
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		w, err := q.GetWallet(ctx, id)
		if err != nil {
			return report, notFoundOrInfra(err, "wallet", id)
		}
		if w.UserID == domain.TreasuryUserID {
			continue
		}
		report.Wallets++

		a := activity{wallet: w, recent: byWallet[id], since: since, q: q}
		for _, detect := range detectors {
			found, err := detect(ctx, s.cfg, a)
			if err != nil {
				return report, infraError("run fraud detector", err)
			}
			for _, f := range found {
				report.Findings++
				alert, raised, err := s.raise(ctx, w, f)
				if err != nil {
					return report, err
				}
				if !raised {
					report.Suppressed++
					continue
				}
				report.Alerts = append(report.Alerts, alert)
				if alert.WalletFrozen {
					report.Frozen++
				}
			}
		}
	}
	return report, nil
}

// raise stores an alert for f unless an open alert already covers it. A
// CRITICAL alert freezes the wallet in the same storage transaction.
func (s *FraudService) raise(ctx context.Context, w models.Wallet, f finding) (models.FraudAlert, bool, error) {
	var (
		alert   models.FraudAlert
		raised  bool
		frozen  models.Wallet
		changed bool
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		open, err := q.ListOpenFraudAlerts(ctx, w.ID, f.pattern)
		if err != nil {
			return err
		}
		for _, a := range open {
			if a.Evidence.Covers(f.txIDs) {
				return nil
			}
		}

		alert = models.FraudAlert{
			ID:          uuid.New(),
			WalletID:    w.ID,
			PatternType: f.pattern,
			Severity:    f.severity,
			Evidence: models.FraudEvidence{
				TransactionIDs: f.txIDs,
				Summary:        f.summary,
				Figures:        f.figures,
			},
			CreatedAt: s.now(),
		}
		if f.severity == domain.SeverityCritical {
			frozen, changed, err = s.wallets.setStatus(ctx, q, w.ID, domain.WalletFrozen, "fraud: "+string(f.pattern), nil)
			if err != nil {
				return err
			}
			alert.WalletFrozen = true
		}
		if err := q.InsertFraudAlert(ctx, alert); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, q, "fraud_alert", alert.ID, nil, "fraud_alert_raised", "", string(f.severity), map[string]any{
			"wallet_id": w.ID.String(),
			"pattern":   string(f.pattern),
			"summary":   f.summary,
		}); err != nil {
			return err
		}
		raised = true
		return nil
	})
	if err != nil {
		return models.FraudAlert{}, false, infraError("raise fraud alert", err)
	}
	if !raised {
		return models.FraudAlert{}, false, nil
	}

	observability.IncrementFraudAlert(string(f.pattern), string(f.severity))
	zap.L().Warn("fraud alert raised",
		zap.String("alert_id", alert.ID.String()),
		zap.String("wallet_id", w.ID.String()),
		zap.String("pattern", string(f.pattern)),
		zap.String("severity", string(f.severity)),
		zap.Bool("wallet_frozen", alert.WalletFrozen))
	s.sink.Record(ctx, notify.EventFraudAlert, map[string]any{
		"alert_id":      alert.ID.String(),
		"wallet_id":     w.ID.String(),
		"user_id":       w.UserID.String(),
		"pattern":       string(f.pattern),
		"severity":      string(f.severity),
		"summary":       f.summary,
		"wallet_frozen": alert.WalletFrozen,
	})
	if changed {
		s.wallets.statusChanged(ctx, frozen, "fraud")
	}
	return alert, true, nil
}

// ResolveAlert closes an open alert. It is compare-and-set on the unresolved
// state, so two admins cannot both resolve the same alert. With unfreeze set
// the wallet frozen by the alert goes back to ACTIVE.
func (s *FraudService) ResolveAlert(ctx context.Context, alertID, adminID uuid.UUID, note string, unfreeze bool) (models.FraudAlert, error) {
	var (
		out     models.FraudAlert
		wallet  models.Wallet
		changed bool
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		now := s.now()
		rows, err := q.ResolveFraudAlert(ctx, repository.ResolveFraudAlertParams{
			ID:         alertID,
			ResolvedBy: adminID,
			Note:       note,
			ResolvedAt: now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			if _, err := q.GetFraudAlert(ctx, alertID); err != nil {
				return notFound(err, "fraud alert", alertID)
			}
			return domain.Errorf(domain.ErrInvalidState, "fraud alert %s is already resolved", alertID)
		}
		if out, err = q.GetFraudAlert(ctx, alertID); err != nil {
			return notFound(err, "fraud alert", alertID)
		}
		if unfreeze && out.WalletFrozen {
			wallet, changed, err = s.wallets.setStatus(ctx, q, out.WalletID, domain.WalletActive, "", &adminID)
			if err != nil {
				return err
			}
		}
		return s.audit.Write(ctx, q, "fraud_alert", alertID, &adminID, "fraud_alert_resolved", "open", "resolved", map[string]any{
			"note":     note,
			"unfreeze": unfreeze,
		})
	})
	if err != nil {
		if domain.IsBusiness(err) {
			return models.FraudAlert{}, err
		}
		return models.FraudAlert{}, infraError("resolve fraud alert", err)
	}
	if changed {
		s.wallets.statusChanged(ctx, wallet, "fraud_review")
	}
	zap.L().Info("fraud alert resolved",
		zap.String("alert_id", alertID.String()),
		zap.String("admin_id", adminID.String()),
		zap.Bool("unfrozen", changed))
	return out, nil
}

func (s *FraudService) GetAlert(ctx context.Context, id uuid.UUID) (models.FraudAlert, error) {
	a, err := s.store.Queries().GetFraudAlert(ctx, id)
	if err != nil {
		return models.FraudAlert{}, notFoundOrInfra(err, "fraud alert", id)
	}
	return a, nil
}

func (s *FraudService) ListAlerts(ctx context.Context, f repository.FraudAlertFilter) ([]models.FraudAlert, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	alerts, err := s.store.Queries().ListFraudAlerts(ctx, f)
	if err != nil {
		return nil, infraError("list fraud alerts", err)
	}
	return alerts, nil
}

func txIDs(txs []models.Transaction) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.ID)
	}
	return out
}

func completed(t models.Transaction) bool { return t.Status == domain.TxStatusCompleted }

func isCashout(t models.Transaction) bool {
	return t.Amount > 0 && t.Type.IsWithdrawal()
}

// (1) a withdrawal far above the wallet's historical average
func detectUnusualAmount(ctx context.Context, cfg FraudConfig, a activity) ([]finding, error) {
	recent := a.outgoing(func(t models.Transaction) bool { return completed(t) && isCashout(t) })
	if len(recent) == 0 {
		return nil, nil
	}
	history, err := a.q.ListTransactions(ctx, repository.TransactionFilter{
		WalletID: &a.wallet.ID,
		Types:    append([]domain.TxType{domain.TxWithdrawalHold}, domain.WithdrawalTypes...),
		Statuses: []domain.TxStatus{domain.TxStatusCompleted},
		Until:    &a.since,
		Limit:    historyLimit,
	})
	if err != nil {
		return nil, err
	}
	var (
		sum     int64
		samples int
	)
	for _, t := range history {
		if t.FromWalletID != nil && *t.FromWalletID == a.wallet.ID && t.Amount > 0 {
			sum += t.Amount
			samples++
		}
	}
	if samples < minAmountSamples {
		return nil, nil
	}
	avg := decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(samples)))
	limit := avg.Mul(cfg.AmountMultiplier)

	var out []finding
	for _, t := range recent {
		amount := decimal.NewFromInt(t.Amount)
		if amount.LessThanOrEqual(limit) {
			continue
		}
		severity := domain.SeverityHigh
		if amount.GreaterThan(limit.Mul(decimal.NewFromInt(2))) {
			severity = domain.SeverityCritical
		}
		out = append(out, finding{
			pattern:  domain.PatternUnusualAmount,
			severity: severity,
			txIDs:    []uuid.UUID{t.ID},
			summary:  fmt.Sprintf("withdrawal of %s is above %s x the average %s", domain.MicrosToDecimal(t.Amount), cfg.AmountMultiplier, domain.MicrosToDecimal(avg.IntPart())),
			figures: map[string]any{
				"amount":  t.Amount,
				"average": avg.IntPart(),
				"samples": samples,
			},
		})
	}
	return out, nil
}

// (2) more than VelocityCount outgoing transactions inside any VelocityWindow.
// Twice the threshold is CRITICAL.
func detectVelocity(_ context.Context, cfg FraudConfig, a activity) ([]finding, error) {
	if cfg.VelocityCount <= 0 || cfg.VelocityWindow <= 0 {
		return nil, nil
	}
	out := a.outgoing(func(t models.Transaction) bool {
		return t.Amount > 0 && t.Status != domain.TxStatusPending
	})
	if len(out) <= cfg.VelocityCount {
		return nil, nil
	}

	// widest burst found by a two-pointer sweep
	best, bestStart := 0, 0
	start := 0
	for end := range out {
		for out[end].CreatedAt.Sub(out[start].CreatedAt) > cfg.VelocityWindow {
			start++
		}
		if n := end - start + 1; n > best {
			best, bestStart = n, start
		}
	}
	if best <= cfg.VelocityCount {
		return nil, nil
	}
	burst := out[bestStart : bestStart+best]
	severity := domain.SeverityHigh
	if best >= 2*cfg.VelocityCount {
		severity = domain.SeverityCritical
	}
	return []finding{{
		pattern:  domain.PatternVelocity,
		severity: severity,
		txIDs:    txIDs(burst),
		summary:  fmt.Sprintf("%d outgoing transactions within %s", best, cfg.VelocityWindow),
		figures: map[string]any{
			"count":     best,
			"threshold": cfg.VelocityCount,
			"window":    cfg.VelocityWindow.String(),
		},
	}}, nil
}

// (3) a freshly created wallet cashing out a large amount
func detectNewWalletCashout(_ context.Context, cfg FraudConfig, a activity) ([]finding, error) {
	if cfg.LargeWithdrawal <= 0 {
		return nil, nil
	}
	hits := a.outgoing(func(t models.Transaction) bool {
		return isCashout(t) && t.Status != domain.TxStatusFailed &&
			t.Amount >= cfg.LargeWithdrawal &&
			t.CreatedAt.Sub(a.wallet.CreatedAt) < cfg.NewWalletAge
	})
	if len(hits) == 0 {
		return nil, nil
	}
	var total int64
	for _, t := range hits {
		total += t.Amount
	}
	return []finding{{
		pattern:  domain.PatternNewWalletCashout,
		severity: domain.SeverityHigh,
		txIDs:    txIDs(hits),
		summary:  fmt.Sprintf("wallet created %s ago cashed out %s", hits[0].CreatedAt.Sub(a.wallet.CreatedAt).Round(time.Minute), domain.MicrosToDecimal(total)),
		figures:  map[string]any{"total": total, "wallet_created_at": a.wallet.CreatedAt},
	}}, nil
}

// (4) activity from a country the wallet has never been used from
func detectNewLocation(ctx context.Context, _ FraudConfig, a activity) ([]finding, error) {
	recent := a.outgoing(func(t models.Transaction) bool { return t.Origin != nil && t.Origin.Country != "" })
	if len(recent) == 0 {
		return nil, nil
	}
	history, err := a.q.ListTransactions(ctx, repository.TransactionFilter{
		WalletID: &a.wallet.ID,
		Statuses: []domain.TxStatus{domain.TxStatusCompleted},
		Until:    &a.since,
		Limit:    historyLimit,
	})
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{})
	for _, t := range history {
		if t.Origin != nil && t.Origin.Country != "" && t.FromWalletID != nil && *t.FromWalletID == a.wallet.ID {
			known[t.Origin.Country] = struct{}{}
		}
	}
	if len(known) == 0 {
		return nil, nil
	}

	var (
		hits     []models.Transaction
		severity = domain.SeverityMedium
		country  string
	)
	for _, t := range recent {
		if _, ok := known[t.Origin.Country]; ok {
			continue
		}
		hits = append(hits, t)
		country = t.Origin.Country
		if isCashout(t) {
			severity = domain.SeverityHigh
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	countries := make([]string, 0, len(known))
	for c := range known {
		countries = append(countries, c)
	}
	sort.Strings(countries)
	return []finding{{
		pattern:  domain.PatternNewLocation,
		severity: severity,
		txIDs:    txIDs(hits),
		summary:  fmt.Sprintf("activity from %s, previously seen from %v", country, countries),
		figures:  map[string]any{"country": country, "known_countries": countries},
	}}, nil
}

// (5) a wallet with no activity for DormantAfter suddenly moving funds
func detectDormantReactivation(ctx context.Context, cfg FraudConfig, a activity) ([]finding, error) {
	if cfg.DormantAfter <= 0 {
		return nil, nil
	}
	recent := a.outgoing(func(t models.Transaction) bool { return t.Amount > 0 && completed(t) })
	if len(recent) == 0 {
		return nil, nil
	}
	first := recent[0]
	prior, err := a.q.ListTransactions(ctx, repository.TransactionFilter{
		WalletID: &a.wallet.ID,
		Statuses: []domain.TxStatus{domain.TxStatusCompleted},
		Until:    &a.since,
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	last := a.wallet.CreatedAt
	if len(prior) > 0 {
		last = prior[0].CreatedAt
	}
	idle := first.CreatedAt.Sub(last)
	if idle < cfg.DormantAfter {
		return nil, nil
	}
	severity := domain.SeverityMedium
	for _, t := range recent {
		if isCashout(t) {
			severity = domain.SeverityHigh
			break
		}
	}
	return []finding{{
		pattern:  domain.PatternDormantReactivated,
		severity: severity,
		txIDs:    txIDs(recent),
		summary:  fmt.Sprintf("wallet idle for %s before %d outgoing transactions", idle.Round(time.Hour), len(recent)),
		figures:  map[string]any{"idle_hours": int64(idle / time.Hour), "count": len(recent)},
	}}, nil
}

// (6) value sent out and coming back from the same counterparty shortly after
func detectRoundTrip(_ context.Context, cfg FraudConfig, a activity) ([]finding, error) {
	share := decimal.RequireFromString(roundTripShare)
	isTransfer := func(t models.Transaction) bool {
		return completed(t) && t.Amount > 0 && t.FromWalletID != nil && t.ToWalletID != nil && containsType(transferTypes, t.Type)
	}
	var out []finding
	used := make(map[uuid.UUID]struct{})
	for i, sent := range a.recent {
		if !isTransfer(sent) || *sent.FromWalletID != a.wallet.ID {
			continue
		}
		for _, back := range a.recent[i+1:] {
			if back.CreatedAt.Sub(sent.CreatedAt) > cfg.RoundTripWindow {
				break
			}
			if !isTransfer(back) || *back.ToWalletID != a.wallet.ID || *back.FromWalletID != *sent.ToWalletID {
				continue
			}
			if _, ok := used[back.ID]; ok {
				continue
			}
			if decimal.NewFromInt(back.Amount).LessThan(decimal.NewFromInt(sent.Amount).Mul(share)) {
				continue
			}
			used[back.ID] = struct{}{}
			out = append(out, finding{
				pattern:  domain.PatternRoundTrip,
				severity: domain.SeverityHigh,
				txIDs:    []uuid.UUID{sent.ID, back.ID},
				summary: fmt.Sprintf("sent %s to %s and received %s back after %s",
					domain.MicrosToDecimal(sent.Amount), sent.ToWalletID.String(), domain.MicrosToDecimal(back.Amount),
					back.CreatedAt.Sub(sent.CreatedAt).Round(time.Second)),
				figures: map[string]any{
					"counterparty": sent.ToWalletID.String(),
					"sent":         sent.Amount,
					"returned":     back.Amount,
				},
			})
			break
		}
	}
	return out, nil
}

// (7) repeated failed withdrawal attempts
func detectFailedWithdrawals(_ context.Context, cfg FraudConfig, a activity) ([]finding, error) {
	if cfg.FailedWithdrawals <= 0 {
		return nil, nil
	}
	failed := a.outgoing(func(t models.Transaction) bool {
		return t.Status == domain.TxStatusFailed && t.Type.IsWithdrawal()
	})
	if len(failed) < cfg.FailedWithdrawals {
		return nil, nil
	}
	severity := domain.SeverityMedium
	if len(failed) >= 2*cfg.FailedWithdrawals {
		severity = domain.SeverityHigh
	}
	codes := make(map[string]int)
	for _, t := range failed {
		if code, ok := t.Metadata["error_code"].(string); ok {
			codes[code]++
		}
	}
	return []finding{{
		pattern:  domain.PatternFailedWithdrawals,
		severity: severity,
		txIDs:    txIDs(failed),
		summary:  fmt.Sprintf("%d failed withdrawal attempts", len(failed)),
		figures:  map[string]any{"count": len(failed), "error_codes": codes},
	}}, nil
}

// (8) a whitelist address added and used for a withdrawal shortly after
func detectWhitelistThenDrain(_ context.Context, cfg FraudConfig, a activity) ([]finding, error) {
	var out []finding
	for i, change := range a.recent {
		if change.Type != domain.TxWhitelistUpdate || !completed(change) {
			continue
		}
		if action, _ := change.Metadata["action"].(string); action != "add" {
			continue
		}
		address, _ := change.Metadata["address"].(string)
		if address == "" {
			continue
		}
		for _, w := range a.recent[i+1:] {
			if w.CreatedAt.Sub(change.CreatedAt) > cfg.WhitelistWindow {
				break
			}
			if w.FromWalletID == nil || *w.FromWalletID != a.wallet.ID || !isCashout(w) || w.Status == domain.TxStatusFailed {
				continue
			}
			if dest, _ := w.Metadata["destination_address"].(string); dest != address {
				continue
			}
			out = append(out, finding{
				pattern:  domain.PatternWhitelistThenDrain,
				severity: domain.SeverityHigh,
				txIDs:    []uuid.UUID{change.ID, w.ID},
				summary: fmt.Sprintf("withdrawal of %s to %s %s after it was whitelisted",
					domain.MicrosToDecimal(w.Amount), address, w.CreatedAt.Sub(change.CreatedAt).Round(time.Second)),
				figures: map[string]any{"address": address, "amount": w.Amount},
			})
			break
		}
	}
	return out, nil
}
