package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/cryptomedia/wallet-ledger/internal/permission"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	fiatSymbol   = regexp.MustCompile(`^[A-Z]{3}$`)
	cryptoSymbol = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
)

// Result is what every ledger operation returns. Business failures are
// reported here with Success=false; infrastructure failures come back as a
// Go error instead.
type Result struct {
	Success       bool               `json:"success"`
	TransactionID *uuid.UUID         `json:"transaction_id,omitempty"`
	RecordID      *uuid.UUID         `json:"record_id,omitempty"`
	Replayed      bool               `json:"replayed,omitempty"`
	Skipped       []SkippedRecipient `json:"skipped,omitempty"`
	Error         *ResultError       `json:"error,omitempty"`
}

type ResultError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// SkippedRecipient is a batch member that was left out of a distribution.
type SkippedRecipient struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Reason   string    `json:"reason"`
}

// outcome is what a handler reports back to Execute.
type outcome struct {
	txID    uuid.UUID
	record  uuid.UUID
	skipped []SkippedRecipient
}

// call carries the per-request context every handler needs.
type call struct {
	kind   OperationKind
	actor  uuid.UUID
	key    string
	origin *models.Origin
}

type originKey struct{}

// WithOrigin attaches request origin details that end up on the transaction record.
func WithOrigin(ctx context.Context, o models.Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

func originFrom(ctx context.Context) *models.Origin {
	o, ok := ctx.Value(originKey{}).(models.Origin)
	if !ok || o.Empty() {
		return nil
	}
	return &o
}

// Engine dispatches ledger operations.
type Engine struct {
	store    QueryStore
	wallets  *WalletService
	audit    *AuditService
	gate     permission.Gate
	rates    ExchangeRateService
	sink     notify.Sink
	policy   Policy
	validate *validator.Validate
	now      func() time.Time
}

func NewEngine(store QueryStore, wallets *WalletService, audit *AuditService, gate permission.Gate, rates ExchangeRateService, sink notify.Sink, policy Policy) *Engine {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Engine{
		store:    store,
		wallets:  wallets,
		audit:    audit,
		gate:     gate,
		rates:    rates,
		sink:     sink,
		policy:   policy,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source of the engine and its wallet store.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
		e.wallets.WithClock(now)
	}
	return e
}

func (e *Engine) Policy() Policy {
	return e.policy
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	must(v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return domain.Currency(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("fiatsymbol", func(fl validator.FieldLevel) bool {
		return fiatSymbol.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("cryptosymbol", func(fl validator.FieldLevel) bool {
		return cryptoSymbol.MatchString(fl.Field().String())
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("register validation: %v", err))
	}
}

// Execute validates op, checks authorization and runs it atomically. Writes
// that collide with a concurrent update are retried a bounded number of times.
func (e *Engine) Execute(ctx context.Context, actor uuid.UUID, op Operation) (Result, error) {
	if op == nil {
		return failure(domain.Errorf(domain.ErrValidation, "operation is required")), nil
	}
	start := time.Now()
	res, err := e.execute(ctx, actor, op)

	label := "success"
	switch {
	case err != nil:
		label = "error"
	case !res.Success:
		label = "rejected"
	case res.Replayed:
		label = "replayed"
	}
	observability.ObserveOperation(string(op.Kind()), label, time.Since(start))

	fields := []zap.Field{
		zap.String("operation", string(op.Kind())),
		zap.String("actor_id", actor.String()),
		zap.String("outcome", label),
		zap.Duration("duration", time.Since(start)),
	}
	if res.TransactionID != nil {
		fields = append(fields, zap.String("transaction_id", res.TransactionID.String()))
	}
	switch {
	case err != nil:
		zap.L().Error("ledger operation failed", append(fields, zap.Error(err))...)
	case res.Error != nil:
		zap.L().Info("ledger operation rejected", append(fields, zap.String("code", res.Error.Code), zap.String("reason", res.Error.Message))...)
	default:
		zap.L().Info("ledger operation", fields...)
	}
	return res, err
}

func (e *Engine) execute(ctx context.Context, actor uuid.UUID, op Operation) (Result, error) {
	if actor == uuid.Nil {
		return failure(domain.Errorf(domain.ErrUnauthorized, "missing actor")), nil
	}
	if err := e.validate.Struct(op); err != nil {
		return failure(validationError(err)), nil
	}

	c := call{kind: op.Kind(), actor: actor, key: op.idempotencyKey(actor), origin: originFrom(ctx)}
	var lastErr error
	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*e.policy.RetryBackoff); err != nil {
				return Result{}, fmt.Errorf("%s: %w: %w", c.kind, domain.ErrFatalInfrastructure, err)
			}
		}

		if c.key != "" {
			res, ok, err := e.replay(ctx, c)
			if err != nil {
				return classify(c.kind, err)
			}
			if ok {
				return res, nil
			}
		}

		out, err := e.dispatch(ctx, c, op)
		if err == nil {
			return success(out), nil
		}
		if c.key != "" && repository.IsUniqueViolation(err) {
			// A concurrent request with the same key won; the next pass replays it.
			lastErr = domain.Errorf(domain.ErrInProgress, "request %q is being processed", c.key)
			continue
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) || repository.IsRetryable(err) {
			lastErr = err
			zap.L().Debug("retrying ledger operation", zap.String("operation", string(c.kind)), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return classify(c.kind, err)
	}
	if !domain.IsBusiness(lastErr) {
		lastErr = domain.Errorf(domain.ErrConcurrencyConflict, "%v", lastErr)
	}
	return classify(c.kind, lastErr)
}

func (e *Engine) dispatch(ctx context.Context, c call, op Operation) (outcome, error) {
	switch op := op.(type) {
	case DepositCrypto:
		return e.depositCrypto(ctx, c, op)
	case DepositFiat:
		return e.depositFiat(ctx, c, op)
	case CreditReward:
		return e.creditReward(ctx, c, op)
	case CreateWithdrawalRequest:
		return e.createWithdrawalRequest(ctx, c, op)
	case ApproveWithdrawalRequest:
		return e.approveWithdrawalRequest(ctx, c, op)
	case RejectWithdrawalRequest:
		return e.rejectWithdrawalRequest(ctx, c, op)
	case UpdateWhitelist:
		return e.updateWhitelist(ctx, c, op)
	case CreateTransfer:
		return e.createTransfer(ctx, c, op)
	case SubscriptionCharge:
		return e.subscriptionCharge(ctx, c, op)
	case SubscriptionRefund:
		return e.subscriptionRefund(ctx, c, op)
	case SubscriptionUpgrade:
		return e.subscriptionUpgrade(ctx, c, op)
	case SubscriptionDowngrade:
		return e.subscriptionDowngrade(ctx, c, op)
	case SubscriptionPause:
		return e.subscriptionPause(ctx, c, op)
	case SubscriptionCancel:
		return e.subscriptionCancel(ctx, c, op)
	case PurchaseContent:
		return e.purchaseContent(ctx, c, op)
	case ProcessFullRefund:
		return e.processFullRefund(ctx, c, op)
	case ProcessPartialRefund:
		return e.processPartialRefund(ctx, c, op)
	case HandleChargeback:
		return e.handleChargeback(ctx, c, op)
	case LockStaking:
		return e.lockStaking(ctx, c, op)
	case UnlockStaking:
		return e.unlockStaking(ctx, c, op)
	case ClaimStakingRewards:
		return e.claimStakingRewards(ctx, c, op)
	case ConvertCEToJOY:
		return e.convertCEToJOY(ctx, c, op)
	case ConvertJOYToFiat:
		return e.convertJOYOffRamp(ctx, c, offRamp{walletID: op.WalletID, amount: op.Amount, target: op.TargetCurrency, txType: domain.TxConvertJYToFiat})
	case ConvertJOYToCrypto:
		return e.convertJOYOffRamp(ctx, c, offRamp{walletID: op.WalletID, amount: op.Amount, target: op.TargetCrypto, address: op.DestinationAddress, txType: domain.TxConvertJYToCrypto})
	case CreateAirdropCampaign:
		return e.createAirdropCampaign(ctx, c, op)
	case ClaimAirdrop:
		return e.claimAirdrop(ctx, c, op)
	case DistributeAirdrop:
		return e.distributeAirdrop(ctx, c, op)
	case CreateEscrow:
		return e.createEscrow(ctx, c, op)
	case ReleaseEscrow:
		return e.releaseEscrow(ctx, c, op)
	case HandleEscrowDispute:
		return e.handleEscrowDispute(ctx, c, op)
	case SendGift:
		return e.sendGift(ctx, c, op)
	case SendTip:
		return e.sendTip(ctx, c, op)
	case SendDonation:
		return e.sendDonation(ctx, c, op)
	default:
		return outcome{}, domain.Errorf(domain.ErrValidation, "unsupported operation %T", op)
	}
}

// replay returns the stored result for an already-processed idempotency key.
func (e *Engine) replay(ctx context.Context, c call) (Result, bool, error) {
	tx, err := e.store.Queries().GetTransactionByIdempotencyKey(ctx, c.key)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return Result{}, false, nil
		}
		return Result{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if kind, _ := tx.Metadata["operation"].(string); kind != string(c.kind) {
		return Result{}, false, domain.Errorf(domain.ErrDuplicate, "key already used by %s", kind)
	}
	if !e.mayReplay(ctx, c, tx) {
		return Result{}, false, domain.Errorf(domain.ErrUnauthorized, "%s is not permitted for this actor", c.kind)
	}
	switch tx.Status {
	case domain.TxStatusPending:
		return Result{}, false, domain.Errorf(domain.ErrInProgress, "transaction %s", tx.ID)
	case domain.TxStatusCompleted, domain.TxStatusReversed:
		observability.IncrementIdempotencyEvent("replay")
		res := Result{Success: true, TransactionID: ptr(tx.ID), Replayed: true}
		if raw, ok := tx.Metadata["record_id"].(string); ok {
			if id, err := uuid.Parse(raw); err == nil {
				res.RecordID = &id
			}
		}
		return res, true, nil
	default:
		return Result{}, false, nil
	}
}

// mayReplay reports whether the caller may see a stored result: the actor who
// ran it, or one the gate authorizes for the operation on a touched wallet
// or on the record it produced.
func (e *Engine) mayReplay(ctx context.Context, c call, tx models.Transaction) bool {
	if recorded, _ := tx.Metadata["actor_id"].(string); recorded == c.actor.String() {
		return true
	}
	if e.privileged(ctx, c, permission.AnyResource) {
		return true
	}
	for _, id := range []*uuid.UUID{tx.FromWalletID, tx.ToWalletID} {
		if id != nil && e.privileged(ctx, c, id.String()) {
			return true
		}
	}
	record, _ := tx.Metadata["record_id"].(string)
	return record != "" && e.privileged(ctx, c, record)
}

func success(out outcome) Result {
	res := Result{Success: true, Skipped: out.skipped}
	if out.txID != uuid.Nil {
		res.TransactionID = ptr(out.txID)
	}
	if out.record != uuid.Nil {
		res.RecordID = ptr(out.record)
	}
	return res
}

func failure(err error) Result {
	de, ok := domain.AsError(err)
	if !ok {
		de = domain.ErrFatalInfrastructure
	}
	return Result{
		Success: false,
		Error: &ResultError{
			Code:      de.Code,
			Message:   err.Error(),
			Retryable: de.Retryable,
		},
	}
}

// classify turns business errors into a failed Result and everything else
// into a fatal infrastructure error.
func classify(kind OperationKind, err error) (Result, error) {
	if domain.IsBusiness(err) {
		return failure(err), nil
	}
	if errors.Is(err, domain.ErrFatalInfrastructure) {
		return Result{}, fmt.Errorf("%s: %w", kind, err)
	}
	return Result{}, fmt.Errorf("%s: %w: %w", kind, domain.ErrFatalInfrastructure, err)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Errorf(domain.ErrValidation, "%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return domain.Errorf(domain.ErrValidation, "%s", strings.Join(msgs, "; "))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
