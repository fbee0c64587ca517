package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/google/uuid"
)

// OperationKind is the public name of a ledger operation.
type OperationKind string

const (
	OpDepositCrypto            OperationKind = "depositCrypto"
	OpDepositFiat              OperationKind = "depositFiat"
	OpCreditReward             OperationKind = "creditReward"
	OpCreateWithdrawalRequest  OperationKind = "createWithdrawalRequest"
	OpApproveWithdrawalRequest OperationKind = "approveWithdrawalRequest"
	OpRejectWithdrawalRequest  OperationKind = "rejectWithdrawalRequest"
	OpUpdateWhitelist          OperationKind = "updateWhitelist"
	OpCreateTransfer           OperationKind = "createTransfer"
	OpSubscriptionCharge       OperationKind = "subscriptionCharge"
	OpSubscriptionRefund       OperationKind = "subscriptionRefund"
	OpSubscriptionUpgrade      OperationKind = "subscriptionUpgrade"
	OpSubscriptionDowngrade    OperationKind = "subscriptionDowngrade"
	OpSubscriptionPause        OperationKind = "subscriptionPause"
	OpSubscriptionCancel       OperationKind = "subscriptionCancel"
	OpPurchaseContent          OperationKind = "purchaseContent"
	OpProcessFullRefund        OperationKind = "processFullRefund"
	OpProcessPartialRefund     OperationKind = "processPartialRefund"
	OpHandleChargeback         OperationKind = "handleChargeback"
	OpLockStaking              OperationKind = "lockStaking"
	OpUnlockStaking            OperationKind = "unlockStaking"
	OpClaimStakingRewards      OperationKind = "claimStakingRewards"
	OpConvertCEToJOY           OperationKind = "convertCEToJOY"
	OpConvertJOYToFiat         OperationKind = "convertJOYToFiat"
	OpConvertJOYToCrypto       OperationKind = "convertJOYToCrypto"
	OpCreateAirdropCampaign    OperationKind = "createAirdropCampaign"
	OpClaimAirdrop             OperationKind = "claimAirdrop"
	OpDistributeAirdrop        OperationKind = "distributeAirdrop"
	OpCreateEscrow             OperationKind = "createEscrow"
	OpReleaseEscrow            OperationKind = "releaseEscrow"
	OpHandleEscrowDispute      OperationKind = "handleEscrowDispute"
	OpSendGift                 OperationKind = "sendGift"
	OpSendTip                  OperationKind = "sendTip"
	OpSendDonation             OperationKind = "sendDonation"
)

// Operation is the closed set of ledger requests. Only types in this package
// implement it, and Engine.Execute switches over all of them.
type Operation interface {
	Kind() OperationKind
	// idempotencyKey returns the storage key for this request, or "" when the
	// request carries none.
	idempotencyKey(actor uuid.UUID) string
}

// Idempotent carries an optional caller-supplied request id. Keys are scoped
// to the caller so two users cannot collide.
type Idempotent struct {
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

func (i Idempotent) callerKey(actor uuid.UUID, kind OperationKind) string {
	if i.IdempotencyKey == "" {
		return ""
	}
	return fmt.Sprintf("u:%s:%s:%s", actor, kind, i.IdempotencyKey)
}

// ---- deposits ----

type DepositCrypto struct {
	WalletID uuid.UUID `json:"wallet_id" validate:"required"`
	Amount   string    `json:"amount" validate:"required"`
	TxHash   string    `json:"tx_hash" validate:"required,max=128"`
	Network  string    `json:"network,omitempty" validate:"omitempty,max=32"`
}

func (DepositCrypto) Kind() OperationKind { return OpDepositCrypto }
func (o DepositCrypto) idempotencyKey(uuid.UUID) string {
	return "deposit:crypto:" + o.TxHash
}

type DepositFiat struct {
	WalletID          uuid.UUID `json:"wallet_id" validate:"required"`
	Amount            string    `json:"amount" validate:"required"`
	ProviderReference string    `json:"provider_reference" validate:"required,max=128"`
	FiatCurrency      string    `json:"fiat_currency,omitempty" validate:"omitempty,fiatsymbol"`
	FiatAmount        string    `json:"fiat_amount,omitempty"`
}

func (DepositFiat) Kind() OperationKind { return OpDepositFiat }
func (o DepositFiat) idempotencyKey(uuid.UUID) string {
	return "deposit:fiat:" + o.ProviderReference
}

type CreditReward struct {
	WalletID uuid.UUID `json:"wallet_id" validate:"required"`
	Amount   string    `json:"amount" validate:"required"`
	Reason   string    `json:"reason" validate:"required,max=256"`
	Idempotent
}

func (CreditReward) Kind() OperationKind { return OpCreditReward }
func (o CreditReward) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// ---- withdrawals ----

type CreateWithdrawalRequest struct {
	WalletID           uuid.UUID `json:"wallet_id" validate:"required"`
	Amount             string    `json:"amount" validate:"required"`
	DestinationAddress string    `json:"destination_address" validate:"required,max=128"`
	Idempotent
}

func (CreateWithdrawalRequest) Kind() OperationKind { return OpCreateWithdrawalRequest }
func (o CreateWithdrawalRequest) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type ApproveWithdrawalRequest struct {
	RequestID uuid.UUID `json:"request_id" validate:"required"`
	TxHash    string    `json:"tx_hash,omitempty" validate:"omitempty,max=128"`
}

func (ApproveWithdrawalRequest) Kind() OperationKind { return OpApproveWithdrawalRequest }
func (o ApproveWithdrawalRequest) idempotencyKey(uuid.UUID) string {
	return "withdrawal:approve:" + o.RequestID.String()
}

type RejectWithdrawalRequest struct {
	RequestID uuid.UUID `json:"request_id" validate:"required"`
	Reason    string    `json:"reason" validate:"required,max=512"`
}

func (RejectWithdrawalRequest) Kind() OperationKind { return OpRejectWithdrawalRequest }
func (o RejectWithdrawalRequest) idempotencyKey(uuid.UUID) string {
	return "withdrawal:reject:" + o.RequestID.String()
}

type UpdateWhitelist struct {
	WalletID uuid.UUID `json:"wallet_id" validate:"required"`
	Address  string    `json:"address" validate:"required,max=128"`
	Action   string    `json:"action" validate:"required,oneof=add remove"`
	Idempotent
}

func (UpdateWhitelist) Kind() OperationKind { return OpUpdateWhitelist }
func (o UpdateWhitelist) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// ---- transfers ----

type CreateTransfer struct {
	FromWalletID uuid.UUID `json:"from_wallet_id" validate:"required"`
	ToWalletID   uuid.UUID `json:"to_wallet_id" validate:"required"`
	Amount       string    `json:"amount" validate:"required"`
	Memo         string    `json:"memo,omitempty" validate:"omitempty,max=256"`
	Idempotent
}

func (CreateTransfer) Kind() OperationKind { return OpCreateTransfer }
func (o CreateTransfer) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// ---- payments ----

type SubscriptionCharge struct {
	WalletID       uuid.UUID `json:"wallet_id" validate:"required"`
	SubscriptionID string    `json:"subscription_id" validate:"required,max=64"`
	PlanID         string    `json:"plan_id" validate:"required,max=64"`
	Amount         string    `json:"amount" validate:"required"`
	Idempotent
}

func (SubscriptionCharge) Kind() OperationKind { return OpSubscriptionCharge }
func (o SubscriptionCharge) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// SubscriptionRefund refunds Amount (or the whole charge when empty).
type SubscriptionRefund struct {
	OriginalTransactionID uuid.UUID `json:"original_transaction_id" validate:"required"`
	Amount                string    `json:"amount,omitempty"`
	Reason                string    `json:"reason,omitempty" validate:"omitempty,max=512"`
}

func (SubscriptionRefund) Kind() OperationKind { return OpSubscriptionRefund }
func (o SubscriptionRefund) idempotencyKey(uuid.UUID) string {
	return "subscription:refund:" + o.OriginalTransactionID.String()
}

type SubscriptionUpgrade struct {
	WalletID       uuid.UUID `json:"wallet_id" validate:"required"`
	SubscriptionID string    `json:"subscription_id" validate:"required,max=64"`
	FromPlanID     string    `json:"from_plan_id" validate:"required,max=64"`
	ToPlanID       string    `json:"to_plan_id" validate:"required,max=64"`
	Amount         string    `json:"amount" validate:"required"`
	Idempotent
}

func (SubscriptionUpgrade) Kind() OperationKind { return OpSubscriptionUpgrade }
func (o SubscriptionUpgrade) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// SubscriptionDowngrade credits CreditAmount from the treasury; a credit needs the gate.
type SubscriptionDowngrade struct {
	WalletID       uuid.UUID `json:"wallet_id" validate:"required"`
	SubscriptionID string    `json:"subscription_id" validate:"required,max=64"`
	FromPlanID     string    `json:"from_plan_id" validate:"required,max=64"`
	ToPlanID       string    `json:"to_plan_id" validate:"required,max=64"`
	CreditAmount   string    `json:"credit_amount,omitempty"`
	Idempotent
}

func (SubscriptionDowngrade) Kind() OperationKind { return OpSubscriptionDowngrade }
func (o SubscriptionDowngrade) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type SubscriptionPause struct {
	WalletID       uuid.UUID  `json:"wallet_id" validate:"required"`
	SubscriptionID string     `json:"subscription_id" validate:"required,max=64"`
	ResumeAt       *time.Time `json:"resume_at,omitempty"`
	Idempotent
}

func (SubscriptionPause) Kind() OperationKind { return OpSubscriptionPause }
func (o SubscriptionPause) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// SubscriptionCancel may carry a prorated refund, which needs the gate.
type SubscriptionCancel struct {
	WalletID       uuid.UUID `json:"wallet_id" validate:"required"`
	SubscriptionID string    `json:"subscription_id" validate:"required,max=64"`
	Reason         string    `json:"reason,omitempty" validate:"omitempty,max=512"`
	RefundAmount   string    `json:"refund_amount,omitempty"`
	Idempotent
}

func (SubscriptionCancel) Kind() OperationKind { return OpSubscriptionCancel }
func (o SubscriptionCancel) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type PurchaseContent struct {
	BuyerWalletID   uuid.UUID `json:"buyer_wallet_id" validate:"required"`
	CreatorWalletID uuid.UUID `json:"creator_wallet_id" validate:"required"`
	ContentID       string    `json:"content_id" validate:"required,max=64"`
	Amount          string    `json:"amount" validate:"required"`
	Idempotent
}

func (PurchaseContent) Kind() OperationKind { return OpPurchaseContent }
func (o PurchaseContent) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// ---- refunds ----

type ProcessFullRefund struct {
	OriginalTransactionID uuid.UUID `json:"original_transaction_id" validate:"required"`
	Reason                string    `json:"reason,omitempty" validate:"omitempty,max=512"`
}

func (ProcessFullRefund) Kind() OperationKind { return OpProcessFullRefund }
func (o ProcessFullRefund) idempotencyKey(uuid.UUID) string {
	return "refund:full:" + o.OriginalTransactionID.String()
}

type ProcessPartialRefund struct {
	OriginalTransactionID uuid.UUID `json:"original_transaction_id" validate:"required"`
	Amount                string    `json:"amount" validate:"required"`
	Reason                string    `json:"reason,omitempty" validate:"omitempty,max=512"`
}

func (ProcessPartialRefund) Kind() OperationKind { return OpProcessPartialRefund }
func (o ProcessPartialRefund) idempotencyKey(uuid.UUID) string {
	return "refund:partial:" + o.OriginalTransactionID.String()
}

type HandleChargeback struct {
	OriginalTransactionID uuid.UUID `json:"original_transaction_id" validate:"required"`
	Amount                string    `json:"amount" validate:"required"`
	Reason                string    `json:"reason" validate:"required,max=512"`
}

func (HandleChargeback) Kind() OperationKind { return OpHandleChargeback }
func (o HandleChargeback) idempotencyKey(uuid.UUID) string {
	return "chargeback:" + o.OriginalTransactionID.String()
}

// ---- staking ----

// LockStaking takes either a Tier or an explicit DurationDays/AprRate pair.
type LockStaking struct {
	WalletID     uuid.UUID          `json:"wallet_id" validate:"required"`
	Amount       string             `json:"amount" validate:"required"`
	Tier         domain.StakingTier `json:"tier,omitempty" validate:"omitempty,oneof=FLEXIBLE SIX_MONTH NINE_MONTH TWENTY_FOUR_MONTH"`
	DurationDays int                `json:"duration_days,omitempty" validate:"omitempty,min=1,max=3650"`
	AprRate      string             `json:"apr_rate,omitempty"`
	Idempotent
}

func (LockStaking) Kind() OperationKind { return OpLockStaking }
func (o LockStaking) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type UnlockStaking struct {
	StakingID uuid.UUID `json:"staking_id" validate:"required"`
}

func (UnlockStaking) Kind() OperationKind { return OpUnlockStaking }
func (o UnlockStaking) idempotencyKey(uuid.UUID) string {
	return "staking:unlock:" + o.StakingID.String()
}

type ClaimStakingRewards struct {
	StakingID uuid.UUID `json:"staking_id" validate:"required"`
	Idempotent
}

func (ClaimStakingRewards) Kind() OperationKind { return OpClaimStakingRewards }
func (o ClaimStakingRewards) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// ---- conversions ----

// ConvertCEToJOY credits ToWalletID, or the caller's JY wallet when it is empty.
type ConvertCEToJOY struct {
	FromWalletID uuid.UUID `json:"from_wallet_id" validate:"required"`
	ToWalletID   uuid.UUID `json:"to_wallet_id,omitempty"`
	Amount       string    `json:"amount" validate:"required"`
	Idempotent
}

func (ConvertCEToJOY) Kind() OperationKind { return OpConvertCEToJOY }
func (o ConvertCEToJOY) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type ConvertJOYToFiat struct {
	WalletID       uuid.UUID `json:"wallet_id" validate:"required"`
	Amount         string    `json:"amount" validate:"required"`
	TargetCurrency string    `json:"target_currency" validate:"required,fiatsymbol"`
	Idempotent
}

func (ConvertJOYToFiat) Kind() OperationKind { return OpConvertJOYToFiat }
func (o ConvertJOYToFiat) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type ConvertJOYToCrypto struct {
	WalletID           uuid.UUID `json:"wallet_id" validate:"required"`
	Amount             string    `json:"amount" validate:"required"`
	TargetCrypto       string    `json:"target_crypto" validate:"required,cryptosymbol"`
	DestinationAddress string    `json:"destination_address,omitempty" validate:"omitempty,max=128"`
	Idempotent
}

func (ConvertJOYToCrypto) Kind() OperationKind { return OpConvertJOYToCrypto }
func (o ConvertJOYToCrypto) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// ---- airdrops ----

type CreateAirdropCampaign struct {
	Name           string          `json:"name" validate:"required,max=128"`
	Currency       domain.Currency `json:"currency" validate:"required,currency"`
	AmountPerClaim string          `json:"amount_per_claim" validate:"required"`
	TotalAmount    string          `json:"total_amount" validate:"required"`
	EndsAt         *time.Time      `json:"ends_at,omitempty"`
	Idempotent
}

func (CreateAirdropCampaign) Kind() OperationKind { return OpCreateAirdropCampaign }
func (o CreateAirdropCampaign) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type ClaimAirdrop struct {
	CampaignID uuid.UUID `json:"campaign_id" validate:"required"`
	WalletID   uuid.UUID `json:"wallet_id" validate:"required"`
}

func (ClaimAirdrop) Kind() OperationKind { return OpClaimAirdrop }

// A wallet holds one currency, so the campaign and wallet pair identifies the
// claiming user whoever submits it.
func (o ClaimAirdrop) idempotencyKey(uuid.UUID) string {
	return fmt.Sprintf("airdrop:%s:%s", o.CampaignID, o.WalletID)
}

type DistributeAirdrop struct {
	CampaignID uuid.UUID   `json:"campaign_id" validate:"required"`
	WalletIDs  []uuid.UUID `json:"wallet_ids" validate:"required,min=1,max=1000"`
	Idempotent
}

func (DistributeAirdrop) Kind() OperationKind { return OpDistributeAirdrop }
func (o DistributeAirdrop) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

// ---- escrow ----

type CreateEscrow struct {
	BuyerWalletID  uuid.UUID  `json:"buyer_wallet_id" validate:"required"`
	SellerWalletID uuid.UUID  `json:"seller_wallet_id" validate:"required"`
	Amount         string     `json:"amount" validate:"required"`
	MediatorID     *uuid.UUID `json:"mediator_id,omitempty"`
	Idempotent
}

func (CreateEscrow) Kind() OperationKind { return OpCreateEscrow }
func (o CreateEscrow) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type ReleaseEscrow struct {
	EscrowID uuid.UUID `json:"escrow_id" validate:"required"`
}

func (ReleaseEscrow) Kind() OperationKind { return OpReleaseEscrow }
func (o ReleaseEscrow) idempotencyKey(uuid.UUID) string {
	return "escrow:release:" + o.EscrowID.String()
}

// DisputeResolution splits an escrow; the two amounts must add up to the held amount.
type DisputeResolution struct {
	BuyerAmount  string `json:"buyer_amount" validate:"required"`
	SellerAmount string `json:"seller_amount" validate:"required"`
	Note         string `json:"note,omitempty" validate:"omitempty,max=512"`
}

type HandleEscrowDispute struct {
	EscrowID   uuid.UUID          `json:"escrow_id" validate:"required"`
	Reason     string             `json:"reason" validate:"required,max=512"`
	Resolution *DisputeResolution `json:"resolution,omitempty"`
}

func (HandleEscrowDispute) Kind() OperationKind { return OpHandleEscrowDispute }
func (o HandleEscrowDispute) idempotencyKey(uuid.UUID) string {
	if o.Resolution != nil {
		return "escrow:resolve:" + o.EscrowID.String()
	}
	return "escrow:dispute:" + o.EscrowID.String()
}

// ---- gifts ----

type SendGift struct {
	FromWalletID uuid.UUID `json:"from_wallet_id" validate:"required"`
	ToWalletID   uuid.UUID `json:"to_wallet_id" validate:"required"`
	Amount       string    `json:"amount" validate:"required"`
	Message      string    `json:"message,omitempty" validate:"omitempty,max=512"`
	Idempotent
}

func (SendGift) Kind() OperationKind { return OpSendGift }
func (o SendGift) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type SendTip struct {
	FromWalletID uuid.UUID `json:"from_wallet_id" validate:"required"`
	ToWalletID   uuid.UUID `json:"to_wallet_id" validate:"required"`
	Amount       string    `json:"amount" validate:"required"`
	ContentID    string    `json:"content_id,omitempty" validate:"omitempty,max=64"`
	Idempotent
}

func (SendTip) Kind() OperationKind { return OpSendTip }
func (o SendTip) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

type SendDonation struct {
	FromWalletID uuid.UUID `json:"from_wallet_id" validate:"required"`
	ToWalletID   uuid.UUID `json:"to_wallet_id" validate:"required"`
	Amount       string    `json:"amount" validate:"required"`
	Message      string    `json:"message,omitempty" validate:"omitempty,max=512"`
	Idempotent
}

func (SendDonation) Kind() OperationKind { return OpSendDonation }
func (o SendDonation) idempotencyKey(actor uuid.UUID) string {
	return o.callerKey(actor, o.Kind())
}

var decoders = map[OperationKind]func([]byte) (Operation, error){
	OpDepositCrypto:            decodeAs[DepositCrypto],
	OpDepositFiat:              decodeAs[DepositFiat],
	OpCreditReward:             decodeAs[CreditReward],
	OpCreateWithdrawalRequest:  decodeAs[CreateWithdrawalRequest],
	OpApproveWithdrawalRequest: decodeAs[ApproveWithdrawalRequest],
	OpRejectWithdrawalRequest:  decodeAs[RejectWithdrawalRequest],
	OpUpdateWhitelist:          decodeAs[UpdateWhitelist],
	OpCreateTransfer:           decodeAs[CreateTransfer],
	OpSubscriptionCharge:       decodeAs[SubscriptionCharge],
	OpSubscriptionRefund:       decodeAs[SubscriptionRefund],
	OpSubscriptionUpgrade:      decodeAs[SubscriptionUpgrade],
	OpSubscriptionDowngrade:    decodeAs[SubscriptionDowngrade],
	OpSubscriptionPause:        decodeAs[SubscriptionPause],
	OpSubscriptionCancel:       decodeAs[SubscriptionCancel],
	OpPurchaseContent:          decodeAs[PurchaseContent],
	OpProcessFullRefund:        decodeAs[ProcessFullRefund],
	OpProcessPartialRefund:     decodeAs[ProcessPartialRefund],
	OpHandleChargeback:         decodeAs[HandleChargeback],
	OpLockStaking:              decodeAs[LockStaking],
	OpUnlockStaking:            decodeAs[UnlockStaking],
	OpClaimStakingRewards:      decodeAs[ClaimStakingRewards],
	OpConvertCEToJOY:           decodeAs[ConvertCEToJOY],
	OpConvertJOYToFiat:         decodeAs[ConvertJOYToFiat],
	OpConvertJOYToCrypto:       decodeAs[ConvertJOYToCrypto],
	OpCreateAirdropCampaign:    decodeAs[CreateAirdropCampaign],
	OpClaimAirdrop:             decodeAs[ClaimAirdrop],
	OpDistributeAirdrop:        decodeAs[DistributeAirdrop],
	OpCreateEscrow:             decodeAs[CreateEscrow],
	OpReleaseEscrow:            decodeAs[ReleaseEscrow],
	OpHandleEscrowDispute:      decodeAs[HandleEscrowDispute],
	OpSendGift:                 decodeAs[SendGift],
	OpSendTip:                  decodeAs[SendTip],
	OpSendDonation:             decodeAs[SendDonation],
}

// OperationKinds lists every supported operation name.
func OperationKinds() []OperationKind {
	out := make([]OperationKind, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DecodeOperation parses a JSON payload for the named operation. Unknown
// fields are rejected.
func DecodeOperation(kind string, raw []byte) (Operation, error) {
	decode, ok := decoders[OperationKind(kind)]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "unknown operation %q", kind)
	}
	return decode(raw)
}

func decodeAs[T Operation](raw []byte) (Operation, error) {
	var op T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&op); err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "invalid payload: %v", err)
	}
	return op, nil
}
