package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

const (
	DepositKindCrypto = "crypto"
	DepositKindFiat   = "fiat"
)

// DepositWebhookService turns signed settlement notifications from the
// payment provider and the chain watcher into deposit operations.
type DepositWebhookService struct {
	engine  *Engine
	actor   uuid.UUID
	hmacKey []byte
	skipSig bool
}

// NewDepositWebhookService runs deposits as actor, which the gate must
// authorize for depositCrypto and depositFiat.
func NewDepositWebhookService(engine *Engine, actor uuid.UUID, hmacKey string, skipSignature bool) *DepositWebhookService {
	return &DepositWebhookService{
		engine:  engine,
		actor:   actor,
		hmacKey: []byte(hmacKey),
		skipSig: skipSignature,
	}
}

// DepositWebhookPayload is the body the provider posts.
type DepositWebhookPayload struct {
	Kind         string    `json:"kind"`
	WalletID     uuid.UUID `json:"wallet_id"`
	Amount       string    `json:"amount"`
	Reference    string    `json:"reference"` // tx hash or provider payment id
	Network      string    `json:"network,omitempty"`
	FiatCurrency string    `json:"fiat_currency,omitempty"`
	FiatAmount   string    `json:"fiat_amount,omitempty"`
}

// HandleDepositWebhook verifies the signature and credits the deposit.
// Redelivered notifications replay the original result.
func (s *DepositWebhookService) HandleDepositWebhook(ctx context.Context, payload []byte, signature string) (Result, error) {
	if !s.verifyHMAC(payload, signature) {
		return Result{}, ErrInvalidSignature
	}

	var deposit DepositWebhookPayload
	if err := json.Unmarshal(payload, &deposit); err != nil {
		return failure(domain.Errorf(domain.ErrValidation, "invalid payload: %v", err)), nil
	}
	deposit.Kind = strings.ToLower(strings.TrimSpace(deposit.Kind))
	deposit.Reference = strings.TrimSpace(deposit.Reference)
	deposit.FiatCurrency = strings.ToUpper(strings.TrimSpace(deposit.FiatCurrency))

	var op Operation
	switch deposit.Kind {
	case DepositKindCrypto:
		op = DepositCrypto{
			WalletID: deposit.WalletID,
			Amount:   deposit.Amount,
			TxHash:   deposit.Reference,
			Network:  deposit.Network,
		}
	case DepositKindFiat:
		op = DepositFiat{
			WalletID:          deposit.WalletID,
			Amount:            deposit.Amount,
			ProviderReference: deposit.Reference,
			FiatCurrency:      deposit.FiatCurrency,
			FiatAmount:        deposit.FiatAmount,
		}
	default:
		return failure(domain.Errorf(domain.ErrValidation, "unsupported deposit kind %q", deposit.Kind)), nil
	}

	res, err := s.engine.Execute(ctx, s.actor, op)
	if err != nil {
		return Result{}, err
	}
	if res.Replayed {
		zap.L().Info("deposit webhook redelivered", zap.String("reference", deposit.Reference))
	}
	return res, nil
}

func (s *DepositWebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(SignWebhook(s.hmacKey, payload)))
}

// SignWebhook returns the X-Webhook-Signature value for payload.
func SignWebhook(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
