package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/cryptomedia/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// WebhookHandler handles incoming webhook events from external systems.
type WebhookHandler struct {
	webhookSvc *service.DepositWebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.DepositWebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

// HandleDepositWebhook handles POST /v1/webhooks/deposits.
// It verifies the HMAC signature and books the deposit.
func (h *WebhookHandler) HandleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	res, err := h.webhookSvc.HandleDepositWebhook(r.Context(), body, r.Header.Get("X-Webhook-Signature"))
	if errors.Is(err, service.ErrInvalidSignature) {
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		return
	}
	writeResult(w, r, service.OperationKind("depositWebhook"), res, err)
}
