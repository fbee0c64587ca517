package handler

import (
	"io"
	"net/http"

	"github.com/cryptomedia/wallet-ledger/internal/api/problem"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxOperationBody = 1 << 20

// OperationHandler exposes every ledger operation at POST /v1/operations/{name}.
type OperationHandler struct {
	engine *service.Engine
}

func NewOperationHandler(engine *service.Engine) *OperationHandler {
	return &OperationHandler{engine: engine}
}

// List handles GET /v1/operations.
func (h *OperationHandler) List(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]any{"operations": service.OperationKinds()})
}

// Execute handles POST /v1/operations/{name}.
func (h *OperationHandler) Execute(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOperationBody))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}
	op, err := service.DecodeOperation(chi.URLParam(r, "name"), body)
	if err != nil {
		problem.WriteError(w, r, err)
		return
	}
	h.run(w, r, actor, op)
}

func (h *OperationHandler) run(w http.ResponseWriter, r *http.Request, actor uuid.UUID, op service.Operation) {
	res, err := h.engine.Execute(r.Context(), actor, op)
	writeResult(w, r, op.Kind(), res, err)
}

func writeResult(w http.ResponseWriter, r *http.Request, kind service.OperationKind, res service.Result, err error) {
	if err != nil {
		zap.L().Error("ledger operation failed", zap.String("operation", string(kind)), zap.Error(err))
		problem.WriteError(w, r, err)
		return
	}
	if !res.Success {
		problem.WriteLedger(w, r, res.Error.Code, res.Error.Message, res.Error.Retryable)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	RespondJSON(w, status, res)
}
