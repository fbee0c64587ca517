package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorMapsLedgerCodes(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.Errorf(domain.ErrInsufficientFunds, "need 5"), http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{domain.Errorf(domain.ErrUnauthorized, "nope"), http.StatusForbidden, "UNAUTHORIZED"},
		{domain.Errorf(domain.ErrNotFound, "wallet x"), http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrConcurrencyConflict, http.StatusConflict, "CONCURRENCY_CONFLICT"},
		{domain.Errorf(domain.ErrExternalService, "fx down"), http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR"},
		{domain.Errorf(domain.ErrFatalInfrastructure, "pg: connection refused"), http.StatusServiceUnavailable, "FATAL_INFRASTRUCTURE"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/operations/sendTip", nil)
		req.Header.Set("X-Trace-ID", "trace-1")
		WriteError(rec, req, tt.err)

		assert.Equal(t, tt.status, rec.Code, tt.code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		var d Details
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.Equal(t, tt.code, d.Code)
		assert.Equal(t, "/v1/operations/sendTip", d.Instance)
		assert.Equal(t, "trace-1", d.RequestID)
		assert.Equal(t, Type(Slug(tt.code)), d.Type)
	}
}

func TestWriteErrorHidesInfrastructureDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), domain.Errorf(domain.ErrFatalInfrastructure, "dial tcp 10.0.0.3:5432"))
	var d Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, domain.ErrFatalInfrastructure.Message, d.Detail)

	rec = httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "ledger/address-not-whitelisted", Slug("ADDRESS_NOT_WHITELISTED"))
	assert.Equal(t, http.StatusInternalServerError, StatusFor("SOMETHING_ELSE"))
}
