package spec

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAPIHandlerConditionalGet(t *testing.T) {
	h := OpenAPIHandler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/yaml", rr.Header().Get("Content-Type"))
	assert.Equal(t, Document(), rr.Body.Bytes())
	tag := rr.Header().Get("ETag")
	require.NotEmpty(t, tag)

	req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
	req.Header.Set("If-None-Match", tag)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotModified, rr.Code)
	assert.Empty(t, rr.Body.Bytes())
}

func TestDocumentDescribesLedgerRoutes(t *testing.T) {
	doc := string(Document())
	for _, path := range []string{
		"/v1/operations/{name}",
		"/v1/wallets/{id}/transactions",
		"/v1/webhooks/deposits",
		"/v1/admin/withdrawals/{id}/approve",
		"/v1/admin/reconciliation",
	} {
		assert.Contains(t, doc, path+":")
	}
}
