package problem

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.wallet-ledger.dev/"

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

var statusByCode = map[string]int{
	domain.ErrValidation.Code:            http.StatusBadRequest,
	domain.ErrInsufficientFunds.Code:     http.StatusUnprocessableEntity,
	domain.ErrWalletFrozen.Code:          http.StatusLocked,
	domain.ErrWalletLocked.Code:          http.StatusLocked,
	domain.ErrUnauthorized.Code:          http.StatusForbidden,
	domain.ErrBelowMinimum.Code:          http.StatusUnprocessableEntity,
	domain.ErrAddressNotWhitelisted.Code: http.StatusUnprocessableEntity,
	domain.ErrCooldownActive.Code:        http.StatusTooManyRequests,
	domain.ErrNotFound.Code:              http.StatusNotFound,
	domain.ErrInvalidState.Code:          http.StatusConflict,
	domain.ErrConcurrencyConflict.Code:   http.StatusConflict,
	domain.ErrDuplicate.Code:             http.StatusConflict,
	domain.ErrInProgress.Code:            http.StatusConflict,
	domain.ErrExternalService.Code:       http.StatusBadGateway,
	domain.ErrFatalInfrastructure.Code:   http.StatusServiceUnavailable,
}

// StatusFor maps a ledger error code to its HTTP status.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Slug turns INSUFFICIENT_FUNDS into ledger/insufficient-funds.
func Slug(code string) string {
	return "ledger/" + strings.ReplaceAll(strings.ToLower(code), "_", "-")
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	write(w, r, Details{Type: problemType, Title: title, Status: status, Detail: detail})
}

// WriteLedger sends a problem document for a ledger failure.
func WriteLedger(w http.ResponseWriter, r *http.Request, code, detail string, retryable bool) {
	write(w, r, Details{
		Type:      Type(Slug(code)),
		Status:    StatusFor(code),
		Detail:    detail,
		Code:      code,
		Retryable: retryable,
	})
}

// WriteError maps err to a problem document. Errors outside the ledger
// taxonomy are reported as 500 without detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		Write(w, r, http.StatusInternalServerError, Type("internal-server-error"), "", "unexpected server error")
		return
	}
	detail := err.Error()
	if de == domain.ErrFatalInfrastructure {
		detail = de.Message
	}
	WriteLedger(w, r, de.Code, detail, de.Retryable)
}

func write(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get("X-Trace-ID")
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get("X-Trace-ID")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
