package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/cryptomedia/wallet-ledger/internal/models"
	"github.com/cryptomedia/wallet-ledger/internal/service"
)

// OriginMiddleware records where a request came from so ledger operations can
// stamp it on the transactions they write. The country comes from the edge
// proxy's geo header.
func OriginMiddleware(countryHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			o := models.Origin{
				IP:       clientIP(r),
				DeviceID: strings.TrimSpace(r.Header.Get("X-Device-ID")),
			}
			if countryHeader != "" {
				o.Country = strings.ToUpper(strings.TrimSpace(r.Header.Get(countryHeader)))
			}
			next.ServeHTTP(w, r.WithContext(service.WithOrigin(r.Context(), o)))
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
