package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxTraceIDLen = 128

// TraceMiddleware tags each request with a trace id. A caller supplied
// X-Trace-ID (or X-Request-ID from proxies that only set that) is kept when it
// is short and printable; otherwise a fresh one is minted.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := incomingTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		r.Header.Set("X-Trace-ID", traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceContextKey, traceID)))
	})
}

func incomingTraceID(r *http.Request) string {
	for _, h := range []string{"X-Trace-ID", "X-Request-ID"} {
		id := strings.TrimSpace(r.Header.Get(h))
		if id != "" && len(id) <= maxTraceIDLen && printable(id) {
			return id
		}
	}
	return ""
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
