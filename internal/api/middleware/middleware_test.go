package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceMiddlewareKeepsOrMintsID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		value  string
		keep   bool
	}{
		{"trace header", "X-Trace-ID", "abc-123", true},
		{"request id header", "X-Request-ID", "req-9", true},
		{"control characters", "X-Trace-ID", "bad id\n", false},
		{"too long", "X-Trace-ID", strings.Repeat("a", maxTraceIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(tt.header, tt.value)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, seen, rr.Header().Get("X-Trace-ID"))
			if tt.keep {
				assert.Equal(t, tt.value, seen)
			} else {
				_, err := uuid.Parse(seen)
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecoverMiddlewareWritesProblem(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := TraceMiddleware(RecoverMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/operations/transfer", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), rr.Header().Get("X-Trace-ID"))
	require.Equal(t, 1, logs.FilterMessage("handler panic").Len())
}

func TestRecoverMiddlewareRethrowsAbort(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingMiddlewareLevelsAndActor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	auth := NewAuthenticator(strings.Repeat("k", 32), "", "")
	actor := uuid.New()
	token, err := auth.IssueToken(actor, time.Minute)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(LoggingMiddleware(zap.New(core)))
	r.With(auth.Middleware).Get("/v1/wallets", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/fail", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/wallets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/wallets", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 3)

	ok := entries[0]
	assert.Equal(t, zapcore.InfoLevel, ok.Level)
	fields := ok.ContextMap()
	assert.Equal(t, actor.String(), fields["actor"])
	assert.Equal(t, "/v1/wallets", fields["route"])
	assert.EqualValues(t, 2, fields["bytes"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.NotContains(t, entries[2].ContextMap(), "actor")
}

func TestRoutePatternForUnmatchedRequests(t *testing.T) {
	var pattern string
	r := chi.NewRouter()
	r.Get("/v1/wallets/{id}", func(_ http.ResponseWriter, r *http.Request) {
		pattern = routePattern(r)
	})
	r.NotFound(func(_ http.ResponseWriter, r *http.Request) {
		pattern = routePattern(r)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/wallets/"+uuid.NewString(), nil))
	assert.Equal(t, "/v1/wallets/{id}", pattern)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin.php", nil))
	assert.Equal(t, unmatchedRoute, pattern)
}

func TestRequireAdmin(t *testing.T) {
	admin := uuid.New()
	auth := NewAuthenticator(strings.Repeat("k", 32), "", "")
	h := auth.Middleware(RequireAdmin(func(id uuid.UUID) bool { return id == admin })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })))

	for _, tc := range []struct {
		actor uuid.UUID
		want  int
	}{{admin, http.StatusNoContent}, {uuid.New(), http.StatusForbidden}} {
		token, err := auth.IssueToken(tc.actor, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/withdrawals", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, tc.want, rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestOperationRateLimiterPerActorAndOperation(t *testing.T) {
	auth := NewAuthenticator(strings.Repeat("k", 32), "", "")
	r := chi.NewRouter()
	r.Use(auth.Middleware)
	r.With(OperationRateLimiter(2)).Post("/v1/operations/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	alice, bob := uuid.New(), uuid.New()
	call := func(actor uuid.UUID, op string) *httptest.ResponseRecorder {
		token, err := auth.IssueToken(actor, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/v1/operations/"+op, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, call(alice, "tip").Code)
	assert.Equal(t, http.StatusOK, call(alice, "tip").Code)

	limited := call(alice, "tip")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Header().Get("Content-Type"), "application/problem+json")
	assert.Contains(t, limited.Body.String(), "rate-limit-exceeded")
	assert.Contains(t, limited.Body.String(), "tip calls per minute")

	assert.Equal(t, http.StatusOK, call(alice, "withdraw").Code, "separate window per operation")
	assert.Equal(t, http.StatusOK, call(bob, "tip").Code, "separate window per actor")
}

func TestAuthRateLimiterKeysOnActor(t *testing.T) {
	alice := uuid.New()
	h := AuthRateLimiter(1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	call := func(ctx context.Context) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/wallets", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	as := func(id uuid.UUID) context.Context {
		return context.WithValue(context.Background(), userContextKey, id.String())
	}

	assert.Equal(t, http.StatusOK, call(as(alice)))
	assert.Equal(t, http.StatusTooManyRequests, call(as(alice)))
	// Same remote address, different actor.
	assert.Equal(t, http.StatusOK, call(as(uuid.New())))
}
