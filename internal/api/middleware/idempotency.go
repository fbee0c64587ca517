package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cryptomedia/wallet-ledger/internal/api/problem"
	"github.com/cryptomedia/wallet-ledger/internal/idempotency"
	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxKeyLen         = 255
	maxGuardedBody    = 1 << 20
)

// IdempotencyMiddleware makes mutating requests safe to retry. Every guarded
// request must carry an Idempotency-Key; keys are scoped to the authenticated
// caller. A repeat with the same body replays the stored response, a repeat
// with a different body is a 409, and 5xx outcomes release the key.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	g := &guard{store: store, logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

type guard struct {
	store  *idempotency.Store
	logger *zap.Logger
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key, ok := g.scopedKey(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGuardedBody))
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), "", "request body unreadable or too large")
		return
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	hash := requestHash(r.Method, r.URL.Path, body)

	switch rec, err := g.store.Lookup(r.Context(), key, hash); {
	case err == nil:
		g.replay(w, rec, "replay")
		return
	case errors.Is(err, idempotency.ErrHashMismatch):
		observability.IncrementIdempotencyEvent("hash_mismatch")
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), "", "idempotency key reused with a different request")
		return
	case errors.Is(err, idempotency.ErrInProgress):
		g.await(w, r, key, hash)
		return
	case !errors.Is(err, idempotency.ErrNotFound):
		observability.IncrementIdempotencyEvent("lookup_error")
		g.logger.Warn("idempotency lookup failed", zap.Error(err), zap.String("key", key))
	}

	reserved, err := g.store.Reserve(r.Context(), key, hash, r.Method, r.URL.Path)
	if err != nil {
		observability.IncrementIdempotencyEvent("reserve_error")
		g.logger.Error("idempotency reserve failed", zap.Error(err), zap.String("key", key))
		problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("idempotency/unavailable"), "", "idempotency store unavailable")
		return
	}
	if !reserved {
		g.await(w, r, key, hash)
		return
	}
	observability.IncrementIdempotencyEvent("reserved")

	capture := &captureWriter{ResponseWriter: w}
	next.ServeHTTP(capture, r)
	g.settle(r, key, hash, capture)
}

// scopedKey validates the header and prefixes it with the caller id.
func (g *guard) scopedKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	switch {
	case key == "":
		observability.IncrementIdempotencyEvent("missing_key")
		problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/missing-key"), "", "Idempotency-Key header is required")
		return "", false
	case len(key) > maxKeyLen || !printable(key):
		observability.IncrementIdempotencyEvent("invalid_key")
		problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/invalid-key"), "", "Idempotency-Key must be at most 255 printable characters")
		return "", false
	}
	if actor := UserIDFromContext(r.Context()); actor != "" {
		key = actor + ":" + key
	}
	return key, true
}

// await blocks on a concurrent request holding the same key.
func (g *guard) await(w http.ResponseWriter, r *http.Request, key, hash string) {
	rec, err := g.store.WaitForCompletion(r.Context(), key, hash)
	if err == nil {
		g.replay(w, rec, "replay_after_wait")
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	g.logger.Warn("idempotency wait failed", zap.Error(err), zap.String("key", key))
	problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), "", "a request with this idempotency key is still processing")
}

func (g *guard) replay(w http.ResponseWriter, rec *idempotency.Record, event string) {
	observability.IncrementIdempotencyEvent(event)
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("X-Idempotent-Replay", rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

// settle stores the final response, or frees the key when the outcome was a
// server error the client may retry.
func (g *guard) settle(r *http.Request, key, hash string, c *captureWriter) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	if c.status >= http.StatusInternalServerError {
		if err := g.store.Release(r.Context(), key); err != nil {
			g.logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", key))
		}
		observability.IncrementIdempotencyEvent("released")
		return
	}
	contentType := c.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := g.store.Finalize(r.Context(), key, hash, c.status, c.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		g.logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", key))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
