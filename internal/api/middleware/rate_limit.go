package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/api/problem"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits unauthenticated routes (token issue, deposit
// webhooks) per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests(fmt.Sprintf("more than %d requests per second from this address", rps))),
	)
}

// AuthRateLimiter limits authenticated routes per ledger actor. Requests
// without a parsable actor fall back to the client IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(actorKey),
		httprate.WithLimitHandler(tooManyRequests(fmt.Sprintf("more than %d requests per second for this actor", rps))),
	)
}

// OperationRateLimiter is the tighter budget for money-moving calls. The
// window is per actor and per operation name, so a burst of tips does not
// starve the same actor's withdrawals.
func OperationRateLimiter(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(actorKey, operationKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			tooManyRequests(fmt.Sprintf("more than %d %s calls per minute for this actor",
				perMinute, chi.URLParam(r, "name")))(w, r)
		}),
	)
}

func actorKey(r *http.Request) (string, error) {
	if actor, ok := ActorFromContext(r.Context()); ok {
		return "actor:" + actor.String(), nil
	}
	return httprate.KeyByIP(r)
}

func operationKey(r *http.Request) (string, error) {
	return "op:" + chi.URLParam(r, "name"), nil
}

func tooManyRequests(detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusTooManyRequests,
			problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests),
			detail)
	}
}
