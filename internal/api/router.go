package api

import (
	"net/http"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/api/handler"
	"github.com/cryptomedia/wallet-ledger/internal/api/middleware"
	"github.com/cryptomedia/wallet-ledger/internal/api/spec"
	"github.com/cryptomedia/wallet-ledger/internal/idempotency"
	"github.com/cryptomedia/wallet-ledger/internal/permission"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Options tunes the HTTP surface.
type Options struct {
	PublicRateLimitRPS int
	AuthRateLimitRPS   int
	// Per actor and operation name, per minute.
	OperationRatePerMin int
	GeoCountryHeader    string
	EnableDevTokens     bool
	DevTokenTTL         time.Duration
}

// Services are the collaborators the handlers call into.
type Services struct {
	Engine         *service.Engine
	Wallets        *service.WalletService
	Fraud          *service.FraudService
	Reconciliation *service.ReconciliationService
	Webhooks       *service.DepositWebhookService
	Gate           *permission.PolicyGate
	Auth           *middleware.Authenticator
	Idempotency    *idempotency.Store
	// Health probes by name; nil entries are ignored.
	Health map[string]handler.Pinger
}

type Router struct {
	opts   Options
	logger *zap.Logger
	svc    Services
}

func NewRouter(opts Options, logger *zap.Logger, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PublicRateLimitRPS <= 0 {
		opts.PublicRateLimitRPS = 10
	}
	if opts.AuthRateLimitRPS <= 0 {
		opts.AuthRateLimitRPS = 100
	}
	if opts.OperationRatePerMin <= 0 {
		opts.OperationRatePerMin = 60
	}
	return &Router{opts: opts, logger: logger, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.OriginMiddleware(api.opts.GeoCountryHeader))

	health := handler.NewHealthHandler(api.svc.Health)
	operations := handler.NewOperationHandler(api.svc.Engine)
	wallets := handler.NewWalletHandler(api.svc.Wallets, api.svc.Engine, api.svc.Gate)
	records := handler.NewRecordHandler(api.svc.Engine, api.svc.Wallets, api.svc.Gate)
	admin := handler.NewAdminHandler(api.svc.Engine, api.svc.Wallets, api.svc.Fraud, api.svc.Reconciliation)
	idem := middleware.IdempotencyMiddleware(api.svc.Idempotency, api.logger)

	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.opts.PublicRateLimitRPS))
		if api.opts.EnableDevTokens {
			auth := handler.NewAuthHandler(api.svc.Auth, api.opts.DevTokenTTL)
			r.Post("/v1/auth/token", auth.IssueToken)
		}
		if api.svc.Webhooks != nil {
			webhooks := handler.NewWebhookHandler(api.svc.Webhooks)
			r.Post("/v1/webhooks/deposits", webhooks.HandleDepositWebhook)
		}
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(api.svc.Auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.opts.AuthRateLimitRPS))

		r.Get("/v1/operations", operations.List)
		r.With(middleware.OperationRateLimiter(api.opts.OperationRatePerMin), idem).
			Post("/v1/operations/{name}", operations.Execute)

		// Wallets
		r.With(idem).Post("/v1/wallets", wallets.CreateWallet)
		r.Get("/v1/wallets", wallets.ListWallets)
		r.Get("/v1/wallets/{id}", wallets.GetWallet)
		r.Get("/v1/wallets/{id}/transactions", wallets.ListTransactions)
		r.Get("/v1/wallets/{id}/staking", wallets.ListStaking)
		r.Get("/v1/transactions/{id}", wallets.GetTransaction)

		// Records
		r.Get("/v1/staking/{id}", records.GetStaking)
		r.Get("/v1/escrows/{id}", records.GetEscrow)
		r.Get("/v1/airdrops/{id}", records.GetAirdrop)
		r.Get("/v1/withdrawals/{id}", records.GetWithdrawal)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(api.svc.Gate.IsAdmin))

			r.Get("/withdrawals", admin.PendingWithdrawals)
			r.With(idem).Post("/withdrawals/{id}/approve", admin.ApproveWithdrawal)
			r.With(idem).Post("/withdrawals/{id}/reject", admin.RejectWithdrawal)

			r.Get("/fraud-alerts", admin.ListFraudAlerts)
			r.Get("/fraud-alerts/{id}", admin.GetFraudAlert)
			r.Post("/fraud-alerts/{id}/resolve", admin.ResolveFraudAlert)
			r.Post("/fraud-scan", admin.ScanFraud)

			r.Post("/wallets/{id}/freeze", admin.FreezeWallet)
			r.Post("/wallets/{id}/lock", admin.LockWallet)
			r.Post("/wallets/{id}/unlock", admin.UnlockWallet)

			r.Post("/reconciliation", admin.Reconcile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "request/not-found", "route not found")
	})

	return r
}
