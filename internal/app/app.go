package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/api"
	"github.com/cryptomedia/wallet-ledger/internal/api/handler"
	"github.com/cryptomedia/wallet-ledger/internal/api/middleware"
	"github.com/cryptomedia/wallet-ledger/internal/config"
	"github.com/cryptomedia/wallet-ledger/internal/db"
	"github.com/cryptomedia/wallet-ledger/internal/idempotency"
	"github.com/cryptomedia/wallet-ledger/internal/notify"
	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/cryptomedia/wallet-ledger/internal/permission"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/cryptomedia/wallet-ledger/internal/service"
	"github.com/cryptomedia/wallet-ledger/internal/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// WebhookActorID is the ledger actor provider deposit callbacks run as.
var WebhookActorID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("wallet-ledger:deposit-webhook"))

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(redisClient, repository.New(pool), cfg.IdempotencyTTL)
	sink := notify.Fanout{notify.LogSink{}, notify.NewRedisStreamSink(redisClient, cfg.NotifyStream)}

	gate := permission.NewPolicyGate(cfg.AdminUserIDs...)
	gate.Grant(WebhookActorID, string(service.OpDepositCrypto), permission.AnyResource)
	gate.Grant(WebhookActorID, string(service.OpDepositFiat), permission.AnyResource)

	audit := service.NewAuditService()
	wallets := service.NewWalletService(store, audit, sink)
	if _, err := wallets.EnsureTreasury(ctx); err != nil {
		return fmt.Errorf("ensure treasury wallets: %w", err)
	}
	engine := service.NewEngine(store, wallets, audit, gate, newRates(cfg, redisClient), sink, policyFrom(cfg))
	fraud := service.NewFraudService(store, wallets, audit, sink, fraudFrom(cfg))
	recon := service.NewReconciliationService(store, audit, sink, cfg.PendingTimeout)
	webhooks := service.NewDepositWebhookService(engine, WebhookActorID, cfg.WebhookHMACKey, cfg.WebhookSkipSignature)

	sched := worker.NewTickerScheduler()
	fraudWorker := worker.NewFraudWorker(fraud, sched).WithInterval(cfg.FraudInterval)
	reconWorker := worker.NewReconciliationWorker(recon, sched).WithInterval(cfg.ReconInterval)
	stopFraud := fraudWorker.Run(ctx)
	stopRecon := reconWorker.Run(ctx)
	logger.Info("workers started",
		zap.Duration("fraud_interval", cfg.FraudInterval),
		zap.Duration("reconciliation_interval", cfg.ReconInterval))

	router := api.NewRouter(api.Options{
		PublicRateLimitRPS:  cfg.PublicRateLimitRPS,
		AuthRateLimitRPS:    cfg.AuthRateLimitRPS,
		OperationRatePerMin: cfg.OperationRatePerMin,
		GeoCountryHeader:    cfg.GeoCountryHeader,
		EnableDevTokens:     cfg.EnableDevTokens,
	}, logger, api.Services{
		Engine:         engine,
		Wallets:        wallets,
		Fraud:          fraud,
		Reconciliation: recon,
		Webhooks:       webhooks,
		Gate:           gate,
		Auth:           middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		Idempotency:    idemStore,
		Health: map[string]handler.Pinger{
			"database": handler.PingFunc(pool.Ping),
			"redis":    handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			stopFraud()
			stopRecon()
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopFraud()
	stopRecon()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func policyFrom(cfg *config.Config) service.Policy {
	p := service.DefaultPolicy()
	l := cfg.Ledger
	p.WithdrawalMinAmount = l.WithdrawalMinAmount
	p.WithdrawalCooldown = l.WithdrawalCooldown
	p.WithdrawalWeekdays = l.WithdrawalWeekdays
	p.EarlyUnlockPenalty = l.EarlyUnlockPenalty
	for tier, apr := range l.TierAPRs {
		p.TierAPRs[tier] = apr
	}
	p.TipFeeRate = l.TipFeeRate
	p.PurchaseFeeRate = l.PurchaseFeeRate
	p.CEPerJY = l.CEPerJY
	p.MaxRetries = l.MaxRetries
	p.PendingTimeout = cfg.PendingTimeout
	return p
}

func fraudFrom(cfg *config.Config) service.FraudConfig {
	f := cfg.Fraud
	return service.FraudConfig{
		Lookback:          f.Lookback,
		VelocityCount:     f.VelocityCount,
		VelocityWindow:    f.VelocityWindow,
		AmountMultiplier:  f.AmountMultiplier,
		NewWalletAge:      f.NewWalletAge,
		LargeWithdrawal:   f.LargeWithdrawal,
		DormantAfter:      f.DormantAfter,
		RoundTripWindow:   f.RoundTripWindow,
		FailedWithdrawals: f.FailedWithdrawals,
		WhitelistWindow:   f.WhitelistWindow,
	}
}

// newRates quotes from the remote provider behind the redis cache when one is
// configured, and from the built-in table otherwise.
func newRates(cfg *config.Config, client redis.Cmdable) service.ExchangeRateService {
	if cfg.Rates.ProviderURL == "" {
		return service.NewStaticRateService(service.DefaultStaticRates())
	}
	provider := service.NewHTTPRateProvider(cfg.Rates.ProviderURL, cfg.Rates.ProviderRPS, nil)
	return service.NewCachedRateProvider(client, provider, cfg.Rates.CacheTTL)
}

func newLogger(level, file string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil || file == "" {
		return logger, err
	}
	rotating := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), rotating, cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
