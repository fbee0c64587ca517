package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	ledgerImbalanceCounter    *prometheus.CounterVec
	idempotencyCounter        *prometheus.CounterVec
	withdrawalQueueGauge      prometheus.Gauge
	withdrawalReviewCounter   *prometheus.CounterVec
	workerRunCounter          *prometheus.CounterVec
	operationCounter          *prometheus.CounterVec
	operationDuration         *prometheus.HistogramVec
	fraudAlertCounter         *prometheus.CounterVec
	walletFreezeCounter       *prometheus.CounterVec
	rateProviderCounter       *prometheus.CounterVec
	pendingTransactionsSwept  prometheus.Counter
	notificationFailedCounter *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Wallets whose stored balances diverged from their ledger entries",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency outcomes",
		}, []string{"outcome"})

		withdrawalQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "withdrawal_review_queue_size",
			Help: "Withdrawal requests waiting for an admin decision",
		})

		withdrawalReviewCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_review_transitions_total",
			Help: "Withdrawal review decisions",
		}, []string{"action"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome code",
		}, []string{"operation", "outcome"})

		operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Ledger operation latency including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"})

		fraudAlertCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_alerts_total",
			Help: "Fraud alerts raised by pattern and severity",
		}, []string{"pattern", "severity"})

		walletFreezeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_status_changes_total",
			Help: "Wallet freezes, unfreezes and locks",
		}, []string{"status", "source"})

		rateProviderCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_provider_requests_total",
			Help: "Exchange rate lookups by source and result",
		}, []string{"source", "result"})

		pendingTransactionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pending_transactions_swept_total",
			Help: "Stale PENDING transactions marked FAILED",
		})

		notificationFailedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Notification deliveries that failed",
		}, []string{"sink"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			withdrawalQueueGauge,
			withdrawalReviewCounter,
			workerRunCounter,
			operationCounter,
			operationDuration,
			fraudAlertCounter,
			walletFreezeCounter,
			rateProviderCounter,
			pendingTransactionsSwept,
			notificationFailedCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(currency string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetWithdrawalQueueSize(size int64) {
	if withdrawalQueueGauge == nil {
		return
	}
	withdrawalQueueGauge.Set(float64(size))
}

func IncrementWithdrawalReview(action string) {
	if withdrawalReviewCounter == nil {
		return
	}
	withdrawalReviewCounter.WithLabelValues(action).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

// ObserveOperation records one Execute call; outcome is "success" or an error code.
func ObserveOperation(operation, outcome string, duration time.Duration) {
	if operationCounter == nil {
		return
	}
	operationCounter.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func IncrementFraudAlert(pattern, severity string) {
	if fraudAlertCounter == nil {
		return
	}
	fraudAlertCounter.WithLabelValues(pattern, severity).Inc()
}

func IncrementWalletStatusChange(status, source string) {
	if walletFreezeCounter == nil {
		return
	}
	walletFreezeCounter.WithLabelValues(status, source).Inc()
}

func IncrementRateLookup(source, result string) {
	if rateProviderCounter == nil {
		return
	}
	rateProviderCounter.WithLabelValues(source, result).Inc()
}

func AddPendingSwept(n int) {
	if pendingTransactionsSwept == nil || n <= 0 {
		return
	}
	pendingTransactionsSwept.Add(float64(n))
}

func IncrementNotificationFailure(sink string) {
	if notificationFailedCounter == nil {
		return
	}
	notificationFailedCounter.WithLabelValues(sink).Inc()
}
