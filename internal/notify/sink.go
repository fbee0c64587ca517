// Package notify delivers ledger events to admins and audit consumers.
// Delivery is fire-and-forget: a failing sink never fails the ledger operation.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	EventWalletFrozen       = "wallet.frozen"
	EventWalletUnfrozen     = "wallet.unfrozen"
	EventFraudAlert         = "fraud.alert"
	EventWithdrawalRequest  = "withdrawal.requested"
	EventWithdrawalApproved = "withdrawal.approved"
	EventWithdrawalRejected = "withdrawal.rejected"
	EventLedgerImbalance    = "ledger.imbalance"
)

type Sink interface {
	Record(ctx context.Context, eventType string, details map[string]any)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(context.Context, string, map[string]any) {}

// LogSink writes events to the global zap logger.
type LogSink struct{}

func (LogSink) Record(_ context.Context, eventType string, details map[string]any) {
	zap.L().Info("ledger event", zap.String("event", eventType), zap.Any("details", details))
}

// RedisStreamSink appends events to a redis stream for downstream consumers.
type RedisStreamSink struct {
	client  redis.Cmdable
	stream  string
	maxLen  int64
	timeout time.Duration
}

func NewRedisStreamSink(client redis.Cmdable, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: 100_000, timeout: 2 * time.Second}
}

func (s *RedisStreamSink) Record(ctx context.Context, eventType string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		zap.L().Warn("marshal notification", zap.String("event", eventType), zap.Error(err))
		observability.IncrementNotificationFailure("redis")
		return
	}
	// The caller's request may already be finished; the event should still go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":        eventType,
			"details":     string(payload),
			"recorded_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		zap.L().Warn("redis notification failed", zap.String("event", eventType), zap.Error(err))
		observability.IncrementNotificationFailure("redis")
	}
}

// Fanout forwards each event to every sink in order.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, eventType string, details map[string]any) {
	for _, s := range f {
		if s != nil {
			s.Record(ctx, eventType, details)
		}
	}
}

// Event is one captured notification.
type Event struct {
	Type    string
	Details map[string]any
}

// MemorySink keeps events in memory; handy for admin dashboards in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Record(_ context.Context, eventType string, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Type: eventType, Details: details})
}

func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Count returns how many events of eventType were recorded.
func (m *MemorySink) Count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
