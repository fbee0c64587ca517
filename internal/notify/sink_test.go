package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanoutDeliversToEverySink(t *testing.T) {
	a, b := &MemorySink{}, &MemorySink{}
	f := Fanout{a, nil, b, Nop{}, LogSink{}}

	f.Record(context.Background(), EventWalletFrozen, map[string]any{"wallet_id": "w1"})
	f.Record(context.Background(), EventFraudAlert, map[string]any{"pattern": "VELOCITY"})

	assert.Equal(t, 1, a.Count(EventWalletFrozen))
	assert.Equal(t, 1, b.Count(EventFraudAlert))
	assert.Len(t, b.Events(), 2)
	assert.Equal(t, "w1", a.Events()[0].Details["wallet_id"])
}
