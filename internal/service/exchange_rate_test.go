package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRateService(t *testing.T) {
	s := NewStaticRateService(map[string]decimal.Decimal{"jy:usd": decimal.RequireFromString("0.01")})
	ctx := context.Background()

	r, err := s.GetExchangeRate(ctx, "JY", "USD")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.01")))

	inverse, err := s.GetExchangeRate(ctx, "usd", "jy")
	require.NoError(t, err)
	assert.True(t, inverse.Equal(decimal.NewFromInt(100)))

	same, err := s.GetExchangeRate(ctx, "JY", "jy")
	require.NoError(t, err)
	assert.True(t, same.Equal(decimal.NewFromInt(1)))

	_, err = s.GetExchangeRate(ctx, "JY", "CHF")
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestHTTPRateProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rates" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("to") {
		case "USD":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"rate":"0.0125"}`))
		case "EUR":
			_, _ = w.Write([]byte(`{"rate":"0"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	p := NewHTTPRateProvider(srv.URL+"/", 100, srv.Client())
	ctx := context.Background()

	r, err := p.GetExchangeRate(ctx, "jy", "usd")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.0125")))

	_, err = p.GetExchangeRate(ctx, "JY", "EUR")
	assert.ErrorIs(t, err, domain.ErrExternalService)

	_, err = p.GetExchangeRate(ctx, "JY", "GBP")
	assert.ErrorIs(t, err, domain.ErrExternalService)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.GetExchangeRate(cancelled, "JY", "USD")
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

type countingRates struct {
	calls atomic.Int32
}

func (c *countingRates) GetExchangeRate(context.Context, string, string) (decimal.Decimal, error) {
	c.calls.Add(1)
	return decimal.RequireFromString("0.02"), nil
}

func TestCachedRateProviderFallsThroughWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	next := &countingRates{}
	p := NewCachedRateProvider(client, next, time.Minute)

	for i := 0; i < 2; i++ {
		r, err := p.GetExchangeRate(context.Background(), "JY", "USD")
		require.NoError(t, err)
		assert.True(t, r.Equal(decimal.RequireFromString("0.02")))
	}
	assert.Equal(t, int32(2), next.calls.Load())
}
