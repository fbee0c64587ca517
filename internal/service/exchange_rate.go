package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/observability"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ExchangeRateService defines the interface for fetching FX rates.
type ExchangeRateService interface {
	// GetExchangeRate returns how many target units one source unit buys.
	GetExchangeRate(ctx context.Context, sourceCurrency, targetCurrency string) (decimal.Decimal, error)
}

// StaticRateService quotes from an in-memory table. Inverse pairs are derived.
type StaticRateService struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewStaticRateService(rates map[string]decimal.Decimal) *StaticRateService {
	s := &StaticRateService{rates: make(map[string]decimal.Decimal, len(rates))}
	for pair, r := range rates {
		s.rates[strings.ToUpper(pair)] = r
	}
	return s
}

// DefaultStaticRates prices JY against the fiat and crypto symbols the off-ramp supports.
func DefaultStaticRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"JY:USD":  decimal.RequireFromString("0.01"),
		"JY:EUR":  decimal.RequireFromString("0.0092"),
		"JY:GBP":  decimal.RequireFromString("0.0079"),
		"JY:USDT": decimal.RequireFromString("0.01"),
		"JY:USDC": decimal.RequireFromString("0.01"),
		"JY:ETH":  decimal.RequireFromString("0.000004"),
		"JY:BTC":  decimal.RequireFromString("0.00000015"),
		"JY:SOL":  decimal.RequireFromString("0.00007"),
	}
}

func pairKey(source, target string) string {
	return strings.ToUpper(source) + ":" + strings.ToUpper(target)
}

// SetRate replaces the quote for a pair.
func (s *StaticRateService) SetRate(source, target string, r decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairKey(source, target)] = r
}

func (s *StaticRateService) GetExchangeRate(_ context.Context, source, target string) (decimal.Decimal, error) {
	if strings.EqualFold(source, target) {
		return decimal.NewFromInt(1), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rates[pairKey(source, target)]; ok {
		observability.IncrementRateLookup("static", "ok")
		return r, nil
	}
	if r, ok := s.rates[pairKey(target, source)]; ok && !r.IsZero() {
		observability.IncrementRateLookup("static", "ok")
		return decimal.NewFromInt(1).Div(r), nil
	}
	observability.IncrementRateLookup("static", "miss")
	return decimal.Zero, domain.Errorf(domain.ErrExternalService, "no rate for %s/%s", source, target)
}

// HTTPRateProvider asks a remote quote service for rates. Outbound calls are
// throttled with a token bucket so a burst of conversions cannot exhaust the
// provider's quota.
type HTTPRateProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPRateProvider(baseURL string, rps float64, client *http.Client) *HTTPRateProvider {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &HTTPRateProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

func (p *HTTPRateProvider) GetExchangeRate(ctx context.Context, source, target string) (decimal.Decimal, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		observability.IncrementRateLookup("http", "throttled")
		return decimal.Zero, domain.Errorf(domain.ErrExternalService, "rate limiter: %v", err)
	}

	q := url.Values{}
	q.Set("from", strings.ToUpper(source))
	q.Set("to", strings.ToUpper(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/rates?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		observability.IncrementRateLookup("http", "error")
		return decimal.Zero, domain.Errorf(domain.ErrExternalService, "rate provider: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.IncrementRateLookup("http", "error")
		return decimal.Zero, domain.Errorf(domain.ErrExternalService, "rate provider returned %d", resp.StatusCode)
	}
	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		observability.IncrementRateLookup("http", "error")
		return decimal.Zero, domain.Errorf(domain.ErrExternalService, "decode rate: %v", err)
	}
	if !body.Rate.IsPositive() {
		observability.IncrementRateLookup("http", "error")
		return decimal.Zero, domain.Errorf(domain.ErrExternalService, "rate provider returned non-positive rate %s", body.Rate)
	}
	observability.IncrementRateLookup("http", "ok")
	return body.Rate, nil
}

// CachedRateProvider keeps recent quotes in redis. Cache failures fall
// through to the wrapped provider.
type CachedRateProvider struct {
	client redis.Cmdable
	next   ExchangeRateService
	ttl    time.Duration
	prefix string
}

func NewCachedRateProvider(client redis.Cmdable, next ExchangeRateService, ttl time.Duration) *CachedRateProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRateProvider{client: client, next: next, ttl: ttl, prefix: "fx:rate:"}
}

func (c *CachedRateProvider) GetExchangeRate(ctx context.Context, source, target string) (decimal.Decimal, error) {
	key := c.prefix + pairKey(source, target)
	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if r, perr := decimal.NewFromString(raw); perr == nil {
			observability.IncrementRateLookup("cache", "hit")
			return r, nil
		}
	case errors.Is(err, redis.Nil):
		observability.IncrementRateLookup("cache", "miss")
	default:
		zap.L().Warn("rate cache read failed", zap.String("key", key), zap.Error(err))
	}

	r, err := c.next.GetExchangeRate(ctx, source, target)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, key, r.String(), c.ttl).Err(); err != nil {
		zap.L().Warn("rate cache write failed", zap.String("key", key), zap.Error(err))
	}
	return r, nil
}

var (
	_ ExchangeRateService = (*StaticRateService)(nil)
	_ ExchangeRateService = (*HTTPRateProvider)(nil)
	_ ExchangeRateService = (*CachedRateProvider)(nil)
)
