package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// FallbackRate is used when the public rate API is unreachable. An explicit,
// documented degradation: deposits and withdrawals keep flowing on a stale
// rate rather than halting.
var FallbackRate = decimal.NewFromFloat(0.012)

// Converter fetches and caches the quote-to-settlement currency rate
// (INR to USD by default) from a public rate API.
type Converter struct {
	http *resty.Client
	from string
	to   string
	ttl  time.Duration

	mu        sync.RWMutex
	rate      decimal.Decimal
	fetchedAt time.Time

	group singleflight.Group
}

func NewConverter(apiURL string, ttl time.Duration) *Converter {
	return &Converter{
		http: resty.New().
			SetBaseURL(apiURL).
			SetTimeout(10 * time.Second),
		from: "INR",
		to:   "USD",
		ttl:  ttl,
	}
}

type rateResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// Rate returns the cached conversion rate, refreshing it when stale.
// On refresh failure the fallback rate is returned, never an error.
func (c *Converter) Rate(ctx context.Context) decimal.Decimal {
	c.mu.RLock()
	rate, fetchedAt := c.rate, c.fetchedAt
	c.mu.RUnlock()

	if !rate.IsZero() && time.Since(fetchedAt) < c.ttl {
		return rate
	}

	result, err, _ := c.group.Do("rate", func() (interface{}, error) {
		fresh, err := c.fetch(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		c.mu.Lock()
		c.rate = fresh
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		log.Warn().Err(err).
			Str("from", c.from).
			Str("to", c.to).
			Msg("rate fetch failed, using fallback rate")
		if !rate.IsZero() {
			return rate // stale beats hardcoded
		}
		return FallbackRate
	}
	return result.(decimal.Decimal)
}

func (c *Converter) fetch(ctx context.Context) (decimal.Decimal, error) {
	var out rateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"amount": "1",
			"from":   c.from,
			"to":     c.to,
		}).
		SetResult(&out).
		Get("")
	if err != nil {
		return decimal.Zero, err
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("rate API returned %s", resp.Status())
	}
	rate, ok := out.Rates[c.to]
	if !ok || rate <= 0 {
		return decimal.Zero, fmt.Errorf("rate API response missing %s rate", c.to)
	}
	return decimal.NewFromFloat(rate), nil
}

// Convert translates an amount in the quote currency into the settlement
// currency, rounded to two decimal places.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(c.Rate(ctx)).Round(2)
}
