// Package ratesource fetches bank exchange-rate listings over HTTP.
// Rates are quoted per 100 units of the foreign currency, matching the
// published FX board format.
package ratesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aristath/ledgerd/internal/reliability"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Config controls the rate source client
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerMinute throttles outbound calls. The public board bans
	// aggressive pollers.
	RequestsPerMinute int
	// FallbackRate, when positive, is returned for both sides after all
	// retries fail. Last-resort policy carried over from the legacy
	// system; leave zero to disable.
	FallbackRate decimal.Decimal
}

// Client fetches (buy-in, sell-out) rate pairs from an FX listing API
type Client struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	retryer  *reliability.Retryer
	breaker  *reliability.CircuitBreaker
	fallback decimal.Decimal
	log      zerolog.Logger
}

// NewClient creates a rate source client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}

	clientLog := log.With().Str("client", "ratesource").Logger()
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		retryer: reliability.NewRetryer(reliability.DefaultRetryConfig("ratesource"), clientLog),
		breaker: reliability.NewCircuitBreaker(reliability.BreakerConfig{
			MaxFailures: 5,
			Timeout:     2 * time.Minute,
			Name:        "ratesource",
		}, clientLog),
		fallback: cfg.FallbackRate,
		log:      clientLog,
	}
}

// listing is one row of the published FX board
type listing struct {
	Currency    string `json:"currency"`
	BuyIn       string `json:"buy_in"`
	SellOut     string `json:"sell_out"`
	PublishedAt string `json:"published_at"`
}

// FetchRate returns the latest (buy-in, sell-out) pair for a currency
// observed in [start, end]. Failures are retried with backoff behind a
// circuit breaker; if every attempt fails and a fallback rate is
// configured, the fallback is returned for both sides.
func (c *Client) FetchRate(ctx context.Context, currency string, start, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var buyIn, sellOut decimal.Decimal

	err := c.retryer.ExecuteWithCircuitBreaker(ctx, c.breaker, func() error {
		var err error
		buyIn, sellOut, err = c.fetchOnce(ctx, currency, start, end)
		return err
	})
	if err == nil {
		return buyIn, sellOut, nil
	}

	if c.fallback.IsPositive() {
		c.log.Warn().
			Err(err).
			Str("currency", currency).
			Str("fallback", c.fallback.String()).
			Msg("Rate source exhausted, using constant fallback rate")
		return c.fallback, c.fallback, nil
	}
	return decimal.Zero, decimal.Zero, err
}

func (c *Client) fetchOnce(ctx context.Context, currency string, start, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	query := url.Values{
		"currency": {currency},
		"start":    {start.UTC().Format("2006-01-02")},
		"end":      {end.UTC().Format("2006-01-02")},
	}
	requestURL := fmt.Sprintf("%s/rates?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, reliability.Permanent(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, decimal.Zero, fmt.Errorf("rate API returned status %d", resp.StatusCode)
	}

	var result struct {
		Rates []listing `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse rate response: %w", err)
	}
	if len(result.Rates) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("no rate published for %s in window", currency)
	}

	// Rows arrive newest first
	row := result.Rates[0]
	buyIn, err := decimal.NewFromString(row.BuyIn)
	if err != nil {
		return decimal.Zero, decimal.Zero, reliability.Permanent(fmt.Errorf("invalid buy_in %q: %w", row.BuyIn, err))
	}
	sellOut, err := decimal.NewFromString(row.SellOut)
	if err != nil {
		return decimal.Zero, decimal.Zero, reliability.Permanent(fmt.Errorf("invalid sell_out %q: %w", row.SellOut, err))
	}
	return buyIn, sellOut, nil
}
