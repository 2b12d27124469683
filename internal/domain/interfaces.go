package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource provides exchange-rate quotes from an external source. The
// source may be slow, rate-limited or flaky; any error is retryable from the
// caller's point of view. Rates are quoted per 100 units of the currency.
type RateSource interface {
	// FetchRate returns the (buy-in, sell-out) pair for a currency observed
	// over a short date window ending at end
	FetchRate(ctx context.Context, currency string, start, end time.Time) (buyIn, sellOut decimal.Decimal, err error)
}

// QuoteSource provides last-observed market prices for security symbols
type QuoteSource interface {
	// Quote returns symbol -> last done price for the requested symbols.
	// Symbols with no quote available are absent from the result.
	Quote(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// BrokerClient exposes the brokerage account behind one set of credentials.
// Implementations wrap the concrete brokerage SDK.
type BrokerClient interface {
	// AccountBalance returns the authoritative current cash balance
	AccountBalance(ctx context.Context) (*BrokerBalance, error)

	// Positions returns all open security positions
	Positions(ctx context.Context) ([]BrokerPosition, error)

	// StaticInfo returns display names for the given symbols
	StaticInfo(ctx context.Context, symbols []string) ([]SecurityName, error)

	// OrdersSince returns filled/settled orders for the current trading
	// session plus history strictly after since. Callers must not trust the
	// filtering and re-check timestamps themselves.
	OrdersSince(ctx context.Context, since time.Time) ([]BrokerOrder, error)
}

// BrokerClientFactory builds a client for one brokerage config's credentials
type BrokerClientFactory func(cfg *BrokerConfig) (BrokerClient, error)
