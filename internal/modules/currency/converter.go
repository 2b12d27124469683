package currency

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Converter resolves exchange rates cache-first and converts amounts
// through the pivot (reporting) currency. The pivot has a fixed identity
// rate and is never fetched or cached.
type Converter struct {
	rates     *RateRepository
	source    domain.RateSource
	pivot     string
	supported map[string]bool
	log       zerolog.Logger
}

// NewConverter creates a conversion engine.
// supported must include the pivot currency.
func NewConverter(rates *RateRepository, source domain.RateSource, pivot string, supported []string, log zerolog.Logger) *Converter {
	set := make(map[string]bool, len(supported))
	for _, c := range supported {
		set[c] = true
	}
	set[pivot] = true

	return &Converter{
		rates:     rates,
		source:    source,
		pivot:     pivot,
		supported: set,
		log:       log.With().Str("service", "currency_converter").Logger(),
	}
}

// Pivot returns the reporting currency
func (c *Converter) Pivot() string {
	return c.pivot
}

// Supported reports whether a currency is in the configured set
func (c *Converter) Supported(currency string) bool {
	return c.supported[currency]
}

// ResolveRate returns the quote for a currency as of a calendar date,
// consulting the cache first and falling back to the external source on a
// miss. A fetched quote is persisted keyed by its capture date. The pivot
// currency resolves to the fixed identity quote (100/100, rates being
// quoted per 100 units) without any lookup.
func (c *Converter) ResolveRate(ctx context.Context, currency string, date time.Time) (*domain.RateQuote, error) {
	if currency == c.pivot {
		return &domain.RateQuote{
			Currency:     currency,
			BuyIn:        oneHundred,
			SellOut:      oneHundred,
			CapturedDate: date.UTC().Format(DateLayout),
		}, nil
	}
	if !c.supported[currency] {
		return nil, &domain.UnsupportedCurrencyError{Currency: currency}
	}

	quote, err := c.rates.Get(currency, date)
	if err == nil {
		return quote, nil
	}

	// Cache miss: ask the external source over a short window ending at the
	// requested date. Failures propagate; the engine never substitutes a
	// default rate.
	start := date.AddDate(0, 0, -1)
	buyIn, sellOut, err := c.source.FetchRate(ctx, currency, start, date)
	if err != nil {
		return nil, fmt.Errorf("%w: rate fetch for %s failed: %v", domain.ErrExternalSourceUnavailable, currency, err)
	}

	quote = &domain.RateQuote{
		Currency:     currency,
		BuyIn:        buyIn,
		SellOut:      sellOut,
		CapturedDate: date.UTC().Format(DateLayout),
	}
	if err := c.rates.Upsert(quote); err != nil {
		// Cache write failure is not fatal to the conversion itself
		c.log.Warn().Err(err).Str("currency", currency).Msg("Failed to cache fetched rate")
	}

	c.log.Info().
		Str("currency", currency).
		Str("buy_in", buyIn.String()).
		Str("sell_out", sellOut.String()).
		Msg("Fetched exchange rate")
	return quote, nil
}

// Convert converts an amount between two supported currencies as of a
// calendar date (today when date is zero). Rates are quoted per 100 units,
// hence the /100 and *100 scaling either side of the pivot hop:
//
//	pivot  = amount / 100 * buyIn(from)
//	result = pivot / sellOut(to) * 100
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	if !c.supported[from] {
		return decimal.Zero, &domain.UnsupportedCurrencyError{Currency: from}
	}
	if !c.supported[to] {
		return decimal.Zero, &domain.UnsupportedCurrencyError{Currency: to}
	}
	if from == to {
		return amount, nil
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}

	fromQuote, err := c.ResolveRate(ctx, from, date)
	if err != nil {
		return decimal.Zero, err
	}
	toQuote, err := c.ResolveRate(ctx, to, date)
	if err != nil {
		return decimal.Zero, err
	}

	inPivot := amount.Div(oneHundred).Mul(fromQuote.BuyIn)
	return inPivot.Div(toQuote.SellOut).Mul(oneHundred), nil
}
