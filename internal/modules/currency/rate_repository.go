// Package currency implements the exchange-rate cache and the conversion
// engine that routes amounts through the pivot currency.
package currency

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date key format for cached quotes
const DateLayout = "2006-01-02"

// RateRepository caches (currency, capture date) -> (buy-in, sell-out)
// quote pairs. Writes are idempotent upserts, so redundant fetch-on-miss
// races between concurrent callers are harmless.
type RateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRateRepository creates a new exchange-rate cache repository
func NewRateRepository(db *sql.DB, log zerolog.Logger) *RateRepository {
	return &RateRepository{
		db:  db,
		log: log.With().Str("repo", "exchange_rate").Logger(),
	}
}

// Get returns the cached quote for a currency captured on the given date,
// or ErrNotFound on a cache miss
func (r *RateRepository) Get(currency string, date time.Time) (*domain.RateQuote, error) {
	row := r.db.QueryRow(
		`SELECT id, currency, buy_in, sell_out, captured_date
		 FROM exchange_rates WHERE currency = ? AND captured_date = ?`,
		currency, date.UTC().Format(DateLayout),
	)

	var q domain.RateQuote
	var buyIn, sellOut string
	err := row.Scan(&q.ID, &q.Currency, &buyIn, &sellOut, &q.CapturedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query rate for %s: %v", domain.ErrPersistence, currency, err)
	}

	if q.BuyIn, err = decimal.NewFromString(buyIn); err != nil {
		return nil, fmt.Errorf("invalid buy_in %q: %w", buyIn, err)
	}
	if q.SellOut, err = decimal.NewFromString(sellOut); err != nil {
		return nil, fmt.Errorf("invalid sell_out %q: %w", sellOut, err)
	}
	return &q, nil
}

// Upsert stores a quote keyed by (currency, capture date), replacing any
// existing entry for the same key
func (r *RateRepository) Upsert(q *domain.RateQuote) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}

	_, err := r.db.Exec(
		`INSERT INTO exchange_rates (id, currency, buy_in, sell_out, captured_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (currency, captured_date) DO UPDATE SET
		   buy_in = excluded.buy_in,
		   sell_out = excluded.sell_out,
		   created_at = excluded.created_at`,
		q.ID, q.Currency, q.BuyIn.String(), q.SellOut.String(), q.CapturedDate,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert rate for %s: %v", domain.ErrPersistence, q.Currency, err)
	}

	r.log.Debug().
		Str("currency", q.Currency).
		Str("date", q.CapturedDate).
		Str("buy_in", q.BuyIn.String()).
		Str("sell_out", q.SellOut.String()).
		Msg("Cached exchange rate")
	return nil
}

// PurgeOlderThan deletes cache entries captured before the cutoff and
// returns how many were removed
func (r *RateRepository) PurgeOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM exchange_rates WHERE captured_date < ?`,
		cutoff.UTC().Format(DateLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to purge exchange rates: %v", domain.ErrPersistence, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
