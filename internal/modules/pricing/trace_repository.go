// Package pricing maintains market valuations: the latest observed unit
// price on each security account and the append-only price_trace series,
// including the total-portfolio series recorded under the reserved
// account id "0".
package pricing

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TraceRepository stores append-only price observations per account
type TraceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTraceRepository creates a new price-trace repository
func NewTraceRepository(db *sql.DB, log zerolog.Logger) *TraceRepository {
	return &TraceRepository{
		db:  db,
		log: log.With().Str("repo", "price_trace").Logger(),
	}
}

// Append records one observation. Points are never updated or deleted.
func (r *TraceRepository) Append(p *domain.PricePoint) error {
	res, err := r.db.Exec(
		`INSERT INTO price_trace (account_id, date, price) VALUES (?, ?, ?)`,
		p.AccountID, p.Date.UTC().Format(time.RFC3339), p.Price.String(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to append price point for %s: %v", domain.ErrPersistence, p.AccountID, err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// Series returns an account's observations within [start, end], oldest
// first. A zero start or end leaves that bound open.
func (r *TraceRepository) Series(accountID string, start, end time.Time) ([]domain.PricePoint, error) {
	query := `SELECT id, account_id, date, price FROM price_trace WHERE account_id = ?`
	args := []interface{}{accountID}
	if !start.IsZero() {
		query += ` AND date >= ?`
		args = append(args, start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		query += ` AND date <= ?`
		args = append(args, end.UTC().Format(time.RFC3339))
	}
	query += ` ORDER BY date ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query price trace for %s: %v", domain.ErrPersistence, accountID, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		p, err := scanPricePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, rows.Err()
}

// Latest returns the most recent observation for an account, or
// ErrNotFound when the series is empty
func (r *TraceRepository) Latest(accountID string) (*domain.PricePoint, error) {
	row := r.db.QueryRow(
		`SELECT id, account_id, date, price FROM price_trace
		 WHERE account_id = ? ORDER BY date DESC LIMIT 1`,
		accountID,
	)

	var p domain.PricePoint
	var date, price string
	err := row.Scan(&p.ID, &p.AccountID, &date, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query latest price for %s: %v", domain.ErrPersistence, accountID, err)
	}
	return fillPricePoint(&p, date, price)
}

func scanPricePoint(rows *sql.Rows) (*domain.PricePoint, error) {
	var p domain.PricePoint
	var date, price string
	if err := rows.Scan(&p.ID, &p.AccountID, &date, &price); err != nil {
		return nil, fmt.Errorf("failed to scan price point: %w", err)
	}
	return fillPricePoint(&p, date, price)
}

func fillPricePoint(p *domain.PricePoint, date, price string) (*domain.PricePoint, error) {
	var err error
	if p.Date, err = time.Parse(time.RFC3339, date); err != nil {
		return nil, fmt.Errorf("invalid price point date %q: %w", date, err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	return p, nil
}
