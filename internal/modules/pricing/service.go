package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/currency"
	"github.com/aristath/ledgerd/internal/modules/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service refreshes market prices on security accounts and records
// portfolio valuations as price-trace observations.
type Service struct {
	accounts  *ledger.AccountRepository
	trace     *TraceRepository
	quotes    domain.QuoteSource
	converter *currency.Converter
	log       zerolog.Logger
}

// NewService creates a new pricing service
func NewService(accounts *ledger.AccountRepository, trace *TraceRepository, quotes domain.QuoteSource, converter *currency.Converter, log zerolog.Logger) *Service {
	return &Service{
		accounts:  accounts,
		trace:     trace,
		quotes:    quotes,
		converter: converter,
		log:       log.With().Str("service", "pricing").Logger(),
	}
}

// Trace exposes the price-trace repository for read paths
func (s *Service) Trace() *TraceRepository {
	return s.trace
}

// RefreshMarketPrices pulls last-done quotes for every active security
// account and updates each account's market price. Accounts whose symbol
// the source cannot quote keep their previous price.
func (s *Service) RefreshMarketPrices(ctx context.Context) error {
	accounts, err := s.accounts.ListActiveByType(domain.AccountTypeStock)
	if err != nil {
		return fmt.Errorf("failed to list security accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(accounts))
	seen := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if !seen[a.Symbol] {
			seen[a.Symbol] = true
			symbols = append(symbols, a.Symbol)
		}
	}

	prices, err := s.quotes.Quote(ctx, symbols)
	if err != nil {
		return fmt.Errorf("%w: quote fetch failed: %v", domain.ErrExternalSourceUnavailable, err)
	}

	updated := 0
	for _, a := range accounts {
		price, ok := prices[a.Symbol]
		if !ok {
			continue
		}
		if err := s.accounts.UpdateMarketPrice(a.ID, price); err != nil {
			s.log.Warn().Err(err).Str("account_id", a.ID).Msg("Failed to update market price")
			continue
		}
		updated++
	}

	s.log.Debug().Int("requested", len(symbols)).Int("updated", updated).Msg("Refreshed market prices")
	return nil
}

// RecordSecurityTraces appends the current market price of every active
// security account to its price series
func (s *Service) RecordSecurityTraces(now time.Time) error {
	accounts, err := s.accounts.ListActiveByType(domain.AccountTypeStock)
	if err != nil {
		return fmt.Errorf("failed to list security accounts: %w", err)
	}

	for _, a := range accounts {
		if a.MarketPrice.IsZero() {
			continue
		}
		point := &domain.PricePoint{AccountID: a.ID, Date: now, Price: a.MarketPrice}
		if err := s.trace.Append(point); err != nil {
			return err
		}
	}
	return nil
}

// UserTotalValue values a user's active holdings in the pivot currency.
// Securities are valued at market price when one has been observed and at
// average cost otherwise; cash and other assets at cost. Group accounts
// aggregate children that are valued directly, so they are skipped.
func (s *Service) UserTotalValue(ctx context.Context, userID string, asOf time.Time) (decimal.Decimal, error) {
	accounts, err := s.accounts.ListByUser(userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list accounts for %s: %w", userID, err)
	}

	total := decimal.Zero
	for _, a := range accounts {
		if a.Type == domain.AccountTypeGroup {
			continue
		}

		unit := a.Cost
		if a.Type == domain.AccountTypeStock && !a.MarketPrice.IsZero() {
			unit = a.MarketPrice
		}
		value := a.Quantity.Mul(unit)
		if value.IsZero() {
			continue
		}

		converted, err := s.converter.Convert(ctx, value, a.Currency, s.converter.Pivot(), asOf)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to value account %s: %w", a.ID, err)
		}
		total = total.Add(converted)
	}
	return total, nil
}

// SnapshotTotalAssets appends one total-portfolio observation per user
// with active accounts, recorded under the reserved account id. A failing
// user does not block the rest.
func (s *Service) SnapshotTotalAssets(ctx context.Context, now time.Time) error {
	userIDs, err := s.accounts.ListActiveUserIDs()
	if err != nil {
		return err
	}

	var firstErr error
	for _, userID := range userIDs {
		total, err := s.UserTotalValue(ctx, userID, now)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to value portfolio")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		point := &domain.PricePoint{
			AccountID: domain.TotalPortfolioAccountID + "_" + userID,
			Date:      now,
			Price:     total,
		}
		if err := s.trace.Append(point); err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to record portfolio snapshot")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// TotalAssetSeries returns a user's total-portfolio series within the
// given window
func (s *Service) TotalAssetSeries(userID string, start, end time.Time) ([]domain.PricePoint, error) {
	return s.trace.Series(domain.TotalPortfolioAccountID+"_"+userID, start, end)
}
