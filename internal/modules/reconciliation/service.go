package reconciliation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/currency"
	"github.com/aristath/ledgerd/internal/modules/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Service reconciles brokerage accounts against the ledger
type Service struct {
	configs   *ConfigRepository
	ledger    *ledger.Service
	converter *currency.Converter
	clients   domain.BrokerClientFactory
	log       zerolog.Logger
}

// NewService creates a reconciliation service
func NewService(configs *ConfigRepository, ledgerSvc *ledger.Service, converter *currency.Converter, clients domain.BrokerClientFactory, log zerolog.Logger) *Service {
	return &Service{
		configs:   configs,
		ledger:    ledgerSvc,
		converter: converter,
		clients:   clients,
		log:       log.With().Str("service", "reconciliation").Logger(),
	}
}

// Configs exposes the config repository for the HTTP surface
func (s *Service) Configs() *ConfigRepository {
	return s.configs
}

// Register stores a new brokerage config and bootstraps its ledger
// accounts from the brokerage's current state. The watermark starts at
// registration time so reconciliation only folds in orders filled after
// the bootstrap snapshot.
func (s *Service) Register(ctx context.Context, cfg *domain.BrokerConfig) error {
	if cfg.LastRefreshedAt.IsZero() {
		cfg.LastRefreshedAt = time.Now().UTC()
	}
	if err := s.configs.Create(cfg); err != nil {
		return err
	}
	return s.bootstrapAccounts(ctx, cfg)
}

// bootstrapAccounts mirrors the brokerage's cash balance and open
// positions into ledger accounts, each created through the
// account-plus-opening-transaction protocol. Accounts that already exist
// are left untouched.
func (s *Service) bootstrapAccounts(ctx context.Context, cfg *domain.BrokerConfig) error {
	client, err := s.clients(cfg)
	if err != nil {
		return fmt.Errorf("%w: broker client for %s: %v", domain.ErrExternalSourceUnavailable, cfg.ID, err)
	}

	balance, err := client.AccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("%w: balance fetch for %s: %v", domain.ErrExternalSourceUnavailable, cfg.ID, err)
	}
	positions, err := client.Positions(ctx)
	if err != nil {
		return fmt.Errorf("%w: positions fetch for %s: %v", domain.ErrExternalSourceUnavailable, cfg.ID, err)
	}

	names := make(map[string]string)
	if len(positions) > 0 {
		symbols := make([]string, 0, len(positions))
		for _, p := range positions {
			symbols = append(symbols, p.Symbol)
		}
		// Display names are cosmetic, failure is not
		if infos, err := client.StaticInfo(ctx, symbols); err == nil {
			for _, info := range infos {
				names[info.Symbol] = info.NameLocal
			}
		} else {
			s.log.Warn().Err(err).Str("config_id", cfg.ID).Msg("Failed to fetch security names")
		}
	}

	now := time.Now().UTC()
	if err := s.ensureAccount(cfg, ledger.CreateAccountSpec{
		ID:          cfg.CashAccountID(),
		UserID:      cfg.UserID,
		Symbol:      cfg.CashAccountID(),
		Type:        domain.AccountTypeCash,
		Description: "Brokerage cash",
		Currency:    balance.Currency,
	}, &domain.Transaction{
		Description: "Opening balance",
		Date:        now,
		Direction:   domain.DirectionIncrease,
		Quantity:    balance.TotalCash,
		Price:       one,
		Currency:    balance.Currency,
	}); err != nil {
		return err
	}

	for _, p := range positions {
		if !p.Quantity.IsPositive() {
			continue
		}
		if err := s.ensureAccount(cfg, ledger.CreateAccountSpec{
			ID:          cfg.StockAccountID(p.Symbol),
			UserID:      cfg.UserID,
			Symbol:      p.Symbol,
			Type:        domain.AccountTypeStock,
			Description: names[p.Symbol],
			Currency:    p.Currency,
		}, &domain.Transaction{
			Description: "Opening position",
			Date:        now,
			Direction:   domain.DirectionIncrease,
			Quantity:    p.Quantity,
			Price:       p.CostPrice,
			Currency:    p.Currency,
		}); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("config_id", cfg.ID).
		Int("positions", len(positions)).
		Msg("Bootstrapped brokerage accounts")
	return nil
}

func (s *Service) ensureAccount(cfg *domain.BrokerConfig, spec ledger.CreateAccountSpec, opening *domain.Transaction) error {
	if _, err := s.ledger.Accounts().GetByID(spec.ID); err == nil {
		return nil
	}
	return s.ledger.Store().WithSession(func(sess *ledger.Session) error {
		_, err := s.ledger.CreateAccountWithOpeningTransaction(sess, spec, opening)
		return err
	})
}

// Reconcile folds one config's new filled orders into the ledger.
//
// Orders strictly after the watermark are applied oldest first, each as
// one session carrying the security leg, the opposite cash leg and the
// advanced watermark. A failing order rolls its session back and ends the
// batch; the untouched watermark makes the next run resume at exactly
// that order. Only after a complete batch is the brokerage's cash balance
// compared against the ledger and any drift absorbed with a corrective
// mutation.
func (s *Service) Reconcile(ctx context.Context, cfg *domain.BrokerConfig) error {
	client, err := s.clients(cfg)
	if err != nil {
		return fmt.Errorf("%w: broker client for %s: %v", domain.ErrExternalSourceUnavailable, cfg.ID, err)
	}

	fetched, err := client.OrdersSince(ctx, cfg.LastRefreshedAt)
	if err != nil {
		return fmt.Errorf("%w: order fetch for %s: %v", domain.ErrExternalSourceUnavailable, cfg.ID, err)
	}

	// The source's own filtering is not trusted
	orders := fetched[:0:0]
	for _, o := range fetched {
		if o.UpdatedAt.After(cfg.LastRefreshedAt) {
			orders = append(orders, o)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].UpdatedAt.Before(orders[j].UpdatedAt)
	})

	for i := range orders {
		if err := s.applyOrder(ctx, cfg, &orders[i]); err != nil {
			s.log.Error().Err(err).
				Str("config_id", cfg.ID).
				Str("symbol", orders[i].Symbol).
				Time("order_time", orders[i].UpdatedAt).
				Msg("Failed to apply order, batch stops here")
			return err
		}
		cfg.LastRefreshedAt = orders[i].UpdatedAt
	}

	if err := s.correctCashDrift(ctx, cfg, client); err != nil {
		s.log.Error().Err(err).Str("config_id", cfg.ID).Msg("Cash balance correction failed")
		return err
	}

	if len(orders) > 0 {
		s.log.Info().Str("config_id", cfg.ID).Int("orders", len(orders)).Msg("Reconciled brokerage orders")
	}
	return nil
}

// applyOrder applies one order's two legs and the watermark as a single
// unit of work
func (s *Service) applyOrder(ctx context.Context, cfg *domain.BrokerConfig, order *domain.BrokerOrder) error {
	cashAccount, err := s.ledger.Accounts().GetByID(cfg.CashAccountID())
	if err != nil {
		return fmt.Errorf("cash account for config %s: %w", cfg.ID, err)
	}

	// Cash moves in the cash account's own currency
	cashAmount := order.Amount()
	if order.Currency != cashAccount.Currency {
		cashAmount, err = s.converter.Convert(ctx, cashAmount, order.Currency, cashAccount.Currency, order.UpdatedAt)
		if err != nil {
			return err
		}
	}

	securityDir, cashDir := domain.DirectionIncrease, domain.DirectionDecrease
	if order.Side == domain.OrderSideSell {
		securityDir, cashDir = domain.DirectionDecrease, domain.DirectionIncrease
	}

	return s.ledger.Store().WithSession(func(sess *ledger.Session) error {
		securityLeg := &domain.Transaction{
			UserID:      cfg.UserID,
			AccountID:   cfg.StockAccountID(order.Symbol),
			Description: fmt.Sprintf("%s %s", order.Side, order.Symbol),
			Date:        order.UpdatedAt,
			Direction:   securityDir,
			Quantity:    order.Quantity,
			Price:       order.Price,
			Currency:    order.Currency,
		}

		if _, err := s.ledger.Accounts().GetByIDInSession(sess, securityLeg.AccountID); err == nil {
			if _, err := s.ledger.ApplyTransaction(sess, securityLeg); err != nil {
				return err
			}
		} else {
			// First trade in this security: the order itself is the
			// opening transaction
			if securityDir != domain.DirectionIncrease {
				return fmt.Errorf("sell order for unknown position %s: %w", order.Symbol, domain.ErrNotFound)
			}
			if _, err := s.ledger.CreateAccountWithOpeningTransaction(sess, ledger.CreateAccountSpec{
				ID:       securityLeg.AccountID,
				UserID:   cfg.UserID,
				Symbol:   order.Symbol,
				Type:     domain.AccountTypeStock,
				Currency: order.Currency,
			}, securityLeg); err != nil {
				return err
			}
		}

		if _, err := s.ledger.ApplyTransaction(sess, &domain.Transaction{
			UserID:      cfg.UserID,
			AccountID:   cashAccount.ID,
			Description: fmt.Sprintf("%s %s cash leg", order.Side, order.Symbol),
			Date:        order.UpdatedAt,
			Direction:   cashDir,
			Quantity:    cashAmount,
			Price:       one,
			Currency:    cashAccount.Currency,
		}); err != nil {
			return err
		}

		return s.configs.AdvanceWatermark(sess, cfg.ID, order.UpdatedAt)
	})
}

// correctCashDrift applies one adjustment transaction when the
// brokerage's authoritative cash balance disagrees with the ledger.
// Dividends, fees and transfers reach the balance without appearing in
// the order feed.
func (s *Service) correctCashDrift(ctx context.Context, cfg *domain.BrokerConfig, client domain.BrokerClient) error {
	balance, err := client.AccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("%w: balance fetch for %s: %v", domain.ErrExternalSourceUnavailable, cfg.ID, err)
	}

	cashAccount, err := s.ledger.Accounts().GetByID(cfg.CashAccountID())
	if err != nil {
		return fmt.Errorf("cash account for config %s: %w", cfg.ID, err)
	}

	observed := balance.TotalCash
	if balance.Currency != cashAccount.Currency {
		observed, err = s.converter.Convert(ctx, observed, balance.Currency, cashAccount.Currency, time.Now().UTC())
		if err != nil {
			return err
		}
	}

	delta := observed.Sub(cashAccount.Quantity)
	if delta.IsZero() {
		return nil
	}

	dir := domain.DirectionIncrease
	if delta.IsNegative() {
		dir = domain.DirectionDecrease
	}

	s.log.Info().
		Str("config_id", cfg.ID).
		Str("delta", delta.String()).
		Msg("Correcting cash drift")

	return s.ledger.Store().WithSession(func(sess *ledger.Session) error {
		_, err := s.ledger.ApplyTransaction(sess, &domain.Transaction{
			UserID:      cfg.UserID,
			AccountID:   cashAccount.ID,
			Description: "Balance adjustment",
			Date:        time.Now().UTC(),
			Direction:   dir,
			Quantity:    delta.Abs(),
			Price:       one,
			Currency:    cashAccount.Currency,
		})
		return err
	})
}

// ReconcileAll runs reconciliation for every registered config. A failing
// config is logged and does not block the others.
func (s *Service) ReconcileAll(ctx context.Context) error {
	configs, err := s.configs.ListAll()
	if err != nil {
		return err
	}

	var firstErr error
	for i := range configs {
		if err := s.Reconcile(ctx, &configs[i]); err != nil {
			s.log.Error().Err(err).Str("config_id", configs[i].ID).Msg("Reconciliation failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
