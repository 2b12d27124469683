package reconciliation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
)

// BrokerQuoteSource serves market quotes through the gateway connection of
// the first registered brokerage config. With no config registered it
// reports no quotes rather than failing, so price refreshes stay harmless
// before onboarding.
type BrokerQuoteSource struct {
	configs *ConfigRepository
	clients domain.BrokerClientFactory
	log     zerolog.Logger
}

// NewBrokerQuoteSource creates a quote source backed by brokerage configs
func NewBrokerQuoteSource(configs *ConfigRepository, clients domain.BrokerClientFactory, log zerolog.Logger) *BrokerQuoteSource {
	return &BrokerQuoteSource{
		configs: configs,
		clients: clients,
		log:     log.With().Str("component", "broker_quotes").Logger(),
	}
}

// Quote implements domain.QuoteSource
func (q *BrokerQuoteSource) Quote(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	configs, err := q.configs.ListAll()
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		q.log.Debug().Msg("No brokerage config registered, skipping quotes")
		return map[string]decimal.Decimal{}, nil
	}

	client, err := q.clients(&configs[0])
	if err != nil {
		return nil, err
	}
	source, ok := client.(domain.QuoteSource)
	if !ok {
		return nil, fmt.Errorf("brokerage client offers no quote feed")
	}
	return source.Quote(ctx, symbols)
}
