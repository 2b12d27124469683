package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/config"
	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/currency"
	"github.com/aristath/ledgerd/internal/modules/ledger"
	"github.com/aristath/ledgerd/internal/modules/pricing"
	"github.com/aristath/ledgerd/internal/modules/reconciliation"
)

type staticRateSource struct{}

func (staticRateSource) FetchRate(context.Context, string, time.Time, time.Time) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.NewFromInt(100), decimal.NewFromInt(100), nil
}

type emptyQuoteSource struct{}

func (emptyQuoteSource) Quote(context.Context, []string) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	store := ledger.NewStore(db, log)
	accounts := ledger.NewAccountRepository(db.Conn(), log)
	txns := ledger.NewTransactionRepository(db.Conn(), log)
	ledgerSvc := ledger.NewService(store, accounts, txns, log)

	rates := currency.NewRateRepository(db.Conn(), log)
	converter := currency.NewConverter(rates, staticRateSource{}, "CNY", []string{"CNY", "USD"}, log)

	trace := pricing.NewTraceRepository(db.Conn(), log)
	pricingSvc := pricing.NewService(accounts, trace, emptyQuoteSource{}, converter, log)

	configs := reconciliation.NewConfigRepository(db.Conn(), log)
	factory := func(*domain.BrokerConfig) (domain.BrokerClient, error) {
		return nil, fmt.Errorf("no brokerage in tests")
	}
	reconSvc := reconciliation.NewService(configs, ledgerSvc, converter, factory, log)

	return New(Config{
		Log:            log,
		Cfg:            &config.Config{DataDir: t.TempDir(), Port: 0},
		DB:             db,
		Ledger:         ledgerSvc,
		Converter:      converter,
		Pricing:        pricingSvc,
		Reconciliation: reconSvc,
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Database)
}

func TestModuleRoutesMounted(t *testing.T) {
	srv := newTestServer(t)

	paths := []string{
		"/api/ledger/accounts?user_id=u1",
		"/api/currency/pivot",
		"/api/pricing/total-value/u1",
		"/api/reconciliation/configs?user_id=u1",
		"/api/system/health",
		"/api/system/disk",
		"/api/system/database/stats",
	}

	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "path %s", path)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/nonsense", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
