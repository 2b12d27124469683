package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/modules/currency"
	"github.com/aristath/ledgerd/internal/modules/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker scripts the brokerage feed
type fakeBroker struct {
	balance   domain.BrokerBalance
	positions []domain.BrokerPosition
	orders    []domain.BrokerOrder

	// when true, OrdersSince returns everything regardless of since
	ignoreSince bool

	ordersErr error
}

func (f *fakeBroker) AccountBalance(context.Context) (*domain.BrokerBalance, error) {
	b := f.balance
	return &b, nil
}

func (f *fakeBroker) Positions(context.Context) ([]domain.BrokerPosition, error) {
	return f.positions, nil
}

func (f *fakeBroker) StaticInfo(_ context.Context, symbols []string) ([]domain.SecurityName, error) {
	var infos []domain.SecurityName
	for _, s := range symbols {
		infos = append(infos, domain.SecurityName{Symbol: s, NameLocal: s + " Inc"})
	}
	return infos, nil
}

func (f *fakeBroker) OrdersSince(_ context.Context, since time.Time) ([]domain.BrokerOrder, error) {
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	if f.ignoreSince {
		return f.orders, nil
	}
	var out []domain.BrokerOrder
	for _, o := range f.orders {
		if o.UpdatedAt.After(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

type identityRateSource struct{}

func (identityRateSource) FetchRate(context.Context, string, time.Time, time.Time) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.NewFromInt(100), decimal.NewFromInt(100), nil
}

type fixture struct {
	ledger *ledger.Service
	svc    *Service
	broker *fakeBroker
	cfg    *domain.BrokerConfig
}

func newFixture(t *testing.T) *fixture {
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
	conv := currency.NewConverter(rates, identityRateSource{}, "CNY", []string{"CNY", "USD", "HKD"}, log)

	broker := &fakeBroker{
		balance: domain.BrokerBalance{Currency: "USD", TotalCash: decimal.NewFromInt(10000)},
	}
	factory := func(*domain.BrokerConfig) (domain.BrokerClient, error) { return broker, nil }

	configs := NewConfigRepository(db.Conn(), log)
	svc := NewService(configs, ledgerSvc, conv, factory, log)

	cfg := &domain.BrokerConfig{
		UserID:          "u1",
		AppKey:          "lb1",
		AppSecret:       "secret",
		AccessToken:     "token",
		LastRefreshedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, svc.Register(context.Background(), cfg))

	return &fixture{ledger: ledgerSvc, svc: svc, broker: broker, cfg: cfg}
}

func (f *fixture) reload(t *testing.T) *domain.BrokerConfig {
	t.Helper()
	cfg, err := f.svc.Configs().GetByID(f.cfg.ID)
	require.NoError(t, err)
	return cfg
}

func (f *fixture) cashQuantity(t *testing.T) decimal.Decimal {
	t.Helper()
	cash, err := f.ledger.Accounts().GetByID(f.cfg.CashAccountID())
	require.NoError(t, err)
	return cash.Quantity
}

func order(symbol string, side domain.OrderSide, qty, price int64, at time.Time) domain.BrokerOrder {
	return domain.BrokerOrder{
		Symbol:    symbol,
		Side:      side,
		Quantity:  decimal.NewFromInt(qty),
		Price:     decimal.NewFromInt(price),
		Currency:  "USD",
		UpdatedAt: at,
	}
}

func TestRegister_BootstrapsCashAndPositions(t *testing.T) {
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
	conv := currency.NewConverter(rates, identityRateSource{}, "CNY", []string{"CNY", "USD", "HKD"}, log)

	broker := &fakeBroker{
		balance: domain.BrokerBalance{Currency: "USD", TotalCash: decimal.NewFromInt(5000)},
		positions: []domain.BrokerPosition{
			{Symbol: "AAPL", Quantity: decimal.NewFromInt(10), CostPrice: decimal.NewFromInt(150), Currency: "USD"},
		},
	}
	factory := func(*domain.BrokerConfig) (domain.BrokerClient, error) { return broker, nil }
	svc := NewService(NewConfigRepository(db.Conn(), log), ledgerSvc, conv, factory, log)

	cfg := &domain.BrokerConfig{UserID: "u1", AppKey: "lb1", AppSecret: "s", AccessToken: "t"}
	require.NoError(t, svc.Register(context.Background(), cfg))

	cash, err := accounts.GetByID(cfg.CashAccountID())
	require.NoError(t, err)
	assert.True(t, cash.Quantity.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, domain.AccountTypeCash, cash.Type)

	stock, err := accounts.GetByID(cfg.StockAccountID("AAPL"))
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, stock.Cost.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "AAPL Inc", stock.Description)
}

func TestReconcile_BuyCreatesAccountAndMovesCash(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	f.broker.orders = []domain.BrokerOrder{order("AAPL", domain.OrderSideBuy, 10, 150, at)}

	require.NoError(t, f.svc.Reconcile(context.Background(), f.reload(t)))

	stock, err := f.ledger.Accounts().GetByID(f.cfg.StockAccountID("AAPL"))
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, stock.Cost.Equal(decimal.NewFromInt(150)))

	// 10000 opening - 1500 purchase, then drift correction pulls the
	// ledger back to the broker's reported 10000
	assert.True(t, f.cashQuantity(t).Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, at, f.reload(t).LastRefreshedAt)
}

func TestReconcile_CashLegWithoutDriftCorrection(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	f.broker.orders = []domain.BrokerOrder{order("AAPL", domain.OrderSideBuy, 10, 150, at)}
	// Broker reports the post-trade balance, so no drift remains
	f.broker.balance.TotalCash = decimal.NewFromInt(8500)

	require.NoError(t, f.svc.Reconcile(context.Background(), f.reload(t)))
	assert.True(t, f.cashQuantity(t).Equal(decimal.NewFromInt(8500)))

	page, err := f.ledger.Transactions().ListByUser("u1", ledger.TransactionFilter{
		AccountID: f.cfg.CashAccountID(),
	})
	require.NoError(t, err)
	// Opening balance plus one cash leg, no adjustment row
	assert.Equal(t, 2, page.TotalCount)
}

func TestReconcile_SellRoundTrip(t *testing.T) {
	f := newFixture(t)
	buyAt := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	sellAt := buyAt.Add(time.Hour)
	f.broker.orders = []domain.BrokerOrder{
		order("AAPL", domain.OrderSideBuy, 10, 150, buyAt),
		order("AAPL", domain.OrderSideSell, 10, 180, sellAt),
	}
	f.broker.balance.TotalCash = decimal.NewFromInt(10300) // 10000 - 1500 + 1800

	require.NoError(t, f.svc.Reconcile(context.Background(), f.reload(t)))

	stock, err := f.ledger.Accounts().GetByID(f.cfg.StockAccountID("AAPL"))
	require.NoError(t, err)
	assert.True(t, stock.Quantity.IsZero())
	assert.True(t, stock.Cost.IsZero())
	assert.Equal(t, domain.AccountStateClosed, stock.State)
	assert.True(t, f.cashQuantity(t).Equal(decimal.NewFromInt(10300)))
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	f.broker.orders = []domain.BrokerOrder{order("AAPL", domain.OrderSideBuy, 10, 150, at)}
	f.broker.balance.TotalCash = decimal.NewFromInt(8500)

	require.NoError(t, f.svc.Reconcile(context.Background(), f.reload(t)))
	afterFirst := f.reload(t)

	require.NoError(t, f.svc.Reconcile(context.Background(), afterFirst))

	assert.Equal(t, afterFirst.LastRefreshedAt, f.reload(t).LastRefreshedAt)
	stock, err := f.ledger.Accounts().GetByID(f.cfg.StockAccountID("AAPL"))
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(decimal.NewFromInt(10)), "second run must not reapply the order")
}

func TestReconcile_DefensiveRefilter(t *testing.T) {
	f := newFixture(t)
	// The feed returns an order at the watermark itself and one before it;
	// neither may be applied even though the source handed them back
	f.broker.ignoreSince = true
	f.broker.orders = []domain.BrokerOrder{
		order("AAPL", domain.OrderSideBuy, 10, 150, f.cfg.LastRefreshedAt),
		order("AAPL", domain.OrderSideBuy, 5, 140, f.cfg.LastRefreshedAt.Add(-time.Hour)),
	}

	require.NoError(t, f.svc.Reconcile(context.Background(), f.reload(t)))

	_, err := f.ledger.Accounts().GetByID(f.cfg.StockAccountID("AAPL"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, f.cfg.LastRefreshedAt, f.reload(t).LastRefreshedAt)
}

func TestReconcile_ResumesAtFailedOrder(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	// Five orders. #3 is a sell of a symbol never bought, which fails its
	// session and must stop the batch.
	orders := []domain.BrokerOrder{
		order("AAPL", domain.OrderSideBuy, 10, 150, base),
		order("AAPL", domain.OrderSideBuy, 10, 160, base.Add(1*time.Minute)),
		order("GHOST", domain.OrderSideSell, 1, 100, base.Add(2*time.Minute)),
		order("MSFT", domain.OrderSideBuy, 5, 400, base.Add(3*time.Minute)),
		order("AAPL", domain.OrderSideSell, 5, 200, base.Add(4*time.Minute)),
	}
	f.broker.orders = orders

	err := f.svc.Reconcile(context.Background(), f.reload(t))
	require.Error(t, err)

	// Orders 1-2 applied, watermark parked at order 2
	assert.Equal(t, orders[1].UpdatedAt, f.reload(t).LastRefreshedAt)
	stock, err := f.ledger.Accounts().GetByID(f.cfg.StockAccountID("AAPL"))
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(decimal.NewFromInt(20)))
	_, err = f.ledger.Accounts().GetByID(f.cfg.StockAccountID("MSFT"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Fix the feed: the ghost sell becomes a buy. Re-running applies
	// orders 3-5 exactly once and never replays 1-2.
	f.broker.orders[2] = order("GHOST", domain.OrderSideBuy, 1, 100, orders[2].UpdatedAt)
	require.NoError(t, f.svc.Reconcile(context.Background(), f.reload(t)))

	stock, err = f.ledger.Accounts().GetByID(f.cfg.StockAccountID("AAPL"))
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(decimal.NewFromInt(15)), "orders 1-2 replayed or order 5 lost")
	msft, err := f.ledger.Accounts().GetByID(f.cfg.StockAccountID("MSFT"))
	require.NoError(t, err)
	assert.True(t, msft.Quantity.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, orders[4].UpdatedAt, f.reload(t).LastRefreshedAt)
}

func TestReconcile_FailedBatchSkipsDriftCorrection(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	f.broker.orders = []domain.BrokerOrder{
		order("GHOST", domain.OrderSideSell, 1, 100, base),
	}
	// A large reported balance that a drift correction would wrongly apply
	f.broker.balance.TotalCash = decimal.NewFromInt(99999)

	require.Error(t, f.svc.Reconcile(context.Background(), f.reload(t)))
	assert.True(t, f.cashQuantity(t).Equal(decimal.NewFromInt(10000)),
		"drift correction must not run after an incomplete batch")
}

func TestReconcile_DriftCorrectionAbsorbsDividend(t *testing.T) {
	f := newFixture(t)
	// No orders, but the broker reports 120 more cash than the ledger
	f.broker.balance.TotalCash = decimal.NewFromInt(10120)

	require.NoError(t, f.svc.Reconcile(context.Background(), f.reload(t)))
	assert.True(t, f.cashQuantity(t).Equal(decimal.NewFromInt(10120)))

	// Idempotent once absorbed
	require.NoError(t, f.svc.Reconcile(context.Background(), f.reload(t)))
	page, err := f.ledger.Transactions().ListByUser("u1", ledger.TransactionFilter{
		AccountID: f.cfg.CashAccountID(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount, "opening balance plus exactly one adjustment")
}

func TestReconcile_BrokerDownLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.broker.ordersErr = errors.New("gateway timeout")

	err := f.svc.Reconcile(context.Background(), f.reload(t))
	require.ErrorIs(t, err, domain.ErrExternalSourceUnavailable)
	assert.Equal(t, f.cfg.LastRefreshedAt, f.reload(t).LastRefreshedAt)
	assert.True(t, f.cashQuantity(t).Equal(decimal.NewFromInt(10000)))
}

func TestReconcileAll_IsolatesFailingConfig(t *testing.T) {
	f := newFixture(t)
	f.broker.ordersErr = errors.New("down")

	err := f.svc.ReconcileAll(context.Background())
	require.ErrorIs(t, err, domain.ErrExternalSourceUnavailable)
}
