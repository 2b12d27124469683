package currency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRateSource serves canned rates and counts external calls
type fakeRateSource struct {
	rates map[string][2]string // currency -> {buyIn, sellOut}, per 100 units
	calls int
	err   error
}

func (f *fakeRateSource) FetchRate(_ context.Context, currency string, _, _ time.Time) (decimal.Decimal, decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Zero, decimal.Zero, f.err
	}
	pair, ok := f.rates[currency]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("no rate for %s", currency)
	}
	buyIn := decimal.RequireFromString(pair[0])
	sellOut := decimal.RequireFromString(pair[1])
	return buyIn, sellOut, nil
}

func newTestConverter(t *testing.T, source domain.RateSource) *Converter {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Profile: database.ProfileCache,
		Name:    "rates",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	repo := NewRateRepository(db.Conn(), log)
	return NewConverter(repo, source, "CNY", []string{"CNY", "USD", "HKD"}, log)
}

func TestConvert_IdentityIsExact(t *testing.T) {
	source := &fakeRateSource{}
	conv := newTestConverter(t, source)

	amount := decimal.RequireFromString("1234.56789")
	got, err := conv.Convert(context.Background(), amount, "USD", "USD", time.Now())
	require.NoError(t, err)
	assert.True(t, got.Equal(amount))
	assert.Equal(t, 0, source.calls, "same-currency conversion must not touch the source")
}

func TestConvert_ThroughPivot(t *testing.T) {
	source := &fakeRateSource{rates: map[string][2]string{
		"USD": {"720.50", "725.30"},
		"HKD": {"91.80", "92.40"},
	}}
	conv := newTestConverter(t, source)
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	// 100 USD -> CNY: 100/100*720.50 = 720.50, pivot sell-out is identity
	got, err := conv.Convert(context.Background(), decimal.NewFromInt(100), "USD", "CNY", date)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("720.50")), "got %s", got)

	// 720.50 CNY -> HKD: 720.50/92.40*100
	got, err = conv.Convert(context.Background(), decimal.RequireFromString("720.50"), "CNY", "HKD", date)
	require.NoError(t, err)
	want := decimal.RequireFromString("720.50").Div(decimal.RequireFromString("92.40")).Mul(decimal.NewFromInt(100))
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestConvert_RoundTripWithinSpread(t *testing.T) {
	source := &fakeRateSource{rates: map[string][2]string{
		"USD": {"720.00", "720.00"},
	}}
	conv := newTestConverter(t, source)
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	amount := decimal.NewFromInt(500)
	toCNY, err := conv.Convert(context.Background(), amount, "USD", "CNY", date)
	require.NoError(t, err)
	back, err := conv.Convert(context.Background(), toCNY, "CNY", "USD", date)
	require.NoError(t, err)

	// With a zero spread the round trip is exact
	assert.True(t, back.Sub(amount).Abs().LessThan(decimal.RequireFromString("0.00000001")),
		"round trip drifted: %s", back)
}

func TestConvert_UnsupportedCurrency(t *testing.T) {
	conv := newTestConverter(t, &fakeRateSource{})

	_, err := conv.Convert(context.Background(), decimal.NewFromInt(1), "EUR", "CNY", time.Now())
	var unsupported *domain.UnsupportedCurrencyError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "EUR", unsupported.Currency)

	_, err = conv.Convert(context.Background(), decimal.NewFromInt(1), "CNY", "JPY", time.Now())
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "JPY", unsupported.Currency)
}

func TestResolveRate_CacheHitSkipsSource(t *testing.T) {
	source := &fakeRateSource{rates: map[string][2]string{
		"USD": {"718.00", "722.00"},
	}}
	conv := newTestConverter(t, source)
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	first, err := conv.ResolveRate(context.Background(), "USD", date)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	second, err := conv.ResolveRate(context.Background(), "USD", date)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls, "second resolution must hit the cache")
	assert.True(t, second.BuyIn.Equal(first.BuyIn))
	assert.True(t, second.SellOut.Equal(first.SellOut))
}

func TestResolveRate_DifferentDatesAreDistinctEntries(t *testing.T) {
	source := &fakeRateSource{rates: map[string][2]string{
		"USD": {"718.00", "722.00"},
	}}
	conv := newTestConverter(t, source)

	_, err := conv.ResolveRate(context.Background(), "USD", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = conv.ResolveRate(context.Background(), "USD", time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestResolveRate_PivotNeverFetched(t *testing.T) {
	source := &fakeRateSource{err: errors.New("down")}
	conv := newTestConverter(t, source)

	quote, err := conv.ResolveRate(context.Background(), "CNY", time.Now())
	require.NoError(t, err)
	assert.True(t, quote.BuyIn.Equal(decimal.NewFromInt(100)))
	assert.True(t, quote.SellOut.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 0, source.calls)
}

func TestResolveRate_SourceFailureIsExternalUnavailable(t *testing.T) {
	source := &fakeRateSource{err: errors.New("connection refused")}
	conv := newTestConverter(t, source)

	_, err := conv.ResolveRate(context.Background(), "USD", time.Now())
	require.ErrorIs(t, err, domain.ErrExternalSourceUnavailable)
}

func TestPurgeOlderThan(t *testing.T) {
	source := &fakeRateSource{rates: map[string][2]string{
		"USD": {"718.00", "722.00"},
	}}
	conv := newTestConverter(t, source)

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	_, err := conv.ResolveRate(context.Background(), "USD", old)
	require.NoError(t, err)
	_, err = conv.ResolveRate(context.Background(), "USD", recent)
	require.NoError(t, err)

	purged, err := conv.rates.PurgeOlderThan(recent.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = conv.rates.Get("USD", old)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = conv.rates.Get("USD", recent)
	assert.NoError(t, err)
}
