package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/modules/currency"
)

// fakeRateSource serves one canned rate pair for every currency
type fakeRateSource struct {
	buyIn, sellOut string
	err            error
}

func (f *fakeRateSource) FetchRate(_ context.Context, _ string, _, _ time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, decimal.Zero, f.err
	}
	return decimal.RequireFromString(f.buyIn), decimal.RequireFromString(f.sellOut), nil
}

func newTestRouter(t *testing.T, source *fakeRateSource) chi.Router {
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
	repo := currency.NewRateRepository(db.Conn(), log)
	converter := currency.NewConverter(repo, source, "CNY", []string{"CNY", "USD"}, log)

	router := chi.NewRouter()
	NewHandler(converter, log).RegisterRoutes(router)
	return router
}

func TestHandleConvert(t *testing.T) {
	router := newTestRouter(t, &fakeRateSource{buyIn: "720.50", sellOut: "725.30"})

	body, _ := json.Marshal(map[string]interface{}{
		"amount": "100",
		"from":   "USD",
		"to":     "CNY",
		"date":   "2024-04-01",
	})
	req := httptest.NewRequest(http.MethodPost, "/currency/convert", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Data struct {
			Converted decimal.Decimal `json:"converted"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.True(t, response.Data.Converted.Equal(decimal.RequireFromString("720.5")),
		"got %s", response.Data.Converted)
}

func TestHandleConvert_UnsupportedCurrency(t *testing.T) {
	router := newTestRouter(t, &fakeRateSource{buyIn: "100", sellOut: "100"})

	body, _ := json.Marshal(map[string]interface{}{
		"amount": "100",
		"from":   "EUR",
		"to":     "CNY",
	})
	req := httptest.NewRequest(http.MethodPost, "/currency/convert", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleConvert_SourceDown(t *testing.T) {
	router := newTestRouter(t, &fakeRateSource{err: fmt.Errorf("connection refused")})

	body, _ := json.Marshal(map[string]interface{}{
		"amount": "100",
		"from":   "USD",
		"to":     "CNY",
	})
	req := httptest.NewRequest(http.MethodPost, "/currency/convert", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleGetRate(t *testing.T) {
	router := newTestRouter(t, &fakeRateSource{buyIn: "718.23", sellOut: "721.27"})

	req := httptest.NewRequest(http.MethodGet, "/currency/rates/USD?date=2024-04-01", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Data struct {
			Currency     string          `json:"currency"`
			BuyIn        decimal.Decimal `json:"buy_in"`
			CapturedDate string          `json:"captured_date"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "USD", response.Data.Currency)
	assert.True(t, response.Data.BuyIn.Equal(decimal.RequireFromString("718.23")))
	assert.Equal(t, "2024-04-01", response.Data.CapturedDate)
}

func TestHandleGetPivot(t *testing.T) {
	router := newTestRouter(t, &fakeRateSource{buyIn: "100", sellOut: "100"})

	req := httptest.NewRequest(http.MethodGet, "/currency/pivot", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "CNY", data["pivot"])
}
