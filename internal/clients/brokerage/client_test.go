package brokerage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&domain.BrokerConfig{
		ID:          "cfg1",
		UserID:      "u1",
		AppKey:      "key",
		AppSecret:   "secret",
		AccessToken: "token",
	}, zerolog.Nop())
	require.NoError(t, err)
	client.baseURL = server.URL
	return client
}

func TestNewClient_RejectsIncompleteCredentials(t *testing.T) {
	_, err := NewClient(&domain.BrokerConfig{ID: "cfg1", AppKey: "key"}, zerolog.Nop())
	require.Error(t, err)
}

func TestGet_SignsRequests(t *testing.T) {
	var gotKey, gotSig, gotAuth string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotSig = r.Header.Get("X-Api-Signature")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"code":0,"data":{"list":[{"currency":"USD","total_cash":"100"}]}}`))
	}))

	_, err := client.AccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key", gotKey)
	assert.NotEmpty(t, gotSig)
	assert.Equal(t, "Bearer token", gotAuth)
}

func TestAccountBalance(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/asset/account", r.URL.Path)
		w.Write([]byte(`{"code":0,"data":{"list":[{"currency":"HKD","total_cash":"12345.67"}]}}`))
	}))

	balance, err := client.AccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "HKD", balance.Currency)
	assert.True(t, balance.TotalCash.Equal(decimal.RequireFromString("12345.67")))
}

func TestAccountBalance_GatewayError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":403001,"message":"token expired"}`))
	}))

	_, err := client.AccountBalance(context.Background())
	require.ErrorContains(t, err, "token expired")
}

func TestPositions(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"list":[{"stock_info":[
			{"symbol":"700.HK","quantity":"100","cost_price":"320.5","currency":"HKD"},
			{"symbol":"AAPL.US","quantity":"10","cost_price":"150","currency":"USD"}
		]}]}}`))
	}))

	positions, err := client.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "700.HK", positions[0].Symbol)
	assert.True(t, positions[0].CostPrice.Equal(decimal.RequireFromString("320.5")))
}

func TestOrdersSince_MergesAndDeduplicates(t *testing.T) {
	// The same order shows up in both the session feed and history
	shared := `{"symbol":"700.HK","side":"Buy","status":"FilledStatus","executed_quantity":"100","executed_price":"320","currency":"HKD","updated_at":"1710496800"}`
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/trade/order/today":
			w.Write([]byte(`{"code":0,"data":{"orders":[` + shared + `]}}`))
		case "/v1/trade/order/history":
			w.Write([]byte(`{"code":0,"data":{"orders":[` + shared + `,
				{"symbol":"AAPL.US","side":"Sell","status":"FilledStatus","executed_quantity":"5","executed_price":"180","currency":"USD","updated_at":"1710400000"}
			]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	orders, err := client.OrdersSince(context.Background(), time.Unix(1710000000, 0))
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, domain.OrderSideBuy, orders[0].Side)
	assert.Equal(t, time.Unix(1710496800, 0).UTC(), orders[0].UpdatedAt)
	assert.Equal(t, domain.OrderSideSell, orders[1].Side)
}

func TestOrdersSince_DistinctFillsSameSecond(t *testing.T) {
	// Two separate fills with identical symbol, side, quantity, price and
	// second-resolution timestamp are distinct economic events and must
	// both survive the merge when the gateway labels them with order ids.
	fillA := `{"order_id":"o-1","symbol":"700.HK","side":"Buy","status":"FilledStatus","executed_quantity":"100","executed_price":"320","currency":"HKD","updated_at":"1710496800"}`
	fillB := `{"order_id":"o-2","symbol":"700.HK","side":"Buy","status":"FilledStatus","executed_quantity":"100","executed_price":"320","currency":"HKD","updated_at":"1710496800"}`
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/trade/order/today":
			w.Write([]byte(`{"code":0,"data":{"orders":[` + fillA + `,` + fillB + `]}}`))
		case "/v1/trade/order/history":
			// fillA replayed by the history feed collapses on its order id
			w.Write([]byte(`{"code":0,"data":{"orders":[` + fillA + `]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	orders, err := client.OrdersSince(context.Background(), time.Unix(1710000000, 0))
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "700.HK", orders[0].Symbol)
	assert.Equal(t, "700.HK", orders[1].Symbol)
}

func TestQuote(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote/last", r.URL.Path)
		w.Write([]byte(`{"code":0,"data":{"secu_quote":[
			{"symbol":"700.HK","last_done":"355.4"},
			{"symbol":"BAD.SY","last_done":"n/a"}
		]}}`))
	}))

	prices, err := client.Quote(context.Background(), []string{"700.HK", "BAD.SY"})
	require.NoError(t, err)
	require.Len(t, prices, 1, "unparseable quotes are dropped")
	assert.True(t, prices["700.HK"].Equal(decimal.RequireFromString("355.4")))
}

func TestQuote_NoSymbols(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	prices, err := client.Quote(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}
