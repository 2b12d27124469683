// Package brokerage implements the brokerage OpenAPI client behind the
// BrokerClient and QuoteSource contracts. Requests are HMAC-signed with
// the config's app secret and throttled client-side; the gateway bans
// callers that exceed its per-key quota.
package brokerage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://openapi.longportapp.com"

// Client talks to one brokerage account's OpenAPI gateway
type Client struct {
	baseURL     string
	appKey      string
	appSecret   string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	log         zerolog.Logger
}

// NewClient creates a client for one config's credentials
func NewClient(cfg *domain.BrokerConfig, log zerolog.Logger) (*Client, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("brokerage credentials are incomplete for config %s", cfg.ID)
	}

	return &Client{
		baseURL:     defaultBaseURL,
		appKey:      cfg.AppKey,
		appSecret:   cfg.AppSecret,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		log:         log.With().Str("client", "brokerage").Str("app_key", cfg.AppKey).Logger(),
	}, nil
}

// NewFactory returns a BrokerClientFactory bound to a logger
func NewFactory(log zerolog.Logger) domain.BrokerClientFactory {
	return func(cfg *domain.BrokerConfig) (domain.BrokerClient, error) {
		return NewClient(cfg, log)
	}
}

// apiResponse is the gateway's uniform envelope
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Signature covers method, path, query and timestamp
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := http.MethodGet + "|" + path + "|" + query.Encode() + "|" + timestamp
	req.Header.Set("X-Api-Key", c.appKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Api-Signature", signPayload(c.appSecret, message))
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("path", path).
			Msg("Gateway returned non-200 status")
		return fmt.Errorf("gateway returned status %d for %s", resp.StatusCode, path)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("gateway error %d on %s: %s", envelope.Code, path, envelope.Message)
	}
	return json.Unmarshal(envelope.Data, out)
}

func signPayload(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// AccountBalance returns the account's current cash position
func (c *Client) AccountBalance(ctx context.Context) (*domain.BrokerBalance, error) {
	var data struct {
		List []struct {
			Currency  string `json:"currency"`
			TotalCash string `json:"total_cash"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v1/asset/account", nil, &data); err != nil {
		return nil, err
	}
	if len(data.List) == 0 {
		return nil, fmt.Errorf("gateway returned no balance entries")
	}

	totalCash, err := decimal.NewFromString(data.List[0].TotalCash)
	if err != nil {
		return nil, fmt.Errorf("invalid total_cash %q: %w", data.List[0].TotalCash, err)
	}
	return &domain.BrokerBalance{
		Currency:  data.List[0].Currency,
		TotalCash: totalCash,
	}, nil
}

// Positions returns all open security positions
func (c *Client) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var data struct {
		List []struct {
			StockInfo []struct {
				Symbol    string `json:"symbol"`
				Quantity  string `json:"quantity"`
				CostPrice string `json:"cost_price"`
				Currency  string `json:"currency"`
			} `json:"stock_info"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v1/asset/stock", nil, &data); err != nil {
		return nil, err
	}

	var positions []domain.BrokerPosition
	for _, channel := range data.List {
		for _, s := range channel.StockInfo {
			quantity, err := decimal.NewFromString(s.Quantity)
			if err != nil {
				return nil, fmt.Errorf("invalid quantity %q for %s: %w", s.Quantity, s.Symbol, err)
			}
			costPrice, err := decimal.NewFromString(s.CostPrice)
			if err != nil {
				return nil, fmt.Errorf("invalid cost_price %q for %s: %w", s.CostPrice, s.Symbol, err)
			}
			positions = append(positions, domain.BrokerPosition{
				Symbol:    s.Symbol,
				Quantity:  quantity,
				CostPrice: costPrice,
				Currency:  s.Currency,
			})
		}
	}
	return positions, nil
}

// StaticInfo returns display names for the given symbols
func (c *Client) StaticInfo(ctx context.Context, symbols []string) ([]domain.SecurityName, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	query := url.Values{"symbol": symbols}
	var data struct {
		SecuList []struct {
			Symbol string `json:"symbol"`
			NameCn string `json:"name_cn"`
			NameEn string `json:"name_en"`
		} `json:"secu_static_info"`
	}
	if err := c.get(ctx, "/v1/quote/static", query, &data); err != nil {
		return nil, err
	}

	names := make([]domain.SecurityName, 0, len(data.SecuList))
	for _, s := range data.SecuList {
		names = append(names, domain.SecurityName{
			Symbol:      s.Symbol,
			NameLocal:   s.NameCn,
			NameEnglish: s.NameEn,
		})
	}
	return names, nil
}

// orderRow is one order entry in the gateway's history format
type orderRow struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Status    string `json:"status"`
	Quantity  string `json:"executed_quantity"`
	Price     string `json:"executed_price"`
	Currency  string `json:"currency"`
	UpdatedAt string `json:"updated_at"` // unix seconds
}

// OrdersSince returns filled orders from today's session plus history
// strictly after since. The merged feed may still contain stale rows;
// callers re-check the timestamps.
func (c *Client) OrdersSince(ctx context.Context, since time.Time) ([]domain.BrokerOrder, error) {
	var today struct {
		Orders []orderRow `json:"orders"`
	}
	if err := c.get(ctx, "/v1/trade/order/today", url.Values{"status": {"FilledStatus"}}, &today); err != nil {
		return nil, err
	}

	history := url.Values{
		"status":   {"FilledStatus"},
		"start_at": {strconv.FormatInt(since.Unix(), 10)},
	}
	var past struct {
		Orders []orderRow `json:"orders"`
	}
	if err := c.get(ctx, "/v1/trade/order/history", history, &past); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var orders []domain.BrokerOrder
	for _, row := range append(today.Orders, past.Orders...) {
		// The today and history feeds overlap; the gateway's order id is the
		// authoritative dedupe key. Rows without one (older gateway builds)
		// fall back to the full fill fingerprint, which can still collapse
		// identical same-second fills.
		key := row.OrderID
		if key == "" {
			key = row.Symbol + "|" + row.UpdatedAt + "|" + row.Side + "|" + row.Quantity + "|" + row.Price
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		order, err := parseOrder(row)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", row.Symbol).Msg("Skipping unparseable order")
			continue
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func parseOrder(row orderRow) (*domain.BrokerOrder, error) {
	quantity, err := decimal.NewFromString(row.Quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid executed_quantity %q: %w", row.Quantity, err)
	}
	price, err := decimal.NewFromString(row.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid executed_price %q: %w", row.Price, err)
	}
	unix, err := strconv.ParseInt(row.UpdatedAt, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", row.UpdatedAt, err)
	}

	var side domain.OrderSide
	switch row.Side {
	case "Buy":
		side = domain.OrderSideBuy
	case "Sell":
		side = domain.OrderSideSell
	default:
		return nil, fmt.Errorf("unknown order side %q", row.Side)
	}

	return &domain.BrokerOrder{
		Symbol:    row.Symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Currency:  row.Currency,
		UpdatedAt: time.Unix(unix, 0).UTC(),
	}, nil
}

// Quote returns last-done prices for the requested symbols, satisfying
// the QuoteSource contract. Symbols the gateway cannot quote are absent
// from the result.
func (c *Client) Quote(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	query := url.Values{"symbol": symbols}
	var data struct {
		SecuQuote []struct {
			Symbol   string `json:"symbol"`
			LastDone string `json:"last_done"`
		} `json:"secu_quote"`
	}
	if err := c.get(ctx, "/v1/quote/last", query, &data); err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(data.SecuQuote))
	for _, q := range data.SecuQuote {
		price, err := decimal.NewFromString(q.LastDone)
		if err != nil {
			c.log.Warn().Str("symbol", q.Symbol).Str("last_done", q.LastDone).Msg("Skipping unparseable quote")
			continue
		}
		prices[q.Symbol] = price
	}
	return prices, nil
}
