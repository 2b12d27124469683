// Package domain provides core domain models and types.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType represents the kind of position an account tracks
type AccountType string

const (
	AccountTypeCash  AccountType = "cash"
	AccountTypeStock AccountType = "stock"
	AccountTypeAsset AccountType = "asset"
	// AccountTypeGroup accounts carry no quantity or cost; they exist purely
	// as parent grouping nodes for display
	AccountTypeGroup AccountType = "group"
)

// AccountState models the account lifecycle as an explicit two-state machine.
// An account whose quantity reaches exactly zero transitions to Closed and
// its cost is reset to zero.
type AccountState string

const (
	AccountStateActive AccountState = "active"
	AccountStateClosed AccountState = "closed"
)

// Direction of a transaction against an account.
// 0 = increase (buy/inflow), 1 = decrease (sell/outflow); the numeric values
// are part of the persisted schema.
type Direction int

const (
	DirectionIncrease Direction = 0
	DirectionDecrease Direction = 1
)

// Valid reports whether the direction is one of the two permitted values
func (d Direction) Valid() bool {
	return d == DirectionIncrease || d == DirectionDecrease
}

// Account represents one position/ledger line for one user.
// Quantity and Cost change only through the cost-basis mutation path;
// Cost is the weighted-average unit cost, not total cost.
type Account struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Type        AccountType     `json:"type"`
	ParentID    string          `json:"parent_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Cost        decimal.Decimal `json:"cost"`
	MarketPrice decimal.Decimal `json:"market_price"`
	Currency    string          `json:"currency"`
	State       AccountState    `json:"state"`
}

// Active reports whether the account is in the Active state
func (a *Account) Active() bool {
	return a.State == AccountStateActive
}

// AccountPatch is a narrow field-level update for an account. Quantity,
// cost, currency and symbol are deliberately absent: those fields change
// only through the cost-basis mutation path (or never).
type AccountPatch struct {
	Type        *AccountType `json:"type,omitempty"`
	ParentID    *string      `json:"parent_id,omitempty"`
	Description *string      `json:"description,omitempty"`
}

// Transaction is an immutable economic event against exactly one account.
// Date is the event timestamp, distinct from insertion time; it drives
// ordering and reconciliation watermarks.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	AccountID   string          `json:"account_id"`
	Description string          `json:"description,omitempty"`
	Date        time.Time       `json:"date"`
	Direction   Direction       `json:"direction"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
}

// RateQuote is a cached (currency, capture date) exchange rate pair.
// Rates are quoted per 100 units of the foreign currency.
type RateQuote struct {
	ID           string          `json:"id"`
	Currency     string          `json:"currency"`
	BuyIn        decimal.Decimal `json:"buy_in"`
	SellOut      decimal.Decimal `json:"sell_out"`
	CapturedDate string          `json:"captured_date"` // 2006-01-02
}

// TotalPortfolioAccountID is the reserved PriceTrace account id meaning
// "total portfolio value" rather than a single asset's price series.
const TotalPortfolioAccountID = "0"

// PricePoint is one observation in an append-only price series
type PricePoint struct {
	ID        int64           `json:"id"`
	AccountID string          `json:"account_id"`
	Date      time.Time       `json:"date"`
	Price     decimal.Decimal `json:"price"`
}

// BrokerConfig holds credentials and the reconciliation watermark for one
// external brokerage account. LastRefreshedAt marks the event timestamp of
// the last order folded into the ledger.
type BrokerConfig struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	AppKey          string    `json:"app_key"`
	AppSecret       string    `json:"-"`
	AccessToken     string    `json:"-"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

// CashAccountID returns the ledger account id for this config's cash leg
func (c *BrokerConfig) CashAccountID() string {
	return c.AppKey + "_cash"
}

// StockAccountID returns the ledger account id for a security held under
// this config
func (c *BrokerConfig) StockAccountID(symbol string) string {
	return c.AppKey + "_stock_" + symbol
}
