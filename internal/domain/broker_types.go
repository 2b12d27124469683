package domain

// Broker-agnostic types for the external reconciliation process. These
// abstract away the concrete brokerage SDK behind BrokerClient.

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the brokerage-reported side of a filled order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// BrokerBalance is the brokerage's authoritative current cash position
type BrokerBalance struct {
	Currency  string
	TotalCash decimal.Decimal
}

// BrokerPosition is one open security position reported by the brokerage
type BrokerPosition struct {
	Symbol    string
	Quantity  decimal.Decimal
	CostPrice decimal.Decimal
	Currency  string
}

// BrokerOrder is one filled/settled order from the brokerage feed.
// UpdatedAt is the order's event timestamp and drives watermark ordering.
type BrokerOrder struct {
	Symbol    string
	Side      OrderSide
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Currency  string
	UpdatedAt time.Time
}

// Amount returns the order's monetary amount (price * quantity)
func (o *BrokerOrder) Amount() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}

// SecurityName holds display names for a symbol
type SecurityName struct {
	Symbol      string
	NameLocal   string
	NameEnglish string
}
