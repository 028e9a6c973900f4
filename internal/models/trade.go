package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Side represents the side of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeResult is the outcome of a successful buy or sell.
// Amount is the cost of a buy or the revenue of a sell.
type TradeResult struct {
	Side       Side
	Symbol     string
	Quantity   int
	Price      decimal.Decimal
	Amount     decimal.Decimal
	NewBalance decimal.Decimal
}

// MarshalJSON renders the result the way the tool contract names it:
// "cost" for buys and "revenue" for sells.
func (r TradeResult) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"symbol":      r.Symbol,
		"quantity":    r.Quantity,
		"price":       r.Price,
		"new_balance": r.NewBalance.Round(2),
	}
	if r.Side == SideBuy {
		out["status"] = "bought"
		out["cost"] = r.Amount
	} else {
		out["status"] = "sold"
		out["revenue"] = r.Amount
	}
	return json.Marshal(out)
}
