// Package models provides domain models for the trading application.
package models

import (
	"github.com/shopspring/decimal"
)

// Stock is a tradable instrument registered on the exchange.
type Stock struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// Holding is the quantity of a symbol currently owned.
// A holding with zero quantity never exists.
type Holding struct {
	Symbol   string `json:"symbol"`
	Quantity int    `json:"quantity"`
}

// Portfolio is the wallet balance together with the current holdings,
// ordered by acquisition.
type Portfolio struct {
	Balance  decimal.Decimal `json:"balance"`
	Holdings []Holding       `json:"holdings"`
}

// Find returns the holding for symbol, if any.
func (p *Portfolio) Find(symbol string) (Holding, bool) {
	for _, h := range p.Holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}

// HoldingValue is a holding priced at the current stock price.
type HoldingValue struct {
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"total_value"`
}

// Valuation is a priced view of the portfolio used by dashboards.
type Valuation struct {
	Balance        decimal.Decimal `json:"balance"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	Holdings       []HoldingValue  `json:"holdings"`
}

// Value computes a valuation of the portfolio from a price list.
// Holdings whose symbol is missing from stocks are skipped.
func (p *Portfolio) Value(stocks []Stock) *Valuation {
	bySymbol := make(map[string]Stock, len(stocks))
	for _, s := range stocks {
		bySymbol[s.Symbol] = s
	}

	v := &Valuation{
		Balance:  p.Balance,
		Holdings: make([]HoldingValue, 0, len(p.Holdings)),
	}
	for _, h := range p.Holdings {
		s, ok := bySymbol[h.Symbol]
		if !ok {
			continue
		}
		value := s.Price.Mul(decimal.NewFromInt(int64(h.Quantity)))
		v.PortfolioValue = v.PortfolioValue.Add(value)
		v.Holdings = append(v.Holdings, HoldingValue{
			Symbol:   h.Symbol,
			Name:     s.Name,
			Quantity: h.Quantity,
			Price:    s.Price,
			Value:    value,
		})
	}
	v.TotalValue = v.Balance.Add(v.PortfolioValue)
	return v
}
