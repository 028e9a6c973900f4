// Package ledger provides the simulated exchange: stock registry, wallet and
// holdings, mutated only through atomic buy and sell operations.
package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

// Ledger defines the exchange operations available to the actor.
// Every operation is atomic with respect to every other operation.
type Ledger interface {
	// Quote returns the current price of symbol after one price tick.
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Buy debits price*quantity from the wallet and adds the shares.
	Buy(ctx context.Context, symbol string, quantity int) (*models.TradeResult, error)
	// Sell credits price*quantity to the wallet and removes the shares.
	Sell(ctx context.Context, symbol string, quantity int) (*models.TradeResult, error)
	// ListStocks ticks prices once and returns every registered stock.
	ListStocks(ctx context.Context) ([]models.Stock, error)
	// ListPortfolio returns the balance and holdings without ticking prices.
	ListPortfolio(ctx context.Context) (*models.Portfolio, error)
	// Valuation prices the portfolio at current prices without ticking.
	Valuation(ctx context.Context) (*models.Valuation, error)
	// Reset restores the seed stocks and the initial balance.
	Reset(ctx context.Context) error
	Close() error
}

// Seed holds the initial state of a fresh ledger.
type Seed struct {
	InitialBalance decimal.Decimal
	Stocks         []models.Stock
}

// DefaultInitialBalance is the wallet balance of a fresh ledger.
var DefaultInitialBalance = decimal.NewFromInt(524000)

// DefaultSeed returns the stock list a fresh ledger starts with.
func DefaultSeed() Seed {
	return Seed{
		InitialBalance: DefaultInitialBalance,
		Stocks: []models.Stock{
			{Symbol: "AAPL", Name: "Apple Inc.", Price: decimal.RequireFromString("640.5")},
			{Symbol: "TSLA", Name: "Tesla Motors", Price: decimal.RequireFromString("920.2")},
			{Symbol: "MSFT", Name: "Microsoft Corp.", Price: decimal.RequireFromString("470.3")},
			{Symbol: "GOOGL", Name: "Alphabet Inc.", Price: decimal.RequireFromString("820.7")},
			{Symbol: "NVDA", Name: "NVIDIA Corp.", Price: decimal.RequireFromString("1200.5")},
		},
	}
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

const (
	opBuy   = "buy"
	opSell  = "sell"
	opQuote = "quote"
)

func validateQuantity(op, symbol string, quantity int) error {
	if quantity <= 0 {
		return errors.NewLedgerError(op, symbol, quantity, errors.ErrInvalidQuantity, "quantity must be a positive integer")
	}
	return nil
}

func unknownSymbol(op, symbol string, quantity int) error {
	return errors.NewLedgerError(op, symbol, quantity, errors.ErrUnknownSymbol, "stock '"+symbol+"' not found")
}

func insufficientFunds(symbol string, quantity int, cost, balance decimal.Decimal) error {
	return errors.NewLedgerError(opBuy, symbol, quantity, errors.ErrInsufficientFunds,
		"required: "+cost.StringFixed(2)+", available: "+balance.StringFixed(2))
}

func insufficientShares(symbol string, quantity, owned int) error {
	return errors.NewLedgerError(opSell, symbol, quantity, errors.ErrInsufficientShares,
		"owned: "+decimal.NewFromInt(int64(owned)).String())
}

func amount(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}
