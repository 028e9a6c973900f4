package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"guardian-trader/internal/models"
)

// PaperLedger is an in-memory ledger guarded by a single mutex.
type PaperLedger struct {
	seed Seed
	sim  Simulator

	stocks   map[string]*models.Stock
	symbols  []string
	balance  decimal.Decimal
	holdings map[string]int
	acquired []string // holding symbols in acquisition order

	mu sync.Mutex
}

// PaperLedgerConfig holds configuration for the paper ledger.
type PaperLedgerConfig struct {
	Seed      Seed
	Simulator Simulator
}

// NewPaperLedger creates a new in-memory ledger.
func NewPaperLedger(cfg PaperLedgerConfig) *PaperLedger {
	if len(cfg.Seed.Stocks) == 0 {
		cfg.Seed = DefaultSeed()
	}
	if cfg.Simulator == nil {
		cfg.Simulator = NewRandomWalk(DefaultVolatility, 0)
	}

	p := &PaperLedger{
		seed: cfg.Seed,
		sim:  cfg.Simulator,
	}
	p.reset()
	return p
}

func (p *PaperLedger) reset() {
	p.stocks = make(map[string]*models.Stock, len(p.seed.Stocks))
	p.symbols = p.symbols[:0]
	for _, s := range p.seed.Stocks {
		stock := s
		stock.Symbol = NormalizeSymbol(stock.Symbol)
		p.stocks[stock.Symbol] = &stock
		p.symbols = append(p.symbols, stock.Symbol)
	}
	sort.Strings(p.symbols)
	p.balance = p.seed.InitialBalance
	p.holdings = make(map[string]int)
	p.acquired = nil
}

// tick moves every price once. Caller holds the lock.
func (p *PaperLedger) tick() {
	for _, sym := range p.symbols {
		s := p.stocks[sym]
		s.Price = p.sim.Next(s.Price)
	}
}

// Quote returns the current price of symbol.
func (p *PaperLedger) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tick()
	s, ok := p.stocks[symbol]
	if !ok {
		return decimal.Zero, unknownSymbol(opQuote, symbol, 0)
	}
	return s.Price, nil
}

// Buy purchases quantity shares of symbol at the freshly ticked price.
func (p *PaperLedger) Buy(ctx context.Context, symbol string, quantity int) (*models.TradeResult, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateQuantity(opBuy, symbol, quantity); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tick()
	s, ok := p.stocks[symbol]
	if !ok {
		return nil, unknownSymbol(opBuy, symbol, quantity)
	}

	cost := amount(s.Price, quantity)
	if cost.GreaterThan(p.balance) {
		return nil, insufficientFunds(symbol, quantity, cost, p.balance)
	}

	p.balance = p.balance.Sub(cost)
	if _, held := p.holdings[symbol]; !held {
		p.acquired = append(p.acquired, symbol)
	}
	p.holdings[symbol] += quantity

	return &models.TradeResult{
		Side:       models.SideBuy,
		Symbol:     symbol,
		Quantity:   quantity,
		Price:      s.Price,
		Amount:     cost,
		NewBalance: p.balance,
	}, nil
}

// Sell disposes of quantity shares of symbol at the freshly ticked price.
func (p *PaperLedger) Sell(ctx context.Context, symbol string, quantity int) (*models.TradeResult, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateQuantity(opSell, symbol, quantity); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tick()
	s, ok := p.stocks[symbol]
	if !ok {
		return nil, unknownSymbol(opSell, symbol, quantity)
	}

	owned := p.holdings[symbol]
	if owned < quantity {
		return nil, insufficientShares(symbol, quantity, owned)
	}

	revenue := amount(s.Price, quantity)
	if owned == quantity {
		p.removeHolding(symbol)
	} else {
		p.holdings[symbol] = owned - quantity
	}
	p.balance = p.balance.Add(revenue)

	return &models.TradeResult{
		Side:       models.SideSell,
		Symbol:     symbol,
		Quantity:   quantity,
		Price:      s.Price,
		Amount:     revenue,
		NewBalance: p.balance,
	}, nil
}

func (p *PaperLedger) removeHolding(symbol string) {
	delete(p.holdings, symbol)
	for i, sym := range p.acquired {
		if sym == symbol {
			p.acquired = append(p.acquired[:i], p.acquired[i+1:]...)
			return
		}
	}
}

// ListStocks ticks prices and returns every stock ordered by symbol.
func (p *PaperLedger) ListStocks(ctx context.Context) ([]models.Stock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tick()
	return p.stockList(), nil
}

func (p *PaperLedger) stockList() []models.Stock {
	stocks := make([]models.Stock, 0, len(p.symbols))
	for _, sym := range p.symbols {
		stocks = append(stocks, *p.stocks[sym])
	}
	return stocks
}

// ListPortfolio returns the balance and holdings in acquisition order.
func (p *PaperLedger) ListPortfolio(ctx context.Context) (*models.Portfolio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.portfolio(), nil
}

func (p *PaperLedger) portfolio() *models.Portfolio {
	holdings := make([]models.Holding, 0, len(p.acquired))
	for _, sym := range p.acquired {
		holdings = append(holdings, models.Holding{Symbol: sym, Quantity: p.holdings[sym]})
	}
	return &models.Portfolio{
		Balance:  p.balance,
		Holdings: holdings,
	}
}

// Valuation prices the portfolio at the last ticked prices.
func (p *PaperLedger) Valuation(ctx context.Context) (*models.Valuation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.portfolio().Value(p.stockList()), nil
}

// Reset restores the ledger to its seed state.
func (p *PaperLedger) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reset()
	return nil
}

// Close is a no-op for the in-memory ledger.
func (p *PaperLedger) Close() error {
	return nil
}

// Ensure PaperLedger implements Ledger interface
var _ Ledger = (*PaperLedger)(nil)
