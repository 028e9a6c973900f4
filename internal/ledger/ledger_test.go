package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

func staticPaper(t *testing.T) Ledger {
	t.Helper()
	return NewPaperLedger(PaperLedgerConfig{Simulator: StaticPrices{}})
}

func staticSQLite(t *testing.T) Ledger {
	t.Helper()
	l, err := NewSQLiteLedger(context.Background(), SQLiteLedgerConfig{
		Path:      filepath.Join(t.TempDir(), "ledger.db"),
		Simulator: StaticPrices{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// forEachLedger runs fn against every Ledger implementation.
func forEachLedger(t *testing.T, fn func(t *testing.T, l Ledger)) {
	t.Run("paper", func(t *testing.T) { fn(t, staticPaper(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, staticSQLite(t)) })
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedger_BuyDebitsWallet(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		res, err := l.Buy(ctx, "AAPL", 10)
		require.NoError(t, err)
		assert.Equal(t, models.SideBuy, res.Side)
		assert.True(t, res.Amount.Equal(dec("6405")), "cost %s", res.Amount)
		assert.True(t, res.NewBalance.Equal(dec("517595")), "balance %s", res.NewBalance)

		p, err := l.ListPortfolio(ctx)
		require.NoError(t, err)
		require.Len(t, p.Holdings, 1)
		assert.Equal(t, models.Holding{Symbol: "AAPL", Quantity: 10}, p.Holdings[0])
	})
}

func TestLedger_SymbolIsCaseInsensitive(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		res, err := l.Buy(context.Background(), " aapl ", 1)
		require.NoError(t, err)
		assert.Equal(t, "AAPL", res.Symbol)
	})
}

func TestLedger_SellMoreThanOwned(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		_, err := l.Buy(ctx, "AAPL", 10)
		require.NoError(t, err)

		_, err = l.Sell(ctx, "AAPL", 15)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientShares))
		assert.Contains(t, err.Error(), "owned: 10")

		p, err := l.ListPortfolio(ctx)
		require.NoError(t, err)
		assert.True(t, p.Balance.Equal(dec("517595")))
		h, ok := p.Find("AAPL")
		require.True(t, ok)
		assert.Equal(t, 10, h.Quantity)
	})
}

func TestLedger_SellNotOwned(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		_, err := l.Sell(context.Background(), "TSLA", 1)
		assert.True(t, errors.Is(err, errors.ErrInsufficientShares))
	})
}

func TestLedger_UnknownSymbol(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		_, err := l.Buy(ctx, "ZZZZ", 1)
		assert.True(t, errors.Is(err, errors.ErrUnknownSymbol))
		assert.True(t, errors.IsLedgerRejection(err))

		_, err = l.Quote(ctx, "ZZZZ")
		assert.True(t, errors.Is(err, errors.ErrUnknownSymbol))
	})
}

func TestLedger_InvalidQuantity(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		for _, q := range []int{0, -3} {
			_, err := l.Buy(ctx, "AAPL", q)
			assert.True(t, errors.Is(err, errors.ErrInvalidQuantity), "buy %d", q)
			_, err = l.Sell(ctx, "AAPL", q)
			assert.True(t, errors.Is(err, errors.ErrInvalidQuantity), "sell %d", q)
		}
	})
}

func TestLedger_InsufficientFunds(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		// 500 * 1200.5 = 600250 > 524000
		_, err := l.Buy(ctx, "NVDA", 500)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientFunds))
		assert.Contains(t, err.Error(), "required: 600250.00, available: 524000.00")

		p, err := l.ListPortfolio(ctx)
		require.NoError(t, err)
		assert.Empty(t, p.Holdings)
		assert.True(t, p.Balance.Equal(DefaultInitialBalance))
	})
}

func TestLedger_SellToZeroRemovesHolding(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		_, err := l.Buy(ctx, "MSFT", 4)
		require.NoError(t, err)
		res, err := l.Sell(ctx, "MSFT", 4)
		require.NoError(t, err)
		assert.True(t, res.Amount.Equal(dec("1881.2")))

		p, err := l.ListPortfolio(ctx)
		require.NoError(t, err)
		_, ok := p.Find("MSFT")
		assert.False(t, ok)
		assert.True(t, p.Balance.Equal(DefaultInitialBalance))
	})
}

func TestLedger_HoldingsInAcquisitionOrder(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		for _, sym := range []string{"TSLA", "AAPL", "MSFT"} {
			_, err := l.Buy(ctx, sym, 1)
			require.NoError(t, err)
		}
		_, err := l.Buy(ctx, "TSLA", 2)
		require.NoError(t, err)

		p, err := l.ListPortfolio(ctx)
		require.NoError(t, err)
		var order []string
		for _, h := range p.Holdings {
			order = append(order, h.Symbol)
		}
		assert.Equal(t, []string{"TSLA", "AAPL", "MSFT"}, order)
	})
}

func TestLedger_ListStocksSorted(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		stocks, err := l.ListStocks(context.Background())
		require.NoError(t, err)
		var symbols []string
		for _, s := range stocks {
			symbols = append(symbols, s.Symbol)
		}
		assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT", "NVDA", "TSLA"}, symbols)
	})
}

func TestLedger_Valuation(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		_, err := l.Buy(ctx, "AAPL", 10)
		require.NoError(t, err)

		v, err := l.Valuation(ctx)
		require.NoError(t, err)
		assert.True(t, v.PortfolioValue.Equal(dec("6405")))
		assert.True(t, v.TotalValue.Equal(DefaultInitialBalance))
		require.Len(t, v.Holdings, 1)
		assert.Equal(t, "Apple Inc.", v.Holdings[0].Name)
	})
}

func TestLedger_Reset(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		_, err := l.Buy(ctx, "GOOGL", 3)
		require.NoError(t, err)
		require.NoError(t, l.Reset(ctx))

		p, err := l.ListPortfolio(ctx)
		require.NoError(t, err)
		assert.Empty(t, p.Holdings)
		assert.True(t, p.Balance.Equal(DefaultInitialBalance))

		price, err := l.Quote(ctx, "GOOGL")
		require.NoError(t, err)
		assert.True(t, price.Equal(dec("820.7")))
	})
}

func TestLedger_TradeUsesTickedPrice(t *testing.T) {
	l := NewPaperLedger(PaperLedgerConfig{Simulator: NewRandomWalk(DefaultVolatility, 42)})
	ctx := context.Background()

	res, err := l.Buy(ctx, "AAPL", 3)
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(res.Price.Mul(decimal.NewFromInt(3))))

	p, err := l.ListPortfolio(ctx)
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(DefaultInitialBalance.Sub(res.Amount)))
}

func TestSQLiteLedger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	cfg := SQLiteLedgerConfig{Path: path, Simulator: StaticPrices{}}

	l, err := NewSQLiteLedger(ctx, cfg)
	require.NoError(t, err)
	_, err = l.Buy(ctx, "NVDA", 2)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = NewSQLiteLedger(ctx, cfg)
	require.NoError(t, err)
	defer l.Close()

	p, err := l.ListPortfolio(ctx)
	require.NoError(t, err)
	h, ok := p.Find("NVDA")
	require.True(t, ok)
	assert.Equal(t, 2, h.Quantity)
	assert.True(t, p.Balance.Equal(dec("521599")))
}

func TestSQLiteLedger_RejectionKeepsTick(t *testing.T) {
	ctx := context.Background()
	l, err := NewSQLiteLedger(ctx, SQLiteLedgerConfig{
		Path:      filepath.Join(t.TempDir(), "ledger.db"),
		Simulator: NewRandomWalk(DefaultVolatility, 7),
	})
	require.NoError(t, err)
	defer l.Close()

	before, err := l.readStocks(ctx, l.db)
	require.NoError(t, err)

	_, err = l.Sell(ctx, "AAPL", 1)
	require.True(t, errors.Is(err, errors.ErrInsufficientShares))

	after, err := l.readStocks(ctx, l.db)
	require.NoError(t, err)
	changed := false
	for i := range before {
		if !before[i].Price.Equal(after[i].Price) {
			changed = true
		}
	}
	assert.True(t, changed, "price tick should be committed even when the trade is rejected")
}

func TestRandomWalk_Bounds(t *testing.T) {
	w := NewRandomWalk(DefaultVolatility, 1)
	price := dec("100")
	for i := 0; i < 1000; i++ {
		next := w.Next(price)
		assert.True(t, next.GreaterThanOrEqual(dec("97")), "tick %s below bound", next)
		assert.True(t, next.LessThanOrEqual(dec("103")), "tick %s above bound", next)
		assert.True(t, next.Equal(next.Round(2)))
	}
}

func TestRandomWalk_FloorsAtOneCent(t *testing.T) {
	w := NewRandomWalk(0.5, 3)
	price := dec("0.01")
	for i := 0; i < 100; i++ {
		price = w.Next(price)
		assert.True(t, price.GreaterThanOrEqual(dec("0.01")))
	}
}
