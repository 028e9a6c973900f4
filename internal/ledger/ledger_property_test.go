package ledger

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"guardian-trader/internal/errors"
)

type tradeStep struct {
	Buy      bool
	Symbol   int
	Quantity int
}

var stepSymbols = []string{"AAPL", "TSLA", "MSFT", "GOOGL", "NVDA", "ZZZZ"}

func genTradeStep() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(),
		gen.IntRange(0, len(stepSymbols)-1),
		gen.IntRange(-1, 60),
	).Map(func(v []interface{}) tradeStep {
		return tradeStep{Buy: v[0].(bool), Symbol: v[1].(int), Quantity: v[2].(int)}
	})
}

// propertyBackends builds one ledger per implementation. Each property run
// starts from Reset, so a single SQLite file serves every iteration.
func propertyBackends(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"paper":  staticPaper(t),
		"sqlite": staticSQLite(t),
	}
}

func propertyParameters(minSuccessful int) *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = minSuccessful
	parameters.Rng.Seed(time.Now().UnixNano())
	return parameters
}

// Property: with static prices, balance plus holdings valued at seed prices
// never changes, no holding is ever non-positive and the balance never goes
// negative, whatever sequence of trades is attempted.
func TestProperty_LedgerConservesValue(t *testing.T) {
	for name, l := range propertyBackends(t) {
		t.Run(name, func(t *testing.T) {
			properties := gopter.NewProperties(propertyParameters(50))

			properties.Property("total value is conserved under any trade sequence", prop.ForAll(
				func(steps []tradeStep) bool {
					ctx := context.Background()
					if err := l.Reset(ctx); err != nil {
						t.Logf("reset: %v", err)
						return false
					}

					for _, s := range steps {
						sym := stepSymbols[s.Symbol]
						var err error
						if s.Buy {
							_, err = l.Buy(ctx, sym, s.Quantity)
						} else {
							_, err = l.Sell(ctx, sym, s.Quantity)
						}
						if err != nil && !errors.IsLedgerRejection(err) {
							t.Logf("unexpected error: %v", err)
							return false
						}

						v, err := l.Valuation(ctx)
						if err != nil {
							return false
						}
						if !v.TotalValue.Equal(DefaultInitialBalance) {
							t.Logf("total value drifted to %s", v.TotalValue)
							return false
						}
						if v.Balance.LessThan(decimal.Zero) {
							return false
						}
						for _, h := range v.Holdings {
							if h.Quantity <= 0 {
								return false
							}
						}
					}
					return true
				},
				gen.SliceOfN(30, genTradeStep()),
			))

			properties.TestingRun(t)
		})
	}
}

// Property: a rejected trade leaves the portfolio exactly as it was.
func TestProperty_RejectedTradeLeavesPortfolioUnchanged(t *testing.T) {
	for name, l := range propertyBackends(t) {
		t.Run(name, func(t *testing.T) {
			properties := gopter.NewProperties(propertyParameters(50))

			properties.Property("rejections are side-effect free", prop.ForAll(
				func(held, extra int) bool {
					ctx := context.Background()
					if err := l.Reset(ctx); err != nil {
						return false
					}

					if _, err := l.Buy(ctx, "TSLA", held); err != nil {
						return false
					}
					before, _ := l.ListPortfolio(ctx)

					_, err := l.Sell(ctx, "TSLA", held+extra)
					if !errors.Is(err, errors.ErrInsufficientShares) {
						return false
					}

					after, _ := l.ListPortfolio(ctx)
					if !before.Balance.Equal(after.Balance) || len(before.Holdings) != len(after.Holdings) {
						return false
					}
					return before.Holdings[0] == after.Holdings[0]
				},
				gen.IntRange(1, 100),
				gen.IntRange(1, 100),
			))

			properties.TestingRun(t)
		})
	}
}

func TestLedger_ConcurrentTradesConserveValue(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		symbols := []string{"AAPL", "TSLA", "MSFT"}

		var mu sync.Mutex
		net := make(map[string]int)

		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < 8; w++ {
			rng := rand.New(rand.NewSource(int64(w)))
			g.Go(func() error {
				for i := 0; i < 40; i++ {
					sym := symbols[rng.Intn(len(symbols))]
					qty := rng.Intn(20) + 1
					var err error
					if rng.Intn(2) == 0 {
						_, err = l.Buy(gctx, sym, qty)
						if err == nil {
							mu.Lock()
							net[sym] += qty
							mu.Unlock()
						}
					} else {
						_, err = l.Sell(gctx, sym, qty)
						if err == nil {
							mu.Lock()
							net[sym] -= qty
							mu.Unlock()
						}
					}
					if err != nil && !errors.IsLedgerRejection(err) {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		v, err := l.Valuation(ctx)
		require.NoError(t, err)
		assert.True(t, v.TotalValue.Equal(DefaultInitialBalance), "total value %s", v.TotalValue)
		assert.False(t, v.Balance.IsNegative())

		got := make(map[string]int)
		for _, h := range v.Holdings {
			assert.Positive(t, h.Quantity)
			got[h.Symbol] = h.Quantity
		}
		for _, sym := range symbols {
			assert.Equal(t, net[sym], got[sym], sym)
		}
	})
}
