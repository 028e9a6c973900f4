package ledger

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Simulator moves a stock price on every ledger access that inspects or trades.
type Simulator interface {
	Next(price decimal.Decimal) decimal.Decimal
}

// DefaultVolatility bounds a single tick to ±3%.
const DefaultVolatility = 0.03

var minPrice = decimal.RequireFromString("0.01")

// RandomWalk multiplies the price by a factor sampled uniformly from
// [1-bound, 1+bound] and rounds to cents.
type RandomWalk struct {
	mu    sync.Mutex
	rng   *rand.Rand
	bound float64
}

// NewRandomWalk creates a random walk simulator. A zero seed uses the clock.
func NewRandomWalk(bound float64, seed int64) *RandomWalk {
	if bound <= 0 {
		bound = DefaultVolatility
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomWalk{
		rng:   rand.New(rand.NewSource(seed)),
		bound: bound,
	}
}

// Next returns the perturbed price, never below one cent.
func (w *RandomWalk) Next(price decimal.Decimal) decimal.Decimal {
	w.mu.Lock()
	change := (w.rng.Float64()*2 - 1) * w.bound
	w.mu.Unlock()

	next := price.Mul(decimal.NewFromFloat(1 + change)).Round(2)
	if next.LessThan(minPrice) {
		return minPrice
	}
	return next
}

// StaticPrices leaves prices untouched. Used for deterministic runs.
type StaticPrices struct{}

// Next returns price unchanged.
func (StaticPrices) Next(price decimal.Decimal) decimal.Decimal {
	return price
}
