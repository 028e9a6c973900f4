// Package market fetches live reference quotes used to enrich the actor's
// logs. Quotes never affect ledger prices.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"guardian-trader/internal/errors"
)

// DefaultBaseURL is the Finnhub REST endpoint.
const DefaultBaseURL = "https://finnhub.io/api/v1"

// Quote is a live market quote.
type Quote struct {
	Symbol        string
	Current       decimal.Decimal
	Change        decimal.Decimal
	PercentChange decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Open          decimal.Decimal
	PrevClose     decimal.Decimal
	Timestamp     time.Time
}

// QuoteProvider returns live quotes.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

// FinnhubConfig holds configuration for the Finnhub client.
type FinnhubConfig struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// FinnhubClient fetches quotes from Finnhub with a short in-memory cache.
type FinnhubClient struct {
	client *resty.Client
	apiKey string
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	quote   *Quote
	fetched time.Time
}

// NewFinnhubClient creates a new Finnhub client.
func NewFinnhubClient(cfg FinnhubConfig) *FinnhubClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)

	return &FinnhubClient{
		client: client,
		apiKey: cfg.APIKey,
		ttl:    cfg.CacheTTL,
		cache:  make(map[string]cachedQuote),
	}
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// Quote returns the latest quote for symbol.
func (fc *FinnhubClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if fc.apiKey == "" {
		return nil, fmt.Errorf("Finnhub API key not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if q := fc.cached(symbol); q != nil {
		return q, nil
	}

	resp, err := fc.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"token":  fc.apiKey,
		}).
		Get("/quote")
	if err != nil {
		return nil, errors.NewTransportError("finnhub", fmt.Errorf("failed to fetch quote for %s: %w", symbol, err))
	}
	if resp.StatusCode() != 200 {
		return nil, errors.NewTransportError("finnhub", fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String()))
	}

	var raw finnhubQuote
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}
	// Finnhub answers unknown symbols with an all-zero quote.
	if raw.Current == 0 && raw.Timestamp == 0 {
		return nil, errors.NewLedgerError("quote", symbol, 0, errors.ErrUnknownSymbol, "no live quote")
	}

	q := &Quote{
		Symbol:        symbol,
		Current:       decimal.NewFromFloat(raw.Current),
		Change:        decimal.NewFromFloat(raw.Change),
		PercentChange: decimal.NewFromFloat(raw.PercentChange),
		High:          decimal.NewFromFloat(raw.High),
		Low:           decimal.NewFromFloat(raw.Low),
		Open:          decimal.NewFromFloat(raw.Open),
		PrevClose:     decimal.NewFromFloat(raw.PrevClose),
		Timestamp:     time.Unix(raw.Timestamp, 0),
	}
	fc.store(symbol, q)
	return q, nil
}

func (fc *FinnhubClient) cached(symbol string) *Quote {
	if fc.ttl <= 0 {
		return nil
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()

	c, ok := fc.cache[symbol]
	if !ok || time.Since(c.fetched) > fc.ttl {
		return nil
	}
	return c.quote
}

func (fc *FinnhubClient) store(symbol string, q *Quote) {
	if fc.ttl <= 0 {
		return
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.cache[symbol] = cachedQuote{quote: q, fetched: time.Now()}
}

var _ QuoteProvider = (*FinnhubClient)(nil)
