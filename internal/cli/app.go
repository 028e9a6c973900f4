package cli

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"guardian-trader/internal/actionlog"
	"guardian-trader/internal/audit"
	"guardian-trader/internal/bus"
	"guardian-trader/internal/errors"
	"guardian-trader/internal/ledger"
	"guardian-trader/internal/market"
	"guardian-trader/internal/reasoner"
	"guardian-trader/internal/resilience"
)

// openLedger opens the configured ledger backend.
func (app *App) openLedger(ctx context.Context) (ledger.Ledger, error) {
	cfg := app.Config.Ledger

	seed := ledger.DefaultSeed()
	seed.InitialBalance = decimal.NewFromFloat(cfg.InitialBalance)

	var sim ledger.Simulator = ledger.StaticPrices{}
	if cfg.Volatility > 0 {
		sim = ledger.NewRandomWalk(cfg.Volatility, cfg.RandomSeed)
	}

	var l ledger.Ledger
	switch cfg.Backend {
	case "memory":
		l = ledger.NewPaperLedger(ledger.PaperLedgerConfig{Seed: seed, Simulator: sim})
	default:
		path := app.Config.Resolve(cfg.Path)
		sl, err := ledger.NewSQLiteLedger(ctx, ledger.SQLiteLedgerConfig{
			Path:      path,
			Seed:      seed,
			Simulator: sim,
		})
		if err != nil {
			return nil, err
		}
		app.Logger.Debug().Str("path", path).Msg("Opened SQLite ledger")
		l = sl
	}

	app.onClose(l.Close)
	return l, nil
}

// busRole says whether the caller hosts the chat history or talks to the
// process that does.
type busRole int

const (
	busHost   busRole = iota // chatroom and run serve the history
	busClient                // actor, critic and say reach it over HTTP
)

// openBus opens the configured message bus. The memory backend lives in
// the hosting process, so clients reach it through the chatroom API, and a
// host configured for http serves its own memory store instead.
func (app *App) openBus(ctx context.Context, role busRole) (bus.MessageBus, error) {
	cfg := app.Config.Bus

	backend := cfg.Backend
	switch {
	case role == busHost && backend == "http":
		backend = "memory"
	case role == busClient && backend == "memory":
		backend = "http"
	}

	switch backend {
	case "http":
		app.Logger.Debug().Str("url", cfg.URL).Msg("Using chatroom API bus")
		return bus.NewHTTPBus(bus.HTTPBusConfig{
			BaseURL: cfg.URL,
			Timeout: cfg.Timeout,
			Retries: cfg.Retries,
		}), nil
	case "redis":
		rb, err := bus.NewRedisBus(ctx, bus.RedisBusConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
			MaxLen:   cfg.RedisMaxLen,
		})
		if err != nil {
			return nil, err
		}
		app.onClose(rb.Close)
		return rb, nil
	default:
		mb, err := bus.NewMemoryBus(app.Config.Resolve(cfg.Path))
		if err != nil {
			return nil, err
		}
		return mb, nil
	}
}

// openLog opens the action log file.
func (app *App) openLog() (actionlog.Log, error) {
	l, err := actionlog.NewFileLog(app.Config.Resolve(app.Config.ActionLog.Path), app.Config.ActionLog.Capacity)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// newReasoner builds the LLM adapter. An API key is required unless a
// custom endpoint is configured.
func (app *App) newReasoner(component string) (reasoner.Reasoner, error) {
	cfg := app.Config.Reasoner
	apiKey := app.Config.Credentials.OpenAI.APIKey
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "OpenAI API key not configured; set OPENAI_API_KEY or credentials.toml")
	}

	logger := app.Logger.With().Str("component", component).Logger()
	client := reasoner.NewOpenAIClient(reasoner.OpenAIConfig{
		APIKey:      apiKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	})
	breaker := resilience.NewCircuitBreaker(component+"-reasoner", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		Cooldown:         cfg.BreakerCooldown,
	}, logger)

	return reasoner.NewAdapter(resilience.Guard(client, breaker), reasoner.AdapterOptions{
		UseTools: cfg.UseTools,
		Logger:   logger,
		Metrics:  app.Metrics,
	}), nil
}

// newQuotes returns the live quote provider, or nil when disabled.
func (app *App) newQuotes() market.QuoteProvider {
	cfg := app.Config.Market
	if !cfg.Enabled {
		return nil
	}
	return market.NewFinnhubClient(market.FinnhubConfig{
		APIKey:   app.Config.Credentials.Finnhub.APIKey,
		BaseURL:  cfg.BaseURL,
		Timeout:  cfg.Timeout,
		CacheTTL: cfg.CacheTTL,
	})
}

// newAudit opens the audit trail for component, or returns nil when
// auditing is disabled. A nil logger discards events.
func (app *App) newAudit(component string) (*audit.Logger, error) {
	cfg := app.Config.Audit
	if !cfg.Enabled {
		return nil, nil
	}
	l, err := audit.NewLogger(audit.Config{
		LogDir:     app.Config.Resolve(cfg.Dir),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}, component)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	app.onClose(l.Close)
	return l, nil
}
