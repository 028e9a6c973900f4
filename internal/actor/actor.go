// Package actor executes chat requests against the ledger. It polls the
// message bus, asks the reasoner what each human message wants, runs the
// resulting tool call and records it in the action log for the critic.
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"guardian-trader/internal/actionlog"
	"guardian-trader/internal/audit"
	"guardian-trader/internal/bus"
	"guardian-trader/internal/command"
	"guardian-trader/internal/errors"
	"guardian-trader/internal/ledger"
	"guardian-trader/internal/logging"
	"guardian-trader/internal/market"
	"guardian-trader/internal/metrics"
	"guardian-trader/internal/models"
	"guardian-trader/internal/reasoner"
)

// Config holds actor configuration.
type Config struct {
	Identity     string
	PollInterval time.Duration
	HistoryLimit int
	SystemPrompt string
	PostReplies  bool
}

// DefaultConfig returns the default actor configuration.
func DefaultConfig() Config {
	return Config{
		Identity:     "ACTOR_AI",
		PollInterval: time.Second,
		HistoryLimit: 20,
		SystemPrompt: reasoner.ActorPrompt,
		PostReplies:  true,
	}
}

// Deps are the collaborators of an Actor. Quotes, Metrics and Audit are
// optional.
type Deps struct {
	Ledger   ledger.Ledger
	Bus      bus.MessageBus
	Log      actionlog.Log
	Reasoner reasoner.Reasoner
	Quotes   market.QuoteProvider
	Metrics  *metrics.Recorder
	Audit    *audit.Logger
	Logger   zerolog.Logger
}

// Actor is the chat-driven trading loop. It is not safe for concurrent use;
// run one Actor per ledger.
type Actor struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	cursor  int64
	synced  bool
	history []reasoner.Turn
}

// New creates an actor.
func New(cfg Config, deps Deps) *Actor {
	def := DefaultConfig()
	if cfg.Identity == "" {
		cfg.Identity = def.Identity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	return &Actor{
		cfg:  cfg,
		deps: deps,
		log:  logging.WithComponent(deps.Logger, "actor"),
	}
}

// Run polls the bus until ctx is cancelled. Messages posted before the
// first successful poll are not replayed.
func (a *Actor) Run(ctx context.Context) error {
	a.log.Info().Dur("interval", a.cfg.PollInterval).Msg("Actor started")

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := a.Poll(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Actor poll failed")
		}

		select {
		case <-ctx.Done():
			a.log.Info().Msg("Actor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sync moves the cursor to the newest message on the bus.
func (a *Actor) Sync(ctx context.Context) error {
	tail, err := bus.Tail(ctx, a.deps.Bus)
	if err != nil {
		return err
	}
	a.cursor = tail
	a.synced = true
	return nil
}

// Poll handles every message posted since the last poll.
func (a *Actor) Poll(ctx context.Context) error {
	if !a.synced {
		return a.Sync(ctx)
	}

	messages, err := a.deps.Bus.Messages(ctx)
	if err != nil {
		return err
	}

	for _, msg := range bus.Since(messages, a.cursor) {
		if ctx.Err() != nil {
			return nil
		}
		// At most once: a message that fails is not retried.
		a.cursor = msg.ID
		if err := a.Handle(ctx, msg); err != nil {
			a.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("Failed to handle message")
		}
	}
	return nil
}

// Handle processes one bus message.
func (a *Actor) Handle(ctx context.Context, msg models.Message) error {
	if command.HasPrefix(msg.Text) {
		return a.handleCommand(ctx, msg)
	}
	if msg.Sender != models.SenderHuman || msg.User == a.cfg.Identity {
		return nil
	}
	return a.handleChat(ctx, msg)
}

func (a *Actor) handleCommand(ctx context.Context, msg models.Message) error {
	d, err := command.Parse(msg.Text)
	if err != nil {
		a.log.Warn().Err(err).Str("user", msg.User).Msg("Rejected command")
		a.deps.Metrics.RecordParseError()
		if auditErr := a.deps.Audit.LogCommandRejected(ctx, msg.Text, err); auditErr != nil {
			a.log.Debug().Err(auditErr).Msg("Failed to write audit event")
		}
		a.reply(ctx, "Could not understand command. Use: "+command.Prefix+" (buy|buy back|sell) <quantity> <symbol>")
		return nil
	}

	a.log.Info().Str("tool", string(d.Tool)).Str("symbol", d.Symbol).Int("quantity", d.Quantity).
		Str("user", msg.User).Msg("Executing direct command")
	a.execute(ctx, msg, d)
	return nil
}

func (a *Actor) handleChat(ctx context.Context, msg models.Message) error {
	d, err := a.deps.Reasoner.Decide(ctx, a.cfg.SystemPrompt, a.history, msg.Text)
	if err != nil {
		return errors.Wrap(err, "reasoner decide")
	}
	a.remember(reasoner.RoleUser, msg.Text)
	logging.LogDecision(a.log, string(d.Tool), d.Symbol, d.Quantity, msg.Text)

	if d.IsNone() {
		return nil
	}

	if IsSellAll(msg.Text) && (d.Tool == models.ToolListPortfolio || d.Tool == models.ToolSellStock) {
		a.sellAll(ctx, msg)
		return nil
	}

	a.execute(ctx, msg, d)
	return nil
}

// sellAll takes one portfolio snapshot and sells each holding in full, one
// after another. Only the holdings of symbols named in the message are sold
// when it names any.
func (a *Actor) sellAll(ctx context.Context, msg models.Message) {
	stocks, err := a.deps.Ledger.ListStocks(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("Cannot resolve symbols for sell-all")
		a.reply(ctx, "Could not sell holdings: "+err.Error())
		return
	}
	registered := make([]string, len(stocks))
	for i, s := range stocks {
		registered[i] = s.Symbol
	}

	out := a.execute(ctx, msg, models.Decision{Tool: models.ToolListPortfolio})
	if out.failed || out.portfolio == nil {
		return
	}

	plan := PlanSellAll(out.portfolio, registered, msg.Text)
	a.log.Info().Int("sells", len(plan)).Msg("Selling holdings")
	if len(plan) == 0 {
		a.reply(ctx, "Nothing to sell.")
		return
	}
	for _, sell := range plan {
		if ctx.Err() != nil {
			return
		}
		a.execute(ctx, msg, sell)
	}
}

type outcome struct {
	result    string
	failed    bool
	trade     *models.TradeResult
	portfolio *models.Portfolio
}

// execute runs d against the ledger, appends the action log entry and
// reports the result in the chat.
func (a *Actor) execute(ctx context.Context, msg models.Message, d models.Decision) outcome {
	a.enrich(ctx, d)

	var (
		payload interface{}
		out     outcome
		err     error
		summary string
	)
	switch d.Tool {
	case models.ToolBuyStock:
		var res *models.TradeResult
		res, err = a.deps.Ledger.Buy(ctx, d.Symbol, d.Quantity)
		if err == nil {
			payload = res
			out.trade = res
			summary = fmt.Sprintf("Bought %d %s at %s (cost %s, balance %s)",
				res.Quantity, res.Symbol, res.Price.StringFixed(2), res.Amount.StringFixed(2), res.NewBalance.StringFixed(2))
		}
	case models.ToolSellStock:
		var res *models.TradeResult
		res, err = a.deps.Ledger.Sell(ctx, d.Symbol, d.Quantity)
		if err == nil {
			payload = res
			out.trade = res
			summary = fmt.Sprintf("Sold %d %s at %s (revenue %s, balance %s)",
				res.Quantity, res.Symbol, res.Price.StringFixed(2), res.Amount.StringFixed(2), res.NewBalance.StringFixed(2))
		}
	case models.ToolListStocks:
		var stocks []models.Stock
		stocks, err = a.deps.Ledger.ListStocks(ctx)
		if err == nil {
			payload = stocks
			summary = stocksSummary(stocks)
		}
	case models.ToolListPortfolio:
		var p *models.Portfolio
		p, err = a.deps.Ledger.ListPortfolio(ctx)
		if err == nil {
			payload = p
			out.portfolio = p
			summary = portfolioSummary(p)
		}
	default:
		return outcome{failed: true}
	}

	if err != nil {
		out.failed = true
		payload = map[string]string{"error": err.Error()}
		summary = fmt.Sprintf("%s %s rejected: %v", d.Tool, d.Symbol, err)
	}
	data, _ := json.Marshal(payload)
	out.result = string(data)

	entry, appendErr := a.deps.Log.Append(ctx, models.ActionLogEntry{
		Message:   msg.Text,
		MessageID: msg.ID,
		Tool:      d.Tool,
		Args:      d.Args(),
		Result:    out.result,
		Failed:    out.failed,
	})
	if appendErr != nil {
		a.log.Warn().Err(appendErr).Str("tool", string(d.Tool)).Msg("Failed to append action log")
	}

	a.record(ctx, entry.Seq, d, out, err)
	a.remember(reasoner.RoleAssistant, fmt.Sprintf("Called %s %s. Result: %s", d.Tool, argsText(d), out.result))
	a.reply(ctx, summary)
	return out
}

func (a *Actor) record(ctx context.Context, seq int64, d models.Decision, out outcome, err error) {
	status := "ok"
	switch {
	case err == nil:
		if res := out.trade; res != nil {
			logging.LogTrade(a.log, string(d.Tool), res.Symbol, res.Quantity, res.Price.String(), res.Amount.String())
			a.deps.Metrics.SetBalance(res.NewBalance.InexactFloat64())
		}
	case errors.IsLedgerRejection(err):
		status = "rejected"
		logging.LogRejection(a.log, string(d.Tool), d.Symbol, d.Quantity, err)
	default:
		status = "error"
		a.log.Warn().Err(err).Str("tool", string(d.Tool)).Msg("Ledger unavailable")
	}
	a.deps.Metrics.RecordTrade(string(d.Tool), status)

	if d.Tool.Trades() {
		if auditErr := a.deps.Audit.LogTrade(ctx, seq, string(d.Tool), d.Symbol, d.Quantity, out.result, err); auditErr != nil {
			a.log.Debug().Err(auditErr).Int64("seq", seq).Msg("Failed to write audit event")
		}
	}
}

// enrich logs a live reference quote for the traded symbol.
func (a *Actor) enrich(ctx context.Context, d models.Decision) {
	if a.deps.Quotes == nil || !d.Tool.Trades() {
		return
	}
	q, err := a.deps.Quotes.Quote(ctx, d.Symbol)
	if err != nil {
		a.log.Debug().Err(err).Str("symbol", d.Symbol).Msg("Live quote unavailable")
		return
	}
	a.log.Info().
		Str("symbol", q.Symbol).
		Str("live_price", q.Current.String()).
		Str("change_pct", q.PercentChange.String()).
		Msg("Live market reference")
}

func (a *Actor) remember(role, content string) {
	a.history = append(a.history, reasoner.Turn{Role: role, Content: content})
	if over := len(a.history) - a.cfg.HistoryLimit; over > 0 {
		a.history = append([]reasoner.Turn(nil), a.history[over:]...)
	}
}

// History returns a copy of the reasoner conversation history.
func (a *Actor) History() []reasoner.Turn {
	return append([]reasoner.Turn(nil), a.history...)
}

func (a *Actor) reply(ctx context.Context, text string) {
	if !a.cfg.PostReplies || text == "" {
		return
	}
	_, err := a.deps.Bus.Post(ctx, models.Message{
		User:   a.cfg.Identity,
		Text:   text,
		Sender: models.SenderSystem,
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to post reply")
	}
}

func argsText(d models.Decision) string {
	if !d.Tool.Trades() {
		return "{}"
	}
	return fmt.Sprintf("{symbol: %s, quantity: %d}", d.Symbol, d.Quantity)
}

func stocksSummary(stocks []models.Stock) string {
	parts := make([]string, 0, len(stocks))
	for _, s := range stocks {
		parts = append(parts, fmt.Sprintf("%s %s", s.Symbol, s.Price.StringFixed(2)))
	}
	return "Prices: " + strings.Join(parts, ", ")
}

func portfolioSummary(p *models.Portfolio) string {
	if len(p.Holdings) == 0 {
		return fmt.Sprintf("Balance %s, no holdings", p.Balance.StringFixed(2))
	}
	parts := make([]string, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		parts = append(parts, fmt.Sprintf("%s x%d", h.Symbol, h.Quantity))
	}
	return fmt.Sprintf("Balance %s, holdings: %s", p.Balance.StringFixed(2), strings.Join(parts, ", "))
}
