// Package critic watches the actor's action log and challenges trades that
// look like a misreading of the chat. A flagged trade is put to the humans
// in the chat; depending on their reply, or the lack of one, the critic
// either asks the actor to reverse it or lets it stand.
package critic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"guardian-trader/internal/actionlog"
	"guardian-trader/internal/audit"
	"guardian-trader/internal/bus"
	"guardian-trader/internal/command"
	"guardian-trader/internal/logging"
	"guardian-trader/internal/metrics"
	"guardian-trader/internal/models"
	"guardian-trader/internal/reasoner"
)

// Config holds critic configuration.
type Config struct {
	Identity        string
	Prompt          string
	PollInterval    time.Duration
	ResponsePoll    time.Duration
	ResponseTimeout time.Duration
	GracePeriod     time.Duration
	ContextSize     int
}

// DefaultConfig returns the default critic configuration.
func DefaultConfig() Config {
	return Config{
		Identity:        "GUARDIAN_AI",
		Prompt:          reasoner.CriticPrompt,
		PollInterval:    2 * time.Second,
		ResponsePoll:    time.Second,
		ResponseTimeout: 30 * time.Second,
		GracePeriod:     2 * time.Second,
		ContextSize:     5,
	}
}

// Deps are the collaborators of a Critic. Metrics, Audit and OnTransition
// are optional.
type Deps struct {
	Bus          bus.MessageBus
	Log          actionlog.Log
	Reasoner     reasoner.Reasoner
	Metrics      *metrics.Recorder
	Audit        *audit.Logger
	Logger       zerolog.Logger
	OnTransition func(Transition)
}

// Critic is the oversight state machine. Step and Run must not be called
// concurrently; State and Pending may be read from any goroutine.
type Critic struct {
	cfg    Config
	deps   Deps
	log    zerolog.Logger
	cursor *actionlog.Cursor

	// unannounced holds a flagged verdict whose warning could not be
	// posted; the entry is retried without asking the reasoner again.
	unannounced *heldVerdict

	mu      sync.Mutex
	state   State
	pending *models.PendingConfirmation
}

type heldVerdict struct {
	seq     int64
	verdict models.AnomalyVerdict
}

// errWarningUndelivered marks a flagged entry whose warning was not posted.
var errWarningUndelivered = errors.New("warning not delivered")

// New creates a critic.
func New(cfg Config, deps Deps) *Critic {
	def := DefaultConfig()
	if cfg.Identity == "" {
		cfg.Identity = def.Identity
	}
	if cfg.Prompt == "" {
		cfg.Prompt = def.Prompt
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ResponsePoll <= 0 {
		cfg.ResponsePoll = def.ResponsePoll
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = def.ContextSize
	}
	return &Critic{
		cfg:  cfg,
		deps: deps,
		log:  logging.WithComponent(deps.Logger, "critic"),
	}
}

// State returns the current state.
func (c *Critic) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns a copy of the outstanding confirmation, if any.
func (c *Critic) Pending() (models.PendingConfirmation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return models.PendingConfirmation{}, false
	}
	return *c.pending, true
}

func (c *Critic) transition(to State, seq int64) {
	c.mu.Lock()
	from := c.state
	c.state = to
	var pendingID string
	if c.pending != nil {
		pendingID = c.pending.ID
	}
	c.mu.Unlock()

	logging.LogTransition(c.log, from.String(), to.String(), seq)
	c.deps.Metrics.SetCriticState(int(to))
	if c.deps.OnTransition != nil {
		c.deps.OnTransition(Transition{From: from, To: to, Seq: seq, PendingID: pendingID})
	}
}

// Run watches the action log until ctx is cancelled. Entries already in the
// log at start-up are not evaluated.
func (c *Critic) Run(ctx context.Context) error {
	c.log.Info().Dur("interval", c.cfg.PollInterval).Msg("Critic started")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.Step(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Critic step failed")
		}

		select {
		case <-ctx.Done():
			c.log.Info().Msg("Critic stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sync positions the cursor after the newest log entry.
func (c *Critic) Sync(ctx context.Context) error {
	entries, err := c.deps.Log.Entries(ctx)
	if err != nil {
		return err
	}
	c.cursor = actionlog.NewCursor(actionlog.LastSeq(entries))
	return nil
}

// Step evaluates every unseen log entry in order. A flagged entry blocks
// until its confirmation is resolved. An entry whose warning could not be
// posted stays unseen and is retried on the next step.
func (c *Critic) Step(ctx context.Context) error {
	if c.cursor == nil {
		return c.Sync(ctx)
	}

	entries, err := c.deps.Log.Entries(ctx)
	if err != nil {
		return err
	}

	unseen, missed := c.cursor.Unseen(entries)
	if missed > 0 {
		c.log.Warn().Int64("missed", missed).Int64("cursor", c.cursor.Position()).
			Msg("Action log rotated past unseen entries")
	}

	for _, e := range unseen {
		if ctx.Err() != nil {
			return nil
		}
		if e.Tool.ReadOnly() || e.Failed || !e.Tool.Trades() {
			c.cursor.Advance(e.Seq)
			continue
		}
		if err := c.Evaluate(ctx, e); err != nil {
			if errors.Is(err, errWarningUndelivered) {
				return err
			}
			c.log.Warn().Err(err).Int64("seq", e.Seq).Msg("Evaluation failed")
		}
		c.cursor.Advance(e.Seq)
	}
	return nil
}

// Evaluate classifies one action and, if it is anomalous, runs the
// confirmation protocol to completion.
func (c *Critic) Evaluate(ctx context.Context, e models.ActionLogEntry) error {
	log := logging.WithSeq(c.log, e.Seq)
	c.transition(StateEvaluating, e.Seq)

	var verdict models.AnomalyVerdict
	if held := c.unannounced; held != nil && held.seq == e.Seq {
		verdict = held.verdict
	} else {
		messages, err := c.deps.Bus.Messages(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Chat history unavailable, assessing without context")
			messages = nil
		}

		if c.exempt(e, messages) {
			log.Debug().Str("message", e.Message).Msg("Skipping command or oversight action")
			c.transition(StateIdle, e.Seq)
			return nil
		}

		verdict, err = c.deps.Reasoner.Assess(ctx, c.cfg.Prompt, c.recentContext(e, messages), e)
		if err != nil {
			// Fail open, the same way an unanswered warning does.
			log.Warn().Err(err).Msg("Assessment unavailable, treating action as safe")
			verdict = models.Safe
		}
	}
	c.unannounced = nil

	if !verdict.IsAnomaly {
		c.transition(StateSafe, e.Seq)
		c.transition(StateIdle, e.Seq)
		return nil
	}

	c.transition(StateFlagged, e.Seq)
	return c.flag(ctx, e, verdict)
}

// exempt reports whether e was triggered by a direct command or by the
// critic itself.
func (c *Critic) exempt(e models.ActionLogEntry, messages []models.Message) bool {
	if command.HasPrefix(e.Message) {
		return true
	}
	if e.MessageID == 0 {
		return false
	}
	for _, m := range messages {
		if m.ID == e.MessageID {
			return m.Sender == models.SenderOversight || m.User == c.cfg.Identity
		}
	}
	return false
}

// recentContext returns up to ContextSize non-oversight messages preceding
// the triggering message.
func (c *Critic) recentContext(e models.ActionLogEntry, messages []models.Message) []models.Message {
	var prior []models.Message
	for _, m := range messages {
		if e.MessageID != 0 && m.ID >= e.MessageID {
			break
		}
		if m.Sender == models.SenderOversight || m.User == c.cfg.Identity {
			continue
		}
		if e.MessageID == 0 && m.Text == e.Message {
			continue
		}
		prior = append(prior, m)
	}
	if len(prior) > c.cfg.ContextSize {
		prior = prior[len(prior)-c.cfg.ContextSize:]
	}
	return prior
}

func (c *Critic) flag(ctx context.Context, e models.ActionLogEntry, verdict models.AnomalyVerdict) error {
	d := e.Decision()
	pending := &models.PendingConfirmation{
		ID:            uuid.NewString(),
		Action:        d,
		Message:       e.Message,
		Rectification: command.Rectification(d),
		Verdict:       verdict,
		CreatedAt:     time.Now(),
	}
	log := logging.WithPending(logging.WithSeq(c.log, e.Seq), pending.ID)

	warning, err := c.post(ctx, c.warningText(pending))
	if err != nil {
		c.unannounced = &heldVerdict{seq: e.Seq, verdict: verdict}
		c.transition(StateIdle, e.Seq)
		return fmt.Errorf("%w: %v", errWarningUndelivered, err)
	}
	pending.WarningID = warning.ID

	c.mu.Lock()
	c.pending = pending
	c.mu.Unlock()

	log.Warn().
		Str("severity", string(verdict.Severity)).
		Str("reason", verdict.Reason).
		Str("rectification", pending.Rectification).
		Msg("Anomaly flagged")
	c.deps.Metrics.RecordAnomaly(string(verdict.Severity))
	if err := c.deps.Audit.LogAnomaly(ctx, pending.ID, e.Seq, string(d.Tool), d.Symbol, d.Quantity,
		string(verdict.Severity), verdict.Reason, pending.Rectification); err != nil {
		log.Debug().Err(err).Msg("Failed to write audit event")
	}

	c.transition(StateAwaiting, e.Seq)
	resp, reply := c.awaitResponse(ctx, pending, log)

	switch {
	case ctx.Err() != nil:
		log.Info().Msg("Shutting down with a pending confirmation")
		c.resolve(context.Background(), e.Seq, pending, "abandoned", nil)
	case resp == ResponseReverse:
		c.transition(StateReversing, e.Seq)
		c.reverse(ctx, pending, log)
		c.resolve(ctx, e.Seq, pending, "reversed", reply)
	case resp == ResponseConfirm:
		c.transition(StateConfirmed, e.Seq)
		c.say(ctx, fmt.Sprintf("👍 Confirmed as intentional. Keeping %s.", describe(d)), log)
		c.resolve(ctx, e.Seq, pending, "confirmed", reply)
	default:
		c.transition(StateTimedOut, e.Seq)
		c.say(ctx, fmt.Sprintf("⏱️ No response in %s, assuming %s was intentional.",
			c.cfg.ResponseTimeout, describe(d)), log)
		c.resolve(ctx, e.Seq, pending, "timed_out", nil)
	}
	return nil
}

// awaitResponse polls the bus for the first human reply after the warning
// that reads as a reversal or a confirmation.
func (c *Critic) awaitResponse(ctx context.Context, p *models.PendingConfirmation, log zerolog.Logger) (Response, *models.Message) {
	deadline := time.NewTimer(c.cfg.ResponseTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.ResponsePoll)
	defer ticker.Stop()

	seen := p.WarningID
	for {
		messages, err := c.deps.Bus.Messages(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Bus unavailable while awaiting response")
		}
		for _, m := range bus.Since(messages, seen) {
			seen = m.ID
			if m.Sender != models.SenderHuman {
				continue
			}
			if resp := ClassifyResponse(m.Text); resp != ResponseNone {
				msg := m
				log.Info().Str("user", m.User).Str("reply", m.Text).Msg("Response received")
				return resp, &msg
			}
		}

		select {
		case <-ctx.Done():
			return ResponseNone, nil
		case <-deadline.C:
			return ResponseNone, nil
		case <-ticker.C:
		}
	}
}

// reverse asks the actor to undo the pending trade. The critic never
// touches the ledger itself.
func (c *Critic) reverse(ctx context.Context, p *models.PendingConfirmation, log zerolog.Logger) {
	c.say(ctx, fmt.Sprintf("🔄 Initiating reversal of %s.", describe(p.Action)), log)
	c.say(ctx, p.Rectification, log)

	t := time.NewTimer(c.cfg.GracePeriod)
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	t.Stop()

	c.say(ctx, "✅ Reversal command sent to the trading assistant.", log)
}

// resolve clears the pending confirmation and returns to IDLE.
func (c *Critic) resolve(ctx context.Context, seq int64, p *models.PendingConfirmation, outcome string, reply *models.Message) {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	details := map[string]interface{}{
		"tool":     string(p.Action.Tool),
		"symbol":   p.Action.Symbol,
		"quantity": p.Action.Quantity,
		"elapsed":  time.Since(p.CreatedAt).String(),
	}
	if reply != nil {
		details["reply"] = reply.Text
		details["reply_user"] = reply.User
	}
	c.deps.Metrics.RecordResolution(outcome)
	if err := c.deps.Audit.LogResolution(ctx, p.ID, outcome, details); err != nil {
		c.log.Debug().Err(err).Str("pending_id", p.ID).Msg("Failed to write audit event")
	}

	c.transition(StateIdle, seq)
}

func (c *Critic) warningText(p *models.PendingConfirmation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Possible mistake (%s severity)\n", strings.ToUpper(string(p.Verdict.Severity)))
	fmt.Fprintf(&b, "Message: %q\n", p.Message)
	fmt.Fprintf(&b, "Action: %s\n", describe(p.Action))
	if p.Verdict.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", p.Verdict.Reason)
	}
	if p.Verdict.Recommendation != "" {
		fmt.Fprintf(&b, "Recommendation: %s\n", p.Verdict.Recommendation)
	}
	fmt.Fprintf(&b, "Reply %s or \"reverse\" to undo it, %s or \"intentional\" to keep it. No reply within %s keeps the trade.",
		reverseMarker, confirmMarker, c.cfg.ResponseTimeout)
	return b.String()
}

func (c *Critic) post(ctx context.Context, text string) (models.Message, error) {
	return c.deps.Bus.Post(ctx, models.Message{
		User:   c.cfg.Identity,
		Text:   text,
		Sender: models.SenderOversight,
	})
}

func (c *Critic) say(ctx context.Context, text string, log zerolog.Logger) {
	if _, err := c.post(ctx, text); err != nil {
		log.Warn().Err(err).Msg("Failed to post to chat")
	}
}

func describe(d models.Decision) string {
	switch d.Tool {
	case models.ToolBuyStock:
		return fmt.Sprintf("buy of %d %s", d.Quantity, d.Symbol)
	case models.ToolSellStock:
		return fmt.Sprintf("sale of %d %s", d.Quantity, d.Symbol)
	default:
		return string(d.Tool)
	}
}
