package critic

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"guardian-trader/internal/actionlog"
	"guardian-trader/internal/audit"
	"guardian-trader/internal/bus"
	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
	"guardian-trader/internal/reasoner"
)

type fakeReasoner struct {
	mu       sync.Mutex
	verdicts map[string]models.AnomalyVerdict
	err      error
	assessed []string
	recent   [][]models.Message
}

func (f *fakeReasoner) Decide(ctx context.Context, systemPrompt string, history []reasoner.Turn, userMessage string) (models.Decision, error) {
	return models.NoAction, nil
}

func (f *fakeReasoner) Assess(ctx context.Context, criticPrompt string, recent []models.Message, action models.ActionLogEntry) (models.AnomalyVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assessed = append(f.assessed, action.Message)
	f.recent = append(f.recent, append([]models.Message(nil), recent...))
	if f.err != nil {
		return models.AnomalyVerdict{}, f.err
	}
	return f.verdicts[action.Message], nil
}

func (f *fakeReasoner) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assessed...)
}

var anomaly = models.AnomalyVerdict{
	IsAnomaly:      true,
	Severity:       models.SeverityHigh,
	Reason:         "the user was joking about being broke",
	Recommendation: "buy the shares back",
}

type harness struct {
	critic   *Critic
	bus      *bus.MemoryBus
	log      *actionlog.MemoryLog
	reasoner *fakeReasoner

	mu          sync.Mutex
	transitions []Transition
	onAwaiting  func(p models.PendingConfirmation)
}

func newHarness(t *testing.T, verdicts map[string]models.AnomalyVerdict) *harness {
	t.Helper()
	b, err := bus.NewMemoryBus("")
	require.NoError(t, err)

	h := &harness{
		bus:      b,
		log:      actionlog.NewMemoryLog(0),
		reasoner: &fakeReasoner{verdicts: verdicts},
	}
	h.critic = New(Config{
		PollInterval:    5 * time.Millisecond,
		ResponsePoll:    2 * time.Millisecond,
		ResponseTimeout: 50 * time.Millisecond,
		GracePeriod:     time.Millisecond,
	}, Deps{
		Bus:          h.bus,
		Log:          h.log,
		Reasoner:     h.reasoner,
		Logger:       zerolog.Nop(),
		OnTransition: h.record,
	})
	require.NoError(t, h.critic.Sync(context.Background()))
	return h
}

func (h *harness) record(tr Transition) {
	h.mu.Lock()
	h.transitions = append(h.transitions, tr)
	hook := h.onAwaiting
	h.mu.Unlock()

	if tr.To == StateAwaiting && hook != nil {
		p, _ := h.critic.Pending()
		hook(p)
	}
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]State, len(h.transitions))
	for i, tr := range h.transitions {
		out[i] = tr.To
	}
	return out
}

func (h *harness) say(t *testing.T, user, text string, sender models.SenderKind) models.Message {
	t.Helper()
	m, err := h.bus.Post(context.Background(), models.Message{User: user, Text: text, Sender: sender})
	require.NoError(t, err)
	return m
}

// act posts a human message and logs the trade the actor made from it.
func (h *harness) act(t *testing.T, text string, d models.Decision) models.ActionLogEntry {
	t.Helper()
	m := h.say(t, "alice", text, models.SenderHuman)
	e, err := h.log.Append(context.Background(), models.ActionLogEntry{
		Message:   text,
		MessageID: m.ID,
		Tool:      d.Tool,
		Args:      d.Args(),
		Result:    `{"status":"ok"}`,
	})
	require.NoError(t, err)
	return e
}

func (h *harness) messages(t *testing.T) []models.Message {
	t.Helper()
	msgs, err := h.bus.Messages(context.Background())
	require.NoError(t, err)
	return msgs
}

var sellTSLA = models.Decision{Tool: models.ToolSellStock, Symbol: "TSLA", Quantity: 100}

func TestCritic_SafeActionReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.act(t, "buy 10 apple", models.Decision{Tool: models.ToolBuyStock, Symbol: "AAPL", Quantity: 10})

	require.NoError(t, h.critic.Step(context.Background()))

	assert.Equal(t, []string{"buy 10 apple"}, h.reasoner.calls())
	assert.Equal(t, []State{StateEvaluating, StateSafe, StateIdle}, h.states())
	assert.Len(t, h.messages(t), 1, "safe actions are not announced")
	assert.Equal(t, StateIdle, h.critic.State())
}

func TestCritic_ReverseRequestsRectification(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{"lol I'm broke": anomaly})
	var pendingID string
	h.onAwaiting = func(p models.PendingConfirmation) {
		pendingID = p.ID
		h.say(t, "alice", "❌ yes please", models.SenderHuman)
	}
	h.act(t, "lol I'm broke", sellTSLA)

	require.NoError(t, h.critic.Step(context.Background()))

	assert.NotEmpty(t, pendingID)
	assert.Equal(t, []State{StateEvaluating, StateFlagged, StateAwaiting, StateReversing, StateIdle}, h.states())

	msgs := h.messages(t)
	require.Len(t, msgs, 6)
	warning := msgs[1]
	assert.Equal(t, "GUARDIAN_AI", warning.User)
	assert.Equal(t, models.SenderOversight, warning.Sender)
	assert.Contains(t, warning.Text, "HIGH")
	assert.Contains(t, warning.Text, "sale of 100 TSLA")

	assert.Contains(t, msgs[3].Text, "Initiating reversal")
	assert.Equal(t, "@ACTOR_AI buy back 100 TSLA shares - accidental sale", msgs[4].Text)
	assert.Equal(t, models.SenderOversight, msgs[4].Sender)
	assert.Contains(t, msgs[5].Text, "Reversal command sent")

	_, ok := h.critic.Pending()
	assert.False(t, ok)
}

func TestCritic_ConfirmKeepsTrade(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{"lol I'm broke": anomaly})
	h.onAwaiting = func(models.PendingConfirmation) {
		h.say(t, "alice", "that was intentional", models.SenderHuman)
	}
	h.act(t, "lol I'm broke", sellTSLA)

	require.NoError(t, h.critic.Step(context.Background()))

	assert.Equal(t, []State{StateEvaluating, StateFlagged, StateAwaiting, StateConfirmed, StateIdle}, h.states())
	msgs := h.messages(t)
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[3].Text, "Confirmed")
	for _, m := range msgs {
		assert.NotContains(t, m.Text, "@ACTOR_AI")
	}
}

func TestCritic_TimeoutClearsOnce(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{"lol I'm broke": anomaly})
	h.act(t, "lol I'm broke", sellTSLA)

	require.NoError(t, h.critic.Step(context.Background()))

	assert.Equal(t, []State{StateEvaluating, StateFlagged, StateAwaiting, StateTimedOut, StateIdle}, h.states())
	msgs := h.messages(t)
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2].Text, "No response")
	_, ok := h.critic.Pending()
	assert.False(t, ok)

	// A late reply has nothing to resolve.
	h.say(t, "alice", "reverse it!", models.SenderHuman)
	require.NoError(t, h.critic.Step(context.Background()))
	assert.Len(t, h.messages(t), 4)
	assert.Len(t, h.states(), 5)
}

func TestCritic_IgnoresNonHumanAndLooseReplies(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{"lol I'm broke": anomaly})
	h.onAwaiting = func(models.PendingConfirmation) {
		h.say(t, "ACTOR_AI", "reverse", models.SenderSystem)
		h.say(t, "GUARDIAN_AI", "undo", models.SenderOversight)
		h.say(t, "alice", "that's incorrect math", models.SenderHuman)
		h.say(t, "bob", "reversed psychology", models.SenderHuman)
	}
	h.act(t, "lol I'm broke", sellTSLA)

	require.NoError(t, h.critic.Step(context.Background()))

	states := h.states()
	require.NotEmpty(t, states)
	assert.Contains(t, states, StateTimedOut)
	assert.NotContains(t, states, StateReversing)
	assert.NotContains(t, states, StateConfirmed)
}

func TestCritic_RepliesBeforeWarningDoNotCount(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{"lol I'm broke": anomaly})
	h.act(t, "lol I'm broke", sellTSLA)
	h.say(t, "alice", "undo", models.SenderHuman)

	require.NoError(t, h.critic.Step(context.Background()))

	assert.Contains(t, h.states(), StateTimedOut)
}

func TestCritic_SkipsExemptEntries(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{
		"@ACTOR_AI buy back 100 TSLA shares - accidental sale": anomaly,
		"restore the position":                                 anomaly,
		"what do I own":                                        anomaly,
		"sell 100 TSLA":                                        anomaly,
	})
	ctx := context.Background()

	h.act(t, "@ACTOR_AI buy back 100 TSLA shares - accidental sale",
		models.Decision{Tool: models.ToolBuyStock, Symbol: "TSLA", Quantity: 100})

	warning := h.say(t, "GUARDIAN_AI", "restore the position", models.SenderOversight)
	_, err := h.log.Append(ctx, models.ActionLogEntry{
		Message:   warning.Text,
		MessageID: warning.ID,
		Tool:      models.ToolBuyStock,
		Args:      models.Decision{Tool: models.ToolBuyStock, Symbol: "TSLA", Quantity: 100}.Args(),
	})
	require.NoError(t, err)

	h.act(t, "what do I own", models.Decision{Tool: models.ToolListPortfolio})

	failed := h.say(t, "alice", "sell 100 TSLA", models.SenderHuman)
	_, err = h.log.Append(ctx, models.ActionLogEntry{
		Message:   failed.Text,
		MessageID: failed.ID,
		Tool:      models.ToolSellStock,
		Args:      sellTSLA.Args(),
		Result:    "insufficient shares",
		Failed:    true,
	})
	require.NoError(t, err)

	require.NoError(t, h.critic.Step(ctx))

	assert.Empty(t, h.reasoner.calls())
	assert.NotContains(t, h.states(), StateFlagged)
	_, ok := h.critic.Pending()
	assert.False(t, ok)
}

func TestCritic_ContextIsPriorNonOversightChat(t *testing.T) {
	h := newHarness(t, nil)
	for _, text := range []string{"one", "two", "three", "four"} {
		h.say(t, "alice", text, models.SenderHuman)
	}
	h.say(t, "GUARDIAN_AI", "watching", models.SenderOversight)
	h.say(t, "ACTOR_AI", "Bought 1 AAPL", models.SenderSystem)
	h.say(t, "bob", "five", models.SenderHuman)
	h.act(t, "sell my tesla", sellTSLA)
	h.say(t, "bob", "after", models.SenderHuman)

	require.NoError(t, h.critic.Step(context.Background()))

	require.Len(t, h.reasoner.recent, 1)
	var texts []string
	for _, m := range h.reasoner.recent[0] {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"two", "three", "four", "Bought 1 AAPL", "five"}, texts)
}

func TestCritic_EvaluatesInOrderOneConfirmationAtATime(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{
		"first":  anomaly,
		"second": anomaly,
	})
	var ids []string
	var overlapping bool
	h.onAwaiting = func(p models.PendingConfirmation) {
		ids = append(ids, p.ID)
		h.say(t, "alice", "👍", models.SenderHuman)
	}
	h.act(t, "first", sellTSLA)
	h.act(t, "second", models.Decision{Tool: models.ToolBuyStock, Symbol: "NVDA", Quantity: 3})

	prev := h.critic.deps.OnTransition
	h.critic.deps.OnTransition = func(tr Transition) {
		if tr.To == StateEvaluating {
			if _, ok := h.critic.Pending(); ok {
				overlapping = true
			}
		}
		prev(tr)
	}

	require.NoError(t, h.critic.Step(context.Background()))

	assert.Equal(t, []string{"first", "second"}, h.reasoner.calls())
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.False(t, overlapping)
	assert.Equal(t, []State{
		StateEvaluating, StateFlagged, StateAwaiting, StateConfirmed, StateIdle,
		StateEvaluating, StateFlagged, StateAwaiting, StateConfirmed, StateIdle,
	}, h.states())
}

func TestCritic_ReasonerFailureIsSafe(t *testing.T) {
	h := newHarness(t, nil)
	h.reasoner.err = errors.NewTransportError("reasoner", errors.ErrTransportUnavailable)
	h.act(t, "sell my tesla", sellTSLA)

	require.NoError(t, h.critic.Step(context.Background()))

	assert.Equal(t, []State{StateEvaluating, StateSafe, StateIdle}, h.states())
	assert.Len(t, h.messages(t), 1)
}

// flakyBus fails the next reads or posts, then behaves like the wrapped bus.
type flakyBus struct {
	bus.MessageBus
	mu        sync.Mutex
	failReads int
	failPosts int
}

func (f *flakyBus) Messages(ctx context.Context) ([]models.Message, error) {
	f.mu.Lock()
	fail := f.failReads > 0
	if fail {
		f.failReads--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.NewTransportError("bus", errors.ErrTransportUnavailable)
	}
	return f.MessageBus.Messages(ctx)
}

func (f *flakyBus) Post(ctx context.Context, msg models.Message) (models.Message, error) {
	f.mu.Lock()
	fail := f.failPosts > 0
	if fail {
		f.failPosts--
	}
	f.mu.Unlock()
	if fail {
		return models.Message{}, errors.NewTransportError("bus", errors.ErrTransportUnavailable)
	}
	return f.MessageBus.Post(ctx, msg)
}

func TestCritic_ChatReadFailureAssessesWithoutContext(t *testing.T) {
	h := newHarness(t, nil)
	h.critic.deps.Bus = &flakyBus{MessageBus: h.bus, failReads: 1}
	h.say(t, "alice", "I'm so broke lol", models.SenderHuman)
	h.act(t, "sell my tesla", sellTSLA)

	require.NoError(t, h.critic.Step(context.Background()))

	assert.Equal(t, []string{"sell my tesla"}, h.reasoner.calls())
	require.Len(t, h.reasoner.recent, 1)
	assert.Empty(t, h.reasoner.recent[0])
	assert.Equal(t, []State{StateEvaluating, StateSafe, StateIdle}, h.states())

	// Nothing is left to evaluate.
	require.NoError(t, h.critic.Step(context.Background()))
	assert.Len(t, h.reasoner.calls(), 1)
}

func TestCritic_UndeliveredWarningIsRetried(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{"lol I'm broke": anomaly})
	h.critic.deps.Bus = &flakyBus{MessageBus: h.bus, failPosts: 1}
	h.act(t, "lol I'm broke", sellTSLA)

	require.Error(t, h.critic.Step(context.Background()))
	assert.Equal(t, []State{StateEvaluating, StateFlagged, StateIdle}, h.states())
	assert.Len(t, h.messages(t), 1)
	_, ok := h.critic.Pending()
	assert.False(t, ok)

	require.NoError(t, h.critic.Step(context.Background()))

	assert.Equal(t, []string{"lol I'm broke"}, h.reasoner.calls(), "the held verdict is reused")
	assert.Equal(t, []State{
		StateEvaluating, StateFlagged, StateIdle,
		StateEvaluating, StateFlagged, StateAwaiting, StateTimedOut, StateIdle,
	}, h.states())
	msgs := h.messages(t)
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[1].Text, "Possible mistake")

	require.NoError(t, h.critic.Step(context.Background()))
	assert.Len(t, h.messages(t), 3)
}

func TestCritic_AuditsFlagAndResolution(t *testing.T) {
	h := newHarness(t, map[string]models.AnomalyVerdict{"lol I'm broke": anomaly})
	dir := t.TempDir()
	auditor, err := audit.NewLogger(audit.Config{LogDir: dir, MaxSize: 1}, "critic")
	require.NoError(t, err)
	defer auditor.Close()
	h.critic.deps.Audit = auditor
	h.onAwaiting = func(models.PendingConfirmation) {
		h.say(t, "alice", "❌", models.SenderHuman)
	}
	h.act(t, "lol I'm broke", sellTSLA)

	require.NoError(t, h.critic.Step(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var flagged, resolved audit.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &flagged))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &resolved))
	assert.Equal(t, audit.EventAnomalyFlagged, flagged.EventType)
	assert.Equal(t, audit.EventResolution, resolved.EventType)
	assert.Equal(t, "reversed", resolved.Action)
	assert.Equal(t, flagged.PendingID, resolved.PendingID)
	assert.Equal(t, "❌", resolved.Details["reply"])
}

func TestCritic_RunSkipsBacklogAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	b, err := bus.NewMemoryBus("")
	require.NoError(t, err)
	log := actionlog.NewMemoryLog(0)
	r := &fakeReasoner{}
	ctx, cancel := context.WithCancel(context.Background())

	_, err = log.Append(ctx, models.ActionLogEntry{Message: "old", Tool: models.ToolSellStock, Args: sellTSLA.Args()})
	require.NoError(t, err)

	c := New(Config{PollInterval: 2 * time.Millisecond}, Deps{
		Bus:      b,
		Log:      log,
		Reasoner: r,
		Logger:   zerolog.Nop(),
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Entries appended before the first step are backlog; keep appending
	// until one is picked up.
	require.Eventually(t, func() bool {
		_, err := log.Append(ctx, models.ActionLogEntry{Message: "new", Tool: models.ToolSellStock, Args: sellTSLA.Args()})
		require.NoError(t, err)
		return len(r.calls()) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("critic did not stop")
	}
	assert.NotContains(t, r.calls(), "old")
}

func TestClassifyResponse(t *testing.T) {
	cases := map[string]Response{
		"❌":                      ResponseReverse,
		"please REVERSE":         ResponseReverse,
		"undo!":                  ResponseReverse,
		"👍":                      ResponseConfirm,
		"it was intentional":     ResponseConfirm,
		"correct":                ResponseConfirm,
		"👍 but actually undo it": ResponseReverse,
		"incorrect":              ResponseNone,
		"reversed":               ResponseNone,
		"ok":                     ResponseNone,
	}
	for text, want := range cases {
		assert.Equal(t, want, ClassifyResponse(text), text)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "AWAITING_RESPONSE", StateAwaiting.String())
	assert.Equal(t, "TIMED_OUT", StateTimedOut.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
