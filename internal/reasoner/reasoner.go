// Package reasoner turns chat messages into ledger tool calls and judges
// executed actions for the critic, using an OpenAI-compatible model.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/metrics"
	"guardian-trader/internal/models"
)

// Reasoner is the natural-language boundary of the system.
type Reasoner interface {
	// Decide maps the latest user message to at most one tool call.
	Decide(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (models.Decision, error)
	// Assess judges whether an executed action matches what the user meant.
	Assess(ctx context.Context, criticPrompt string, recent []models.Message, action models.ActionLogEntry) (models.AnomalyVerdict, error)
}

// Turn is one entry of the actor's conversation history.
type Turn struct {
	Role    string
	Content string
}

// Conversation roles.
const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	// UseTools offers the ledger tools through function calling. When false
	// the model is asked for a JSON object instead, for endpoints without
	// tool support.
	UseTools bool
	Logger   zerolog.Logger
	Metrics  *metrics.Recorder
}

// Adapter implements Reasoner on top of an LLMClient. Malformed model
// output never escapes as an error: it becomes no action or a safe verdict.
type Adapter struct {
	client   LLMClient
	validate *validator.Validate
	useTools bool
	logger   zerolog.Logger
	metrics  *metrics.Recorder
}

// NewAdapter creates a reasoner adapter.
func NewAdapter(client LLMClient, opts AdapterOptions) *Adapter {
	return &Adapter{
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		useTools: opts.UseTools,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Decide asks the model for a tool call.
func (a *Adapter) Decide(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (models.Decision, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, t := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userMessage})

	var tools []openai.Tool
	if a.useTools {
		tools = LedgerTools()
	}

	start := time.Now()
	reply, err := a.client.Complete(ctx, messages, tools, !a.useTools)
	a.metrics.RecordReasonerLatency("decide", time.Since(start).Seconds())
	if err != nil {
		return models.NoAction, errors.NewAgentError("actor", "decide", errors.NewTransportError("reasoner", err))
	}

	d, err := a.parseDecision(reply)
	if err != nil {
		a.logger.Warn().Err(err).Str("content", truncate(reply.Content, 200)).Msg("Reasoner output ignored")
		return models.NoAction, nil
	}
	return d, nil
}

type decisionJSON struct {
	Tool     string                 `json:"tool"`
	Args     map[string]interface{} `json:"args"`
	Symbol   interface{}            `json:"symbol"`
	Quantity interface{}            `json:"quantity"`
}

func (a *Adapter) parseDecision(reply openai.ChatCompletionMessage) (models.Decision, error) {
	if len(reply.ToolCalls) > 0 {
		call := reply.ToolCalls[0]
		args, err := decodeArgs(call.Function.Arguments)
		if err != nil {
			return models.NoAction, errors.Wrapf(errors.ErrReasonerMalformed, "tool %s arguments: %v", call.Function.Name, err)
		}
		return a.toDecision(call.Function.Name, args)
	}

	obj, ok := FirstJSONObject(reply.Content)
	if !ok {
		// Plain prose means the model chose not to act.
		return models.NoAction, nil
	}

	var raw decisionJSON
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return models.NoAction, errors.Wrapf(errors.ErrReasonerMalformed, "%v", err)
	}
	if raw.Tool == "" || raw.Tool == "none" {
		return models.NoAction, nil
	}
	args := raw.Args
	if args == nil {
		args = map[string]interface{}{"symbol": raw.Symbol, "quantity": raw.Quantity}
	}
	return a.toDecision(raw.Tool, args)
}

func decodeArgs(s string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(s) == "" {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

func (a *Adapter) toDecision(name string, args map[string]interface{}) (models.Decision, error) {
	tool, ok := knownTool(name)
	if !ok {
		return models.NoAction, errors.Wrapf(errors.ErrReasonerMalformed, "unknown tool %q", name)
	}

	d := models.DecisionFromArgs(tool, args)
	if !tool.Trades() {
		return d, nil
	}

	d.Symbol = strings.ToUpper(strings.TrimSpace(d.Symbol))
	if err := a.validate.Struct(models.TradeArgs{Symbol: d.Symbol, Quantity: d.Quantity}); err != nil {
		return models.NoAction, errors.Wrapf(errors.ErrReasonerMalformed, "%s arguments: %v", name, err)
	}
	return d, nil
}

// Assess asks the model whether action is anomalous.
func (a *Adapter) Assess(ctx context.Context, criticPrompt string, recent []models.Message, action models.ActionLogEntry) (models.AnomalyVerdict, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: criticPrompt},
		{Role: openai.ChatMessageRoleUser, Content: assessmentRequest(recent, action)},
	}

	start := time.Now()
	reply, err := a.client.Complete(ctx, messages, nil, true)
	a.metrics.RecordReasonerLatency("assess", time.Since(start).Seconds())
	if err != nil {
		return models.Safe, errors.NewAgentError("critic", "assess", errors.NewTransportError("reasoner", err))
	}

	v, err := parseVerdict(reply.Content)
	if err != nil {
		a.logger.Warn().Err(err).Str("content", truncate(reply.Content, 200)).Msg("Critic output ignored, treating action as safe")
		return models.Safe, nil
	}
	return v, nil
}

func assessmentRequest(recent []models.Message, action models.ActionLogEntry) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	if len(recent) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range recent {
		fmt.Fprintf(&b, "- %s: %s\n", m.User, m.Text)
	}
	fmt.Fprintf(&b, "\nLatest message: %q\n\n", action.Message)

	d := action.Decision()
	b.WriteString("Action taken by the trading assistant:\n")
	if d.Tool.Trades() {
		fmt.Fprintf(&b, "%s %s quantity %d\n", d.Tool, d.Symbol, d.Quantity)
	} else {
		fmt.Fprintf(&b, "%s\n", d.Tool)
	}
	if action.Result != "" {
		fmt.Fprintf(&b, "Result: %s\n", action.Result)
	}
	b.WriteString("\nIs this action what the person meant? Reply with JSON only.")
	return b.String()
}

func parseVerdict(content string) (models.AnomalyVerdict, error) {
	obj, ok := FirstJSONObject(content)
	if !ok {
		return models.Safe, errors.Wrap(errors.ErrReasonerMalformed, "no JSON object in critic reply")
	}

	var v models.AnomalyVerdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return models.Safe, errors.Wrapf(errors.ErrReasonerMalformed, "%v", err)
	}
	if !v.IsAnomaly {
		return models.Safe, nil
	}

	switch sev := models.Severity(strings.ToLower(string(v.Severity))); sev {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		v.Severity = sev
	default:
		v.Severity = models.SeverityMedium
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Reasoner = (*Adapter)(nil)
