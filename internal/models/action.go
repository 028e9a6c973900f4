package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ActionLogEntry records one tool invocation by the actor.
// Seq increases by one per append and is never reused. MessageID is the bus
// id of the triggering message.
type ActionLogEntry struct {
	Seq       int64                  `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message"`
	MessageID int64                  `json:"message_id,omitempty"`
	Tool      Tool                   `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	Result    string                 `json:"result"`
	Failed    bool                   `json:"failed,omitempty"`
}

// Decision recovers the tool call from the entry.
func (e *ActionLogEntry) Decision() Decision {
	return DecisionFromArgs(e.Tool, e.Args)
}

// DecisionFromArgs builds a decision from loosely typed tool arguments.
// Quantities read back from JSON arrive as float64, json.Number or string
// and are normalized to int; fractional quantities become 0.
func DecisionFromArgs(tool Tool, args map[string]interface{}) Decision {
	d := Decision{Tool: tool}
	if !tool.Trades() {
		return d
	}
	if s, ok := args["symbol"].(string); ok {
		d.Symbol = s
	}
	switch q := args["quantity"].(type) {
	case int:
		d.Quantity = q
	case int64:
		d.Quantity = int(q)
	case float64:
		if q == math.Trunc(q) {
			d.Quantity = int(q)
		}
	case json.Number:
		if n, err := q.Int64(); err == nil {
			d.Quantity = int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(q)); err == nil {
			d.Quantity = n
		}
	}
	return d
}
