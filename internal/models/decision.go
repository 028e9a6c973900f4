package models

import "time"

// Tool names a ledger operation the actor can invoke.
type Tool string

const (
	ToolNone          Tool = ""
	ToolBuyStock      Tool = "buy_stock"
	ToolSellStock     Tool = "sell_stock"
	ToolListStocks    Tool = "list_stocks"
	ToolListPortfolio Tool = "list_portfolio"
)

// ReadOnly reports whether the tool only inspects the ledger.
func (t Tool) ReadOnly() bool {
	return t == ToolListStocks || t == ToolListPortfolio
}

// Trades reports whether the tool moves money or shares.
func (t Tool) Trades() bool {
	return t == ToolBuyStock || t == ToolSellStock
}

// Inverse returns the compensating trade tool.
func (t Tool) Inverse() Tool {
	switch t {
	case ToolBuyStock:
		return ToolSellStock
	case ToolSellStock:
		return ToolBuyStock
	default:
		return ToolNone
	}
}

// Decision is what the reasoner asked the actor to do.
// Tool is ToolNone when no action is required; Symbol and Quantity
// are only meaningful for buy_stock and sell_stock.
type Decision struct {
	Tool     Tool
	Symbol   string
	Quantity int
}

// NoAction is the empty decision.
var NoAction = Decision{}

// IsNone reports whether the decision asks for nothing.
func (d Decision) IsNone() bool {
	return d.Tool == ToolNone
}

// Args returns the tool arguments as recorded in the action log.
func (d Decision) Args() map[string]interface{} {
	if !d.Tool.Trades() {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"symbol":   d.Symbol,
		"quantity": d.Quantity,
	}
}

// TradeArgs are the validated arguments of a buy or sell.
type TradeArgs struct {
	Symbol   string `json:"symbol" validate:"required,min=1,max=10,alphanum"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// Severity grades an anomaly.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyVerdict is the critic reasoner's judgement of one action.
// Severity is set only when IsAnomaly is true.
type AnomalyVerdict struct {
	IsAnomaly      bool     `json:"is_anomaly"`
	Severity       Severity `json:"severity,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Safe is the verdict for a legitimate action.
var Safe = AnomalyVerdict{}

// PendingConfirmation is an unresolved anomaly awaiting a human response.
type PendingConfirmation struct {
	ID            string
	Action        Decision
	Message       string
	Rectification string
	Verdict       AnomalyVerdict
	WarningID     int64
	CreatedAt     time.Time
}
