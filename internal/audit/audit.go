// Package audit writes an append-only JSONL trail of trades, anomaly flags
// and their resolutions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Actor events
	EventTradeExecuted   EventType = "TRADE_EXECUTED"
	EventTradeRejected   EventType = "TRADE_REJECTED"
	EventCommandRejected EventType = "COMMAND_REJECTED"

	// Critic events
	EventAnomalyFlagged EventType = "ANOMALY_FLAGGED"
	EventResolution     EventType = "RESOLUTION"

	// Administrative events
	EventLedgerReset EventType = "LEDGER_RESET"
	EventChatReset   EventType = "CHAT_RESET"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Component string                 `json:"component,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Action    string                 `json:"action,omitempty"`
	PendingID string                 `json:"pending_id,omitempty"`
	Seq       int64                  `json:"seq,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	SessionID string                 `json:"session_id"`
}

// Logger appends audit events to a rotating file. A nil *Logger discards
// every event.
type Logger struct {
	writer    *lumberjack.Logger
	mu        sync.Mutex
	sessionID string
	component string
}

// Config holds audit logger configuration.
type Config struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		LogDir:     filepath.Join(home, ".config", "guardian-trader", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewLogger creates an audit logger writing to audit.log in cfg.LogDir.
func NewLogger(cfg Config, component string) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return &Logger{
		writer: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "audit.log"),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		},
		sessionID: uuid.NewString(),
		component: component,
	}, nil
}

// SessionID returns the id stamped on every event from this process.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Log writes event as one JSON line.
func (l *Logger) Log(ctx context.Context, event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = time.Now().UTC()
	event.SessionID = l.sessionID
	if event.Component == "" {
		event.Component = l.component
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// LogTrade records a trade the ledger executed or rejected.
func (l *Logger) LogTrade(ctx context.Context, seq int64, tool, symbol string, qty int, result string, tradeErr error) error {
	event := Event{
		EventType: EventTradeExecuted,
		Symbol:    symbol,
		Action:    tool,
		Seq:       seq,
		Success:   tradeErr == nil,
		Details: map[string]interface{}{
			"quantity": qty,
			"result":   result,
		},
	}
	if tradeErr != nil {
		event.EventType = EventTradeRejected
		event.ErrorMsg = tradeErr.Error()
	}
	return l.Log(ctx, event)
}

// LogCommandRejected records a prefixed command that did not parse.
func (l *Logger) LogCommandRejected(ctx context.Context, input string, err error) error {
	return l.Log(ctx, Event{
		EventType: EventCommandRejected,
		Success:   false,
		ErrorMsg:  err.Error(),
		Details:   map[string]interface{}{"input": input},
	})
}

// LogAnomaly records a flagged action.
func (l *Logger) LogAnomaly(ctx context.Context, pendingID string, seq int64, tool, symbol string, qty int, severity, reason, rectification string) error {
	return l.Log(ctx, Event{
		EventType: EventAnomalyFlagged,
		PendingID: pendingID,
		Seq:       seq,
		Symbol:    symbol,
		Action:    tool,
		Success:   true,
		Details: map[string]interface{}{
			"quantity":      qty,
			"severity":      severity,
			"reason":        reason,
			"rectification": rectification,
		},
	})
}

// LogResolution records how a pending confirmation ended.
func (l *Logger) LogResolution(ctx context.Context, pendingID, outcome string, details map[string]interface{}) error {
	return l.Log(ctx, Event{
		EventType: EventResolution,
		PendingID: pendingID,
		Action:    outcome,
		Success:   true,
		Details:   details,
	})
}

// LogReset records an administrative reset. err is nil on success.
func (l *Logger) LogReset(ctx context.Context, kind EventType, err error) error {
	event := Event{EventType: kind, Success: err == nil}
	if err != nil {
		event.ErrorMsg = err.Error()
	}
	return l.Log(ctx, event)
}

// Close closes the audit logger.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.writer.Close()
}
