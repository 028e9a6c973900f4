// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrUnknownSymbol        = errors.New("unknown symbol")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrReasonerMalformed    = errors.New("reasoner returned malformed output")
	ErrRectificationParse   = errors.New("rectification command did not parse")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrResetForbidden       = errors.New("reset password mismatch")
	ErrEmptyMessage         = errors.New("message text is required")
	ErrUnknownSender        = errors.New("unknown sender")
)

// LedgerError represents a rejected ledger operation. The ledger is left
// untouched whenever one is returned.
type LedgerError struct {
	Op       string
	Symbol   string
	Quantity int
	Reason   string
	Err      error
}

func (e *LedgerError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s x%d: %v: %s", e.Op, e.Symbol, e.Quantity, e.Err, e.Reason)
	}
	return fmt.Sprintf("%s %s x%d: %v", e.Op, e.Symbol, e.Quantity, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new LedgerError.
func NewLedgerError(op, symbol string, qty int, err error, reason string) *LedgerError {
	return &LedgerError{
		Op:       op,
		Symbol:   symbol,
		Quantity: qty,
		Reason:   reason,
		Err:      err,
	}
}

// IsLedgerRejection reports whether err is a normal trading outcome
// (unknown symbol, funds, shares, quantity) rather than an infrastructure failure.
func IsLedgerRejection(err error) bool {
	return errors.Is(err, ErrUnknownSymbol) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrInvalidQuantity)
}

// ParseError represents a command that does not match the actor's grammar.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %q: %s", ErrRectificationParse, e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrRectificationParse
}

// NewParseError creates a new ParseError.
func NewParseError(input, reason string) *ParseError {
	return &ParseError{Input: input, Reason: reason}
}

// TransportError represents an unreachable bus, ledger or reasoner endpoint.
type TransportError struct {
	Component string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransportUnavailable, e.Err}
}

// NewTransportError creates a new TransportError.
func NewTransportError(component string, err error) *TransportError {
	return &TransportError{Component: component, Err: err}
}

// AgentError represents an error from an AI reasoner call.
type AgentError struct {
	AgentName string
	Operation string
	Err       error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error [%s] %s: %v", e.AgentName, e.Operation, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// NewAgentError creates a new AgentError.
func NewAgentError(agentName, operation string, err error) *AgentError {
	return &AgentError{
		AgentName: agentName,
		Operation: operation,
		Err:       err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
