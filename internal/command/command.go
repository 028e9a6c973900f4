// Package command implements the constrained grammar of direct actor
// commands: "@ACTOR_AI (buy|buy back|sell) <quantity> <symbol> [anything]".
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

// Prefix marks a message as a direct command to the actor.
const Prefix = "@ACTOR_AI"

var pattern = regexp.MustCompile(`(?i)^\s*@ACTOR_AI\s+(buy\s+back|buy|sell)\s+(\d+)\s+([A-Za-z][A-Za-z0-9.]*)`)

// HasPrefix reports whether text is addressed to the actor as a command.
// The prefix must stand alone as the first word.
func HasPrefix(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < len(Prefix) || !strings.EqualFold(t[:len(Prefix)], Prefix) {
		return false
	}
	rest := t[len(Prefix):]
	return rest == "" || unicode.IsSpace(rune(rest[0]))
}

// Parse maps a prefixed command to a buy or sell decision. Anything that
// does not match the grammar is a *errors.ParseError.
func Parse(text string) (models.Decision, error) {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return models.NoAction, errors.NewParseError(text, "expected (buy|buy back|sell) <quantity> <symbol>")
	}

	qty, err := strconv.Atoi(m[2])
	if err != nil {
		return models.NoAction, errors.NewParseError(text, "quantity out of range")
	}
	if qty <= 0 {
		return models.NoAction, errors.NewParseError(text, "quantity must be positive")
	}

	tool := models.ToolBuyStock
	if strings.EqualFold(m[1], "sell") {
		tool = models.ToolSellStock
	}
	return models.Decision{
		Tool:     tool,
		Symbol:   strings.ToUpper(m[3]),
		Quantity: qty,
	}, nil
}

// Rectification returns the command that undoes d, or "" when d is not a
// trade.
func Rectification(d models.Decision) string {
	switch d.Tool.Inverse() {
	case models.ToolSellStock:
		return fmt.Sprintf("%s sell %d %s shares immediately - false positive trade", Prefix, d.Quantity, d.Symbol)
	case models.ToolBuyStock:
		return fmt.Sprintf("%s buy back %d %s shares - accidental sale", Prefix, d.Quantity, d.Symbol)
	default:
		return ""
	}
}
