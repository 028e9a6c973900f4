package actor

import (
	"regexp"
	"strings"

	"guardian-trader/internal/models"
)

var sellAllPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(sell|dump|unload|offload|liquidate|cash\s+out)\b.*\b(all|everything|every\s+(stock|share|holding)s?|whole\s+portfolio|entire\s+portfolio)\b`),
	regexp.MustCompile(`(?i)\bliquidate\b`),
}

// IsSellAll reports whether text asks to sell every holding.
func IsSellAll(text string) bool {
	for _, p := range sellAllPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// PlanSellAll returns one full-quantity sell per holding in snapshot order.
// When text names registered symbols only those holdings are sold, and a
// named symbol that is not held contributes nothing.
func PlanSellAll(snapshot *models.Portfolio, registered []string, text string) []models.Decision {
	if snapshot == nil {
		return nil
	}

	named := namedSymbols(text, registered)
	var plan []models.Decision
	for _, h := range snapshot.Holdings {
		if len(named) > 0 && !named[h.Symbol] {
			continue
		}
		plan = append(plan, models.Decision{
			Tool:     models.ToolSellStock,
			Symbol:   h.Symbol,
			Quantity: h.Quantity,
		})
	}
	return plan
}

// namedSymbols returns the registered tickers that appear as words in text.
func namedSymbols(text string, registered []string) map[string]bool {
	known := make(map[string]bool, len(registered))
	for _, sym := range registered {
		known[strings.ToUpper(sym)] = true
	}

	named := make(map[string]bool)
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '.' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		sym := strings.ToUpper(strings.Trim(word, "."))
		if known[sym] {
			named[sym] = true
		}
	}
	return named
}
