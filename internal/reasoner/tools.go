package reasoner

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"

	"guardian-trader/internal/models"
)

// LedgerTools returns the tool definitions offered to the actor model.
func LedgerTools() []openai.Tool {
	tradeParams := json.RawMessage(`{
		"type": "object",
		"properties": {
			"symbol": {
				"type": "string",
				"description": "Ticker symbol (e.g., AAPL, TSLA, MSFT)"
			},
			"quantity": {
				"type": "integer",
				"description": "Number of shares, at least 1"
			}
		},
		"required": ["symbol", "quantity"]
	}`)
	noParams := json.RawMessage(`{"type": "object", "properties": {}}`)

	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(models.ToolBuyStock),
				Description: "Buy shares of a listed stock at the current price.",
				Parameters:  tradeParams,
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(models.ToolSellStock),
				Description: "Sell shares the portfolio currently holds at the current price.",
				Parameters:  tradeParams,
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(models.ToolListStocks),
				Description: "List every stock on the exchange with its current price.",
				Parameters:  noParams,
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(models.ToolListPortfolio),
				Description: "Show the wallet balance and the shares currently held.",
				Parameters:  noParams,
			},
		},
	}
}

func knownTool(name string) (models.Tool, bool) {
	switch t := models.Tool(name); t {
	case models.ToolBuyStock, models.ToolSellStock, models.ToolListStocks, models.ToolListPortfolio:
		return t, true
	}
	return models.ToolNone, false
}
