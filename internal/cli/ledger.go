package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"guardian-trader/internal/audit"
	"guardian-trader/internal/errors"
	"guardian-trader/internal/ledger"
	"guardian-trader/internal/models"
)

// addLedgerCommands adds direct ledger access.
func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "ledger",
		Aliases: []string{"l"},
		Short:   "Inspect and trade on the simulated exchange",
		Long: `Operate on the ledger directly, bypassing the chat. Manual trades are
audited but not written to the action log, so the critic never reviews them.`,
	}

	cmd.AddCommand(newStocksCmd(app))
	cmd.AddCommand(newPortfolioCmd(app))
	cmd.AddCommand(newTradeCmd(app, models.ToolBuyStock))
	cmd.AddCommand(newTradeCmd(app, models.ToolSellStock))
	cmd.AddCommand(newLedgerResetCmd(app))

	rootCmd.AddCommand(cmd)
}

func newStocksCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stocks",
		Short: "List registered stocks at current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			l, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}

			stocks, err := l.ListStocks(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(stocks)
			}

			table := NewTable(output, "Symbol", "Name", "Price")
			for _, s := range stocks {
				table.AddRow(s.Symbol, s.Name, FormatPrice(s.Price))
			}
			table.Render()
			return nil
		},
	}
}

func newPortfolioCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "portfolio",
		Aliases: []string{"p"},
		Short:   "Show wallet balance and holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			l, err := app.openLedger(cmd.Context())
			if err != nil {
				return err
			}

			v, err := l.Valuation(cmd.Context())
			if err != nil {
				return err
			}
			if app.Metrics != nil {
				app.Metrics.SetBalance(v.Balance.InexactFloat64())
			}
			if output.IsJSON() {
				return output.JSON(v)
			}

			output.Bold("Portfolio")
			output.Printf("  Balance:         %s\n", FormatMoney(v.Balance))
			output.Printf("  Holdings Value:  %s\n", FormatMoney(v.PortfolioValue))
			output.Printf("  Total:           %s\n", FormatMoney(v.TotalValue))

			if len(v.Holdings) == 0 {
				output.Println()
				output.Dim("No holdings")
				return nil
			}

			output.Println()
			table := NewTable(output, "Symbol", "Name", "Qty", "Price", "Value")
			for _, h := range v.Holdings {
				table.AddRow(h.Symbol, h.Name, FormatQuantity(h.Quantity), FormatPrice(h.Price), FormatMoney(h.Value))
			}
			table.Render()
			return nil
		},
	}
}

func newTradeCmd(app *App, tool models.Tool) *cobra.Command {
	use, short := "buy", "Buy shares at the current price"
	if tool == models.ToolSellStock {
		use, short = "sell", "Sell shares at the current price"
	}

	return &cobra.Command{
		Use:   use + " <symbol> <quantity>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Wrapf(errors.ErrInvalidQuantity, "%q is not a whole number", args[1])
			}

			l, err := app.openLedger(ctx)
			if err != nil {
				return err
			}
			auditor, err := app.newAudit("cli")
			if err != nil {
				return err
			}

			result, err := trade(ctx, l, tool, args[0], qty)
			app.recordManualTrade(ctx, auditor, tool, args[0], qty, result, err)
			if err != nil {
				if output.IsJSON() {
					output.JSON(map[string]string{"error": err.Error()})
				} else {
					output.Error("✗ %v", err)
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			verb := "Bought"
			if result.Side == models.SideSell {
				verb = "Sold"
			}
			output.Success("✓ %s %s %s @ %s", verb, FormatQuantity(result.Quantity), result.Symbol, FormatPrice(result.Price))
			output.Printf("  Amount:      %s\n", FormatMoney(result.Amount))
			output.Printf("  New Balance: %s\n", FormatMoney(result.NewBalance))
			return nil
		},
	}
}

func trade(ctx context.Context, l ledger.Ledger, tool models.Tool, symbol string, qty int) (*models.TradeResult, error) {
	if tool == models.ToolSellStock {
		return l.Sell(ctx, symbol, qty)
	}
	return l.Buy(ctx, symbol, qty)
}

func (app *App) recordManualTrade(ctx context.Context, auditor *audit.Logger, tool models.Tool, symbol string, qty int, result *models.TradeResult, tradeErr error) {
	outcome := "ok"
	if tradeErr != nil {
		outcome = "rejected"
	}
	if app.Metrics != nil {
		app.Metrics.RecordTrade(string(tool), outcome)
	}

	summary := ""
	if result != nil {
		summary = fmt.Sprintf("%s %d %s @ %s", result.Side, result.Quantity, result.Symbol, result.Price.StringFixed(2))
	}
	if err := auditor.LogTrade(ctx, 0, string(tool), ledger.NormalizeSymbol(symbol), qty, summary, tradeErr); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to write audit event")
	}
}

func newLedgerResetCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore seed prices and the initial balance",
		Long:  "Reset the ledger to its seed state. All holdings are discarded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				output.Warning("This discards every holding and restores the initial balance.")
				output.Println("Re-run with --yes to confirm.")
				return nil
			}

			l, err := app.openLedger(ctx)
			if err != nil {
				return err
			}
			auditor, err := app.newAudit("cli")
			if err != nil {
				return err
			}

			err = l.Reset(ctx)
			if auditErr := auditor.LogReset(ctx, audit.EventLedgerReset, err); auditErr != nil {
				app.Logger.Warn().Err(auditErr).Msg("Failed to write audit event")
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]bool{"reset": true})
			}
			output.Success("✓ Ledger reset to %s", FormatMoney(decimal.NewFromFloat(app.Config.Ledger.InitialBalance)))
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm the reset")
	return cmd
}
