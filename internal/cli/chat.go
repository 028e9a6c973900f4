package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"guardian-trader/internal/actionlog"
	"guardian-trader/internal/bus"
	"guardian-trader/internal/models"
)

// addChatCommands adds the chat and action log commands.
func addChatCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newSayCmd(app))
	rootCmd.AddCommand(newMessagesCmd(app))
	rootCmd.AddCommand(newLogCmd(app))
}

func newSayCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "say <text>...",
		Short: "Post a message to the chat",
		Example: `  guardian say "buy 10 AAPL"
  guardian say --user alice "sell all TSLA"
  guardian say "@ACTOR_AI sell 5 NVDA shares"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			b, err := app.openBus(ctx, busClient)
			if err != nil {
				return err
			}

			user, _ := cmd.Flags().GetString("user")
			msg, err := b.Post(ctx, models.Message{
				User:   user,
				Text:   strings.Join(args, " "),
				Sender: models.SenderHuman,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(msg)
			}
			output.Success("✓ Posted #%d", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringP("user", "u", bus.DefaultUser, "display name")
	return cmd
}

func newMessagesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"chat"},
		Short:   "Show recent chat messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			b, err := app.openBus(ctx, busClient)
			if err != nil {
				return err
			}
			messages, err := b.Messages(ctx)
			if err != nil {
				return err
			}

			if since, _ := cmd.Flags().GetInt64("since"); since > 0 {
				messages = bus.Since(messages, since)
			}
			if n, _ := cmd.Flags().GetInt("limit"); n > 0 && len(messages) > n {
				messages = messages[len(messages)-n:]
			}

			if output.IsJSON() {
				return output.JSON(messages)
			}
			if len(messages) == 0 {
				output.Dim("No messages")
				return nil
			}
			for _, m := range messages {
				output.Printf("%s %s %s: %s\n",
					output.DimText(FormatTimestamp(m.Timestamp)),
					output.DimText("#"+FormatQuantity(int(m.ID))),
					output.Sender(m),
					m.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of messages to show")
	cmd.Flags().Int64("since", 0, "only messages after this id")
	return cmd
}

func newLogCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the actor's action log",
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent action log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			log, err := app.openLog()
			if err != nil {
				return err
			}
			entries, err := log.Entries(ctx)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			entries = actionlog.Tail(entries, n)

			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Dim("Action log is empty")
				return nil
			}

			table := NewTable(output, "Seq", "Time", "Tool", "Args", "Status", "Message", "Result")
			for _, e := range entries {
				table.AddRow(
					FormatQuantity(int(e.Seq)),
					FormatTimestamp(e.Timestamp),
					string(e.Tool),
					argsSummary(e),
					output.Outcome(e),
					TruncateString(e.Message, 40),
					TruncateString(e.Result, 60),
				)
			}
			table.Render()
			return nil
		},
	}
	tail.Flags().IntP("lines", "n", 20, "number of entries to show")
	cmd.AddCommand(tail)

	return cmd
}

func argsSummary(e models.ActionLogEntry) string {
	d := e.Decision()
	if !d.Tool.Trades() {
		return "-"
	}
	return FormatQuantity(d.Quantity) + " " + d.Symbol
}
