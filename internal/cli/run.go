package cli

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"guardian-trader/internal/actionlog"
	"guardian-trader/internal/actor"
	"guardian-trader/internal/audit"
	"guardian-trader/internal/bus"
	"guardian-trader/internal/chatroom"
	"guardian-trader/internal/critic"
	"guardian-trader/internal/ledger"
)

// addServiceCommands adds the long-running loops.
func addServiceCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newChatroomCmd(app))
	rootCmd.AddCommand(newActorCmd(app))
	rootCmd.AddCommand(newCriticCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the chatroom, actor and critic together",
		Long: `Run the chatroom server, the trading actor and the oversight critic in one
process. All three share the message bus, the ledger and the action log.
Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			l, err := app.openLedger(ctx)
			if err != nil {
				return err
			}
			b, err := app.openBus(ctx, busHost)
			if err != nil {
				return err
			}
			log, err := app.openLog()
			if err != nil {
				return err
			}
			auditor, err := app.newAudit("guardian")
			if err != nil {
				return err
			}

			a, err := app.newActor(l, b, log, auditor)
			if err != nil {
				return err
			}
			c, err := app.newCritic(b, log, auditor)
			if err != nil {
				return err
			}
			srv := app.newChatroom(b, l, log, auditor)

			app.Logger.Info().
				Str("chatroom", srv.Addr()).
				Str("ledger", app.Config.Ledger.Backend).
				Str("bus", app.Config.Bus.Backend).
				Msg("Starting guardian")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error { return a.Run(gctx) })
			g.Go(func() error { return c.Run(gctx) })
			return g.Wait()
		},
	}
}

func newChatroomCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatroom",
		Short: "Run the chatroom server",
		Long: `Serve the chat API, portfolio, action log tail and metrics over HTTP.
Run the actor and critic against it with 'guardian actor' and 'guardian critic'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if port, _ := cmd.Flags().GetInt("port"); port != 0 {
				app.Config.Chatroom.Port = port
			}

			// The portfolio endpoint is optional; the chatroom still serves
			// chat when the ledger cannot be opened.
			l, err := app.openLedger(ctx)
			if err != nil {
				app.Logger.Warn().Err(err).Msg("Ledger unavailable, portfolio endpoint disabled")
			}
			b, err := app.openBus(ctx, busHost)
			if err != nil {
				return err
			}
			log, err := app.openLog()
			if err != nil {
				return err
			}
			auditor, err := app.newAudit("chatroom")
			if err != nil {
				return err
			}

			return app.newChatroom(b, l, log, auditor).Run(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "listen port (overrides config)")
	return cmd
}

func newActorCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "actor",
		Short: "Run the trading actor",
		Long: `Read new chat messages from the bus and turn them into ledger operations.
With the memory bus the actor talks to a running chatroom over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			l, err := app.openLedger(ctx)
			if err != nil {
				return err
			}
			b, err := app.openBus(ctx, busClient)
			if err != nil {
				return err
			}
			log, err := app.openLog()
			if err != nil {
				return err
			}
			auditor, err := app.newAudit("actor")
			if err != nil {
				return err
			}

			a, err := app.newActor(l, b, log, auditor)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newCriticCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "critic",
		Short: "Run the oversight critic",
		Long: `Watch the actor's action log, flag trades that contradict the conversation
and ask the chat whether to reverse them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			b, err := app.openBus(ctx, busClient)
			if err != nil {
				return err
			}
			log, err := app.openLog()
			if err != nil {
				return err
			}
			auditor, err := app.newAudit("critic")
			if err != nil {
				return err
			}

			c, err := app.newCritic(b, log, auditor)
			if err != nil {
				return err
			}
			return c.Run(ctx)
		},
	}
}

func (app *App) newActor(l ledger.Ledger, b bus.MessageBus, log actionlog.Log, auditor *audit.Logger) (*actor.Actor, error) {
	r, err := app.newReasoner("actor")
	if err != nil {
		return nil, err
	}
	cfg := app.Config.Actor
	return actor.New(actor.Config{
		Identity:     cfg.Identity,
		PollInterval: cfg.PollInterval,
		HistoryLimit: cfg.HistoryLimit,
		SystemPrompt: cfg.SystemPrompt,
		PostReplies:  cfg.PostReplies,
	}, actor.Deps{
		Ledger:   l,
		Bus:      b,
		Log:      log,
		Reasoner: r,
		Quotes:   app.newQuotes(),
		Metrics:  app.Metrics,
		Audit:    auditor,
		Logger:   app.Logger,
	}), nil
}

func (app *App) newCritic(b bus.MessageBus, log actionlog.Log, auditor *audit.Logger) (*critic.Critic, error) {
	r, err := app.newReasoner("critic")
	if err != nil {
		return nil, err
	}
	cfg := app.Config.Critic
	return critic.New(critic.Config{
		Identity:        cfg.Identity,
		Prompt:          cfg.Prompt,
		PollInterval:    cfg.PollInterval,
		ResponsePoll:    cfg.ResponsePoll,
		ResponseTimeout: cfg.ResponseTimeout,
		GracePeriod:     cfg.GracePeriod,
		ContextSize:     cfg.ContextSize,
	}, critic.Deps{
		Bus:      b,
		Log:      log,
		Reasoner: r,
		Metrics:  app.Metrics,
		Audit:    auditor,
		Logger:   app.Logger,
	}), nil
}

func (app *App) newChatroom(b bus.MessageBus, l ledger.Ledger, log actionlog.Log, auditor *audit.Logger) *chatroom.Server {
	cfg := app.Config.Chatroom
	deps := chatroom.Deps{
		Bus:     b,
		Log:     log,
		Metrics: app.Metrics,
		Audit:   auditor,
		Logger:  app.Logger,
	}
	if l != nil {
		deps.Ledger = l
	}
	if app.Config.Metrics.Enabled {
		deps.Gatherer = app.Registry
	}
	return chatroom.New(chatroom.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		ResetPassword: cfg.ResetPassword,
		LogTail:       cfg.LogTail,
	}, deps)
}
