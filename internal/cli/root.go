// Package cli provides the command-line interface for the trading application.
package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"guardian-trader/internal/config"
	"guardian-trader/internal/logging"
	"guardian-trader/internal/metrics"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-18"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Recorder

	closers []func() error
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "guardian",
		Short: "Guardian Trader - chat-driven paper trading with an AI safety net",
		Long: `Guardian Trader runs a simulated brokerage driven by a group chat.

An actor turns chat messages into trades on a simulated exchange. A critic
reviews every trade against the conversation and, when one looks like a
misunderstanding, asks the chat whether to reverse it.

Use 'guardian run' to start the chatroom, actor and critic together.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/guardian-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addServiceCommands(rootCmd, app)
	addLedgerCommands(rootCmd, app)
	addChatCommands(rootCmd, app)

	return rootCmd
}

func (app *App) init(cmd *cobra.Command) error {
	app.ConfigDir, _ = cmd.Flags().GetString("config")
	cfg, err := config.Load(app.ConfigDir)
	if err != nil {
		return err
	}
	app.Config = cfg

	jsonMode, _ := cmd.Flags().GetBool("json")
	app.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    true,
		JSON:       cfg.Logging.JSON || jsonMode,
		File:       cfg.Logging.File,
		FilePath:   cfg.Resolve(cfg.Logging.Path),
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})

	// Handle debug flag
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		app.Logger = app.Logger.Level(zerolog.DebugLevel)
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.New(app.Registry)
	}

	app.Logger.Debug().Str("config_dir", cfg.Dir).Msg("Configuration loaded")
	return nil
}

// onClose registers fn to run when the command finishes.
func (app *App) onClose(fn func() error) {
	app.closers = append(app.closers, fn)
}

// Close releases everything opened for the command, newest first.
func (app *App) Close() error {
	var first error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	app.closers = nil
	return first
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Guardian Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.Path(app.ConfigDir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg safe to print.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Credentials.OpenAI.APIKey = mask(out.Credentials.OpenAI.APIKey)
	out.Credentials.Finnhub.APIKey = mask(out.Credentials.Finnhub.APIKey)
	out.Bus.RedisPassword = mask(out.Bus.RedisPassword)
	out.Chatroom.ResetPassword = mask(out.Chatroom.ResetPassword)
	return out
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Ledger")
	output.Printf("  Backend:         %s\n", cfg.Ledger.Backend)
	if !cfg.IsPaperMode() {
		output.Printf("  Path:            %s\n", cfg.Resolve(cfg.Ledger.Path))
	}
	output.Printf("  Initial Balance: %.2f\n", cfg.Ledger.InitialBalance)
	output.Printf("  Volatility:      %.1f%%\n", cfg.Ledger.Volatility*100)
	output.Println()

	output.Bold("Message Bus")
	output.Printf("  Backend:         %s\n", cfg.Bus.Backend)
	switch cfg.Bus.Backend {
	case "http":
		output.Printf("  URL:             %s\n", cfg.Bus.URL)
	case "redis":
		output.Printf("  Redis:           %s/%d key %s\n", cfg.Bus.RedisAddr, cfg.Bus.RedisDB, cfg.Bus.RedisKey)
	default:
		output.Printf("  History:         %s\n", cfg.Resolve(cfg.Bus.Path))
	}
	output.Printf("  Chatroom:        %s:%d\n", cfg.Chatroom.Host, cfg.Chatroom.Port)
	output.Println()

	output.Bold("Actor")
	output.Printf("  Identity:        %s\n", cfg.Actor.Identity)
	output.Printf("  Poll Interval:   %s\n", cfg.Actor.PollInterval)
	output.Printf("  History Limit:   %d\n", cfg.Actor.HistoryLimit)
	output.Printf("  Action Log:      %s (last %d)\n", cfg.Resolve(cfg.ActionLog.Path), cfg.ActionLog.Capacity)
	output.Println()

	output.Bold("Critic")
	output.Printf("  Identity:        %s\n", cfg.Critic.Identity)
	output.Printf("  Poll Interval:   %s\n", cfg.Critic.PollInterval)
	output.Printf("  Reply Timeout:   %s\n", cfg.Critic.ResponseTimeout)
	output.Printf("  Context:         %d messages\n", cfg.Critic.ContextSize)
	output.Println()

	output.Bold("Reasoner")
	output.Printf("  Model:           %s\n", cfg.Reasoner.Model)
	if cfg.Reasoner.BaseURL != "" {
		output.Printf("  Endpoint:        %s\n", cfg.Reasoner.BaseURL)
	}
	output.Printf("  Tool Calling:    %v\n", cfg.Reasoner.UseTools)
	output.Printf("  API Key:         %v\n", cfg.Credentials.OpenAI.APIKey != "")
	output.Println()

	output.Bold("Observability")
	output.Printf("  Log Level:       %s\n", cfg.Logging.Level)
	output.Printf("  Audit:           %v\n", cfg.Audit.Enabled)
	output.Printf("  Metrics:         %v\n", cfg.Metrics.Enabled)
	output.Printf("  Live Quotes:     %v\n", cfg.Market.Enabled)

	return nil
}
