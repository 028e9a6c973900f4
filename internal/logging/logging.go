// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	JSON       bool // raw JSON on stderr instead of the console writer
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	// Console writer
	if cfg.Console {
		if cfg.JSON {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, consoleWriter(os.Stderr))
		}
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Logger()
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			if ll, ok := i.(string); ok {
				switch ll {
				case "debug":
					return "\033[36mDBG\033[0m"
				case "info":
					return "\033[32mINF\033[0m"
				case "warn":
					return "\033[33mWRN\033[0m"
				case "error":
					return "\033[31mERR\033[0m"
				default:
					return ll
				}
			}
			return "???"
		},
	}
}

// ParseLevel maps a config level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithComponent tags the logger with the owning loop or server.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithSeq adds an action log sequence number to the logger context.
func WithSeq(logger zerolog.Logger, seq int64) zerolog.Logger {
	return logger.With().Int64("seq", seq).Logger()
}

// WithPending adds a pending confirmation id to the logger context.
func WithPending(logger zerolog.Logger, id string) zerolog.Logger {
	return logger.With().Str("pending_id", id).Logger()
}

// LogTrade logs an executed trade.
func LogTrade(logger zerolog.Logger, tool, symbol string, qty int, price, amount string) {
	logger.Info().
		Str("event", "trade").
		Str("tool", tool).
		Str("symbol", symbol).
		Int("quantity", qty).
		Str("price", price).
		Str("amount", amount).
		Msg("Trade executed")
}

// LogRejection logs a trade the ledger refused.
func LogRejection(logger zerolog.Logger, tool, symbol string, qty int, err error) {
	logger.Info().
		Str("event", "trade_rejected").
		Str("tool", tool).
		Str("symbol", symbol).
		Int("quantity", qty).
		Err(err).
		Msg("Trade rejected")
}

// LogDecision logs a reasoner decision.
func LogDecision(logger zerolog.Logger, tool, symbol string, qty int, message string) {
	logger.Info().
		Str("event", "decision").
		Str("tool", tool).
		Str("symbol", symbol).
		Int("quantity", qty).
		Str("message", message).
		Msg("Reasoner decision")
}

// LogTransition logs a critic state change.
func LogTransition(logger zerolog.Logger, from, to string, seq int64) {
	logger.Info().
		Str("event", "transition").
		Str("from", from).
		Str("state", to).
		Int64("seq", seq).
		Msg("Critic state changed")
}
