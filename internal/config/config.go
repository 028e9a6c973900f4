// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"guardian-trader/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Ledger      LedgerConfig    `mapstructure:"ledger"`
	Bus         BusConfig       `mapstructure:"bus"`
	Chatroom    ChatroomConfig  `mapstructure:"chatroom"`
	ActionLog   ActionLogConfig `mapstructure:"action_log"`
	Actor       ActorConfig     `mapstructure:"actor"`
	Critic      CriticConfig    `mapstructure:"critic"`
	Reasoner    ReasonerConfig  `mapstructure:"reasoner"`
	Market      MarketConfig    `mapstructure:"market"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Audit       AuditConfig     `mapstructure:"audit"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Credentials Credentials     `mapstructure:"-"` // Loaded separately

	// Dir is the directory the configuration was loaded from. Relative
	// data paths resolve against it.
	Dir string `mapstructure:"-"`
}

// LedgerConfig holds exchange ledger configuration.
type LedgerConfig struct {
	Backend        string  `mapstructure:"backend" default:"sqlite" validate:"oneof=sqlite memory"`
	Path           string  `mapstructure:"path" default:"trading.db"`
	InitialBalance float64 `mapstructure:"initial_balance" default:"524000" validate:"gt=0"`
	Volatility     float64 `mapstructure:"volatility" default:"0.03" validate:"gte=0,lt=1"`
	RandomSeed     int64   `mapstructure:"random_seed"` // 0 seeds from the clock
}

// BusConfig holds message bus configuration.
type BusConfig struct {
	Backend       string        `mapstructure:"backend" default:"memory" validate:"oneof=memory http redis"`
	Path          string        `mapstructure:"path" default:"chat_history.json"`
	URL           string        `mapstructure:"url" default:"http://localhost:7070" validate:"required_if=Backend http"`
	Timeout       time.Duration `mapstructure:"timeout" default:"5s" validate:"gt=0"`
	Retries       int           `mapstructure:"retries" default:"2" validate:"gte=0,lte=10"`
	RedisAddr     string        `mapstructure:"redis_addr" default:"localhost:6379" validate:"required_if=Backend redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	RedisKey      string        `mapstructure:"redis_key" default:"guardian"`
	RedisMaxLen   int64         `mapstructure:"redis_max_len" default:"5000" validate:"gte=0"`
}

// ChatroomConfig holds chatroom server configuration.
type ChatroomConfig struct {
	Host          string `mapstructure:"host" default:"0.0.0.0"`
	Port          int    `mapstructure:"port" default:"7070" validate:"min=1,max=65535"`
	ResetPassword string `mapstructure:"reset_password" default:"1234"`
	LogTail       int    `mapstructure:"log_tail" default:"20" validate:"min=1"`
}

// ActionLogConfig holds action log configuration.
type ActionLogConfig struct {
	Path     string `mapstructure:"path" default:"actor_actions.json"`
	Capacity int    `mapstructure:"capacity" default:"50" validate:"min=1"`
}

// ActorConfig holds trading actor configuration.
type ActorConfig struct {
	Identity     string        `mapstructure:"identity" default:"ACTOR_AI" validate:"required"`
	PollInterval time.Duration `mapstructure:"poll_interval" default:"1s" validate:"gt=0"`
	HistoryLimit int           `mapstructure:"history_limit" default:"20" validate:"min=1"`
	PostReplies  bool          `mapstructure:"post_replies" default:"true"`
	SystemPrompt string        `mapstructure:"system_prompt"` // empty uses the built-in prompt
}

// CriticConfig holds oversight critic configuration.
type CriticConfig struct {
	Identity        string        `mapstructure:"identity" default:"GUARDIAN_AI" validate:"required"`
	PollInterval    time.Duration `mapstructure:"poll_interval" default:"2s" validate:"gt=0"`
	ResponsePoll    time.Duration `mapstructure:"response_poll" default:"1s" validate:"gt=0"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout" default:"30s" validate:"gt=0"`
	GracePeriod     time.Duration `mapstructure:"grace_period" default:"2s" validate:"gte=0"`
	ContextSize     int           `mapstructure:"context_size" default:"5" validate:"min=1"`
	Prompt          string        `mapstructure:"prompt"` // empty uses the built-in prompt
}

// ReasonerConfig holds LLM configuration.
type ReasonerConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model" default:"gpt-4o-mini" validate:"required"`
	Temperature float32       `mapstructure:"temperature" default:"0.2" validate:"gte=0,lte=2"`
	Timeout     time.Duration `mapstructure:"timeout" default:"60s" validate:"gt=0"`
	UseTools    bool          `mapstructure:"use_tools" default:"true"`

	// Consecutive failures that stop reasoner calls for BreakerCooldown
	BreakerFailures int           `mapstructure:"breaker_failures" default:"3" validate:"min=1"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" default:"30s" validate:"gt=0"`
}

// MarketConfig holds live quote configuration.
type MarketConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url" default:"https://finnhub.io/api/v1" validate:"url"`
	Timeout  time.Duration `mapstructure:"timeout" default:"5s" validate:"gt=0"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" default:"30s" validate:"gte=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" default:"info" validate:"oneof=trace debug info warn error"`
	JSON       bool   `mapstructure:"json"`
	File       bool   `mapstructure:"file" default:"true"`
	Path       string `mapstructure:"path" default:"logs/guardian.log"`
	MaxSize    int    `mapstructure:"max_size" default:"100" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" default:"7" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" default:"30" validate:"gte=0"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled" default:"true"`
	Dir        string `mapstructure:"dir" default:"audit"`
	MaxSize    int    `mapstructure:"max_size" default:"50" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" default:"30" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" default:"365" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress" default:"true"`
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" default:"true"`
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI  APIKey `mapstructure:"openai"`
	Finnhub APIKey `mapstructure:"finnhub"`
}

// APIKey holds a single API key.
type APIKey struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/guardian-trader"
	}
	return filepath.Join(home, ".config", "guardian-trader")
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from commented templates and the defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A .env next to the config, then one in the working directory.
	// Neither overrides variables already set.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := Default()
	cfg.Dir = configDir

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Path returns the main config file path inside configDir.
func Path(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplate(configDir, name+".toml", configTemplate, 0644)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Reasoner.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Reasoner.Model = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Credentials.Finnhub.APIKey = v
		cfg.Market.Enabled = true
	}
	if v := os.Getenv("GUARDIAN_BUS_URL"); v != "" {
		cfg.Bus.Backend = "http"
		cfg.Bus.URL = v
	}
	if v := os.Getenv("GUARDIAN_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}
	if v := os.Getenv("GUARDIAN_CHATROOM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Chatroom.Port = port
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrConfigInvalid, err.Error())
	}

	if c.Actor.Identity == c.Critic.Identity {
		return errors.Wrapf(errors.ErrConfigInvalid, "actor and critic identities must differ (both %q)", c.Actor.Identity)
	}
	if c.Critic.ResponsePoll > c.Critic.ResponseTimeout {
		return errors.Wrap(errors.ErrConfigInvalid, "critic response_poll must not exceed response_timeout")
	}
	if c.Market.Enabled && c.Credentials.Finnhub.APIKey == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "market quotes enabled without a Finnhub API key")
	}

	return nil
}

// Resolve returns p made absolute against the config directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// IsPaperMode returns true if the ledger lives only in memory.
func (c *Config) IsPaperMode() bool {
	return c.Ledger.Backend == "memory"
}
