package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Guardian Trader Configuration
# Relative paths resolve against this directory.

[ledger]
# Ledger backend: "sqlite" (persistent) or "memory"
backend = "sqlite"
path = "trading.db"
# Starting wallet balance for a fresh ledger
initial_balance = 524000.0
# Maximum relative price move per tick (0 disables the random walk)
volatility = 0.03
# Random walk seed, 0 seeds from the clock
random_seed = 0

[bus]
# Message bus: "memory" (in-process, persisted to path), "http" (chatroom API) or "redis"
backend = "memory"
path = "chat_history.json"
url = "http://localhost:7070"
timeout = "5s"
retries = 2
redis_addr = "localhost:6379"
redis_password = ""
redis_db = 0
# Keys are <redis_key>:messages and <redis_key>:seq
redis_key = "guardian"
# Messages kept in Redis, 0 keeps everything
redis_max_len = 5000

[chatroom]
host = "0.0.0.0"
port = 7070
# Password required by POST /api/reset
reset_password = "1234"
# Entries returned by GET /api/logs
log_tail = 20

[action_log]
path = "actor_actions.json"
# Most recent entries kept
capacity = 50

[actor]
identity = "ACTOR_AI"
poll_interval = "1s"
# Conversation turns sent to the reasoner
history_limit = 20
# Announce trade results in the chat
post_replies = true

[critic]
identity = "GUARDIAN_AI"
poll_interval = "2s"
response_poll = "1s"
# How long to wait for a human reply before keeping a flagged trade
response_timeout = "30s"
# Pause between sending a reversal command and announcing it
grace_period = "2s"
# Prior chat messages given to the reasoner with each action
context_size = 5

[reasoner]
# Any OpenAI-compatible endpoint, e.g. "http://localhost:11434/v1" for Ollama.
# Empty uses api.openai.com.
base_url = ""
model = "gpt-4o-mini"
temperature = 0.2
timeout = "60s"
# Offer ledger tools through function calling; disable for endpoints without tool support
use_tools = true
# After this many consecutive failures, skip reasoner calls for breaker_cooldown
breaker_failures = 3
breaker_cooldown = "30s"

[market]
# Log live Finnhub quotes next to simulated trades (needs a Finnhub key)
enabled = false
base_url = "https://finnhub.io/api/v1"
timeout = "5s"
cache_ttl = "30s"

[logging]
# Level: trace, debug, info, warn, error
level = "info"
# Raw JSON on stderr instead of the console format
json = false
file = true
path = "logs/guardian.log"
max_size = 100
max_backups = 7
max_age = 30

[audit]
enabled = true
dir = "audit"
max_size = 50
max_backups = 30
max_age = 365
compress = true

[metrics]
# Serve Prometheus metrics on the chatroom's /metrics
enabled = true
`

const credentialsTemplate = `# Guardian Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.
# OPENAI_API_KEY and FINNHUB_API_KEY override these values.

[openai]
api_key = ""

[finnhub]
api_key = ""
`

// createTemplate writes a commented template unless the file exists.
func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if os.IsExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}
