package bus

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

// RedisBus stores messages in a Redis list so several processes can share
// one chat. IDs come from an INCR counter that is bumped in the same script
// as the push, so list order is id order.
type RedisBus struct {
	client *redis.Client
	key    string
	maxLen int64
	now    func() time.Time
}

// RedisBusConfig holds configuration for the Redis bus.
type RedisBusConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	MaxLen   int64 // 0 keeps everything
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Key == "" {
		cfg.Key = "guardian:chat"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewTransportError("bus", err)
	}
	return &RedisBus{client: client, key: cfg.Key, maxLen: cfg.MaxLen, now: time.Now}, nil
}

// postScript assigns the next id and appends the message atomically.
var postScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local msg = cjson.decode(ARGV[1])
msg['id'] = id
redis.call('RPUSH', KEYS[2], cjson.encode(msg))
local maxLen = tonumber(ARGV[2])
if maxLen > 0 then
  redis.call('LTRIM', KEYS[2], -maxLen, -1)
end
return id
`)

func (r *RedisBus) listKey() string { return r.key + ":messages" }
func (r *RedisBus) seqKey() string  { return r.key + ":seq" }

// Post appends msg.
func (r *RedisBus) Post(ctx context.Context, msg models.Message) (models.Message, error) {
	msg, err := normalize(msg, r.now())
	if err != nil {
		return msg, err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return msg, errors.Wrap(err, "failed to encode message")
	}

	id, err := postScript.Run(ctx, r.client, []string{r.seqKey(), r.listKey()}, string(data), r.maxLen).Int64()
	if err != nil {
		return msg, errors.NewTransportError("bus", err)
	}
	msg.ID = id
	return msg, nil
}

// Messages returns the retained history, oldest first.
func (r *RedisBus) Messages(ctx context.Context) ([]models.Message, error) {
	raw, err := r.client.LRange(ctx, r.listKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.NewTransportError("bus", err)
	}

	messages := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	sortByID(messages)
	return messages, nil
}

// Reset drops the history but keeps the id counter.
func (r *RedisBus) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.listKey()).Err(); err != nil {
		return errors.NewTransportError("bus", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisBus) Close() error {
	return r.client.Close()
}

func sortByID(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
}

var (
	_ MessageBus = (*RedisBus)(nil)
	_ Resetter   = (*RedisBus)(nil)
)
