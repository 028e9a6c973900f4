package bus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

// MemoryBus keeps messages in memory and, when a path is set, mirrors them
// to a JSON file so the chat survives a restart.
type MemoryBus struct {
	path     string
	messages []models.Message
	nextID   int64
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMemoryBus creates a bus. With an empty path nothing is persisted.
func NewMemoryBus(path string) (*MemoryBus, error) {
	b := &MemoryBus{path: path, nextID: 1, now: time.Now}
	if path == "" {
		return b, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read message history %s", path)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &b.messages); err != nil {
			return nil, errors.Wrapf(err, "failed to parse message history %s", path)
		}
	}
	for i := range b.messages {
		// Records written before ids existed are numbered in file order.
		if b.messages[i].ID < b.nextID {
			b.messages[i].ID = b.nextID
		}
		b.nextID = b.messages[i].ID + 1
	}
	return b, nil
}

// Post appends msg.
func (b *MemoryBus) Post(ctx context.Context, msg models.Message) (models.Message, error) {
	msg, err := normalize(msg, b.now())
	if err != nil {
		return msg, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msg.ID = b.nextID
	b.messages = append(b.messages, msg)
	if err := b.save(); err != nil {
		b.messages = b.messages[:len(b.messages)-1]
		return models.Message{}, err
	}
	b.nextID++
	return msg, nil
}

// Messages returns a copy of the history.
func (b *MemoryBus) Messages(ctx context.Context) ([]models.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Message, len(b.messages))
	copy(out, b.messages)
	return out, nil
}

// Reset clears the history. IDs keep increasing so readers holding a
// cursor never see a reused id.
func (b *MemoryBus) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = nil
	return b.save()
}

// save writes the history to disk. Caller holds the lock.
func (b *MemoryBus) save() error {
	if b.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create message history directory")
	}

	messages := b.messages
	if messages == nil {
		messages = []models.Message{}
	}
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode message history")
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write message history")
	}
	return errors.Wrap(os.Rename(tmp, b.path), "failed to replace message history")
}

var (
	_ MessageBus = (*MemoryBus)(nil)
	_ Resetter   = (*MemoryBus)(nil)
)
