// Package bus provides the shared chat channel that humans, the actor and
// the critic read from and write to.
package bus

import (
	"context"
	"strings"
	"time"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

// MessageBus appends and reads chat records. IDs are assigned by the bus
// and strictly increase.
type MessageBus interface {
	// Post appends msg and returns it with its assigned ID and timestamp.
	Post(ctx context.Context, msg models.Message) (models.Message, error)
	// Messages returns the full retained history, oldest first.
	Messages(ctx context.Context) ([]models.Message, error)
}

// Resetter is implemented by buses whose history can be cleared.
type Resetter interface {
	Reset(ctx context.Context) error
}

// DefaultUser is the author of messages posted without a name.
const DefaultUser = "Anonymous"

// normalize fills defaults and rejects empty messages before storage.
func normalize(msg models.Message, now time.Time) (models.Message, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return msg, errors.ErrEmptyMessage
	}
	msg.User = strings.TrimSpace(msg.User)
	if msg.User == "" {
		msg.User = DefaultUser
	}
	if msg.Sender == "" {
		msg.Sender = models.SenderHuman
	}
	if !msg.Sender.Valid() {
		return msg, errors.Wrapf(errors.ErrUnknownSender, "sender %q", msg.Sender)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	// Wire format has second resolution.
	msg.Timestamp = msg.Timestamp.Truncate(time.Second)
	return msg, nil
}

// Since returns the messages with ID greater than afterID.
func Since(messages []models.Message, afterID int64) []models.Message {
	for i, m := range messages {
		if m.ID > afterID {
			return messages[i:]
		}
	}
	return nil
}

// LastID returns the ID of the newest message, or 0.
func LastID(messages []models.Message) int64 {
	if len(messages) == 0 {
		return 0
	}
	return messages[len(messages)-1].ID
}

// Tail returns the ID of the newest message on b.
func Tail(ctx context.Context, b MessageBus) (int64, error) {
	messages, err := b.Messages(ctx)
	if err != nil {
		return 0, err
	}
	return LastID(messages), nil
}
