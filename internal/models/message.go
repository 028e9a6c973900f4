package models

import (
	"encoding/json"
	"time"
)

// SenderKind tags who wrote a chat message. It is set when the message is
// written, never inferred from the display name.
type SenderKind string

const (
	SenderHuman     SenderKind = "human"
	SenderOversight SenderKind = "oversight"
	SenderSystem    SenderKind = "system"
)

// Valid reports whether k is a known sender kind.
func (k SenderKind) Valid() bool {
	switch k {
	case SenderHuman, SenderOversight, SenderSystem:
		return true
	}
	return false
}

// TimestampLayout is the wire format of message timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Message is one chat record on the message bus.
// ID is assigned by the bus and strictly increases.
type Message struct {
	ID        int64
	User      string
	Text      string
	Sender    SenderKind
	Timestamp time.Time
}

type messageJSON struct {
	ID        int64      `json:"id"`
	User      string     `json:"user"`
	Text      string     `json:"text"`
	Sender    SenderKind `json:"sender,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// MarshalJSON encodes the message in the chatroom wire format.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:        m.ID,
		User:      m.User,
		Text:      m.Text,
		Sender:    m.Sender,
		Timestamp: m.Timestamp.Format(TimestampLayout),
	})
}

// UnmarshalJSON decodes the chatroom wire format. A missing sender means
// the record came from a human client.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.User = raw.User
	m.Text = raw.Text
	m.Sender = raw.Sender
	if m.Sender == "" {
		m.Sender = SenderHuman
	}
	m.Timestamp = time.Time{}
	if raw.Timestamp != "" {
		if ts, err := time.ParseInLocation(TimestampLayout, raw.Timestamp, time.Local); err == nil {
			m.Timestamp = ts
		} else if ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			m.Timestamp = ts
		}
	}
	return nil
}
