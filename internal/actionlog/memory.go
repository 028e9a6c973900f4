package actionlog

import (
	"context"
	"sync"
	"time"

	"guardian-trader/internal/models"
)

// MemoryLog keeps the log in process memory.
type MemoryLog struct {
	capacity int
	entries  []models.ActionLogEntry
	nextSeq  int64
	mu       sync.RWMutex
}

// NewMemoryLog creates an in-memory log. A non-positive capacity uses
// DefaultCapacity.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryLog{capacity: capacity, nextSeq: 1}
}

// Append stores entry with the next sequence number.
func (m *MemoryLog) Append(ctx context.Context, entry models.ActionLogEntry) (models.ActionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Seq = m.nextSeq
	m.nextSeq++
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Args == nil {
		entry.Args = map[string]interface{}{}
	}
	entry.Result = truncateResult(entry.Result)

	m.entries = trim(append(m.entries, entry), m.capacity)
	return entry, nil
}

// Entries returns a copy of the retained entries, oldest first.
func (m *MemoryLog) Entries(ctx context.Context) ([]models.ActionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ActionLogEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Clear empties the log. Sequence numbers restart at 1.
func (m *MemoryLog) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.nextSeq = 1
	return nil
}

// Ensure MemoryLog implements Log interface
var _ Log = (*MemoryLog)(nil)
