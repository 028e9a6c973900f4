package actionlog

import "guardian-trader/internal/models"

// Cursor remembers the last sequence number a reader has processed.
// It is not safe for concurrent use; each reader owns one.
type Cursor struct {
	last int64
}

// NewCursor creates a cursor positioned after seq.
func NewCursor(seq int64) *Cursor {
	return &Cursor{last: seq}
}

// Position returns the last processed sequence number.
func (c *Cursor) Position() int64 {
	return c.last
}

// Advance marks seq as processed.
func (c *Cursor) Advance(seq int64) {
	c.last = seq
}

// Unseen returns the entries after the cursor, oldest first, and the number
// of entries that were discarded from the log before the reader saw them.
//
// If the newest entry is older than the cursor the log was cleared and the
// whole retained window is returned.
func (c *Cursor) Unseen(entries []models.ActionLogEntry) (unseen []models.ActionLogEntry, missed int64) {
	if len(entries) == 0 {
		return nil, 0
	}

	oldest := entries[0].Seq
	newest := entries[len(entries)-1].Seq

	switch {
	case newest < c.last:
		return entries, 0
	case oldest > c.last+1:
		return entries, oldest - c.last - 1
	}

	for i, e := range entries {
		if e.Seq > c.last {
			return entries[i:], 0
		}
	}
	return nil, 0
}
