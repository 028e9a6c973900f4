// Package actionlog records every tool call the actor performs so the critic
// can review it. The log keeps only the most recent entries; readers track
// their own position by sequence number.
package actionlog

import (
	"context"

	"guardian-trader/internal/models"
)

// DefaultCapacity is the number of entries retained.
const DefaultCapacity = 50

// MaxResultLen caps the stored result text.
const MaxResultLen = 500

// Log is an append-only, size-bounded action log with a single writer.
type Log interface {
	// Append assigns the next sequence number and stores the entry.
	Append(ctx context.Context, entry models.ActionLogEntry) (models.ActionLogEntry, error)
	// Entries returns the retained entries, oldest first.
	Entries(ctx context.Context) ([]models.ActionLogEntry, error)
}

func truncateResult(s string) string {
	r := []rune(s)
	if len(r) <= MaxResultLen {
		return s
	}
	return string(r[:MaxResultLen])
}

func trim(entries []models.ActionLogEntry, capacity int) []models.ActionLogEntry {
	if len(entries) <= capacity {
		return entries
	}
	return append([]models.ActionLogEntry(nil), entries[len(entries)-capacity:]...)
}

// Tail returns the last n entries.
func Tail(entries []models.ActionLogEntry, n int) []models.ActionLogEntry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// LastSeq returns the sequence number of the newest entry, or 0.
func LastSeq(entries []models.ActionLogEntry) int64 {
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].Seq
}
