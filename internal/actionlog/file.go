package actionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

// FileLog stores the log as a JSON array that is rewritten on every append.
// Writes go to a temp file in the same directory and are renamed into place
// so a concurrent reader sees either the old or the new array.
type FileLog struct {
	path     string
	capacity int
	mu       sync.Mutex
}

// NewFileLog creates a file-backed log. A non-positive capacity uses
// DefaultCapacity.
func NewFileLog(path string, capacity int) (*FileLog, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create action log directory")
	}
	return &FileLog{path: path, capacity: capacity}, nil
}

// Path returns the log file location.
func (f *FileLog) Path() string {
	return f.path
}

// Append stores entry with the next sequence number.
func (f *FileLog) Append(ctx context.Context, entry models.ActionLogEntry) (models.ActionLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return entry, err
	}

	entry.Seq = LastSeq(entries) + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Args == nil {
		entry.Args = map[string]interface{}{}
	}
	entry.Result = truncateResult(entry.Result)

	entries = trim(append(entries, entry), f.capacity)
	if err := f.write(entries); err != nil {
		return entry, err
	}
	return entry, nil
}

// Entries returns the retained entries, oldest first. A missing or empty
// file is an empty log.
func (f *FileLog) Entries(ctx context.Context) ([]models.ActionLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.read()
}

// Clear empties the log. Sequence numbers restart at 1.
func (f *FileLog) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.write([]models.ActionLogEntry{})
}

func (f *FileLog) read() ([]models.ActionLogEntry, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read action log %s", f.path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var entries []models.ActionLogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to parse action log %s", f.path)
	}
	return entries, nil
}

func (f *FileLog) write(entries []models.ActionLogEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode action log")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".actionlog-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp action log")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temp action log")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp action log")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, "failed to replace action log")
	}
	return nil
}

// Ensure FileLog implements Log interface
var _ Log = (*FileLog)(nil)
