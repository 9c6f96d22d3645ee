// Package session implements the bounded per-client session log: a ring
// of the most recent entries, flushed atomically, used to reconstruct
// recent context for a query. Overflow drops the oldest entries silently.
package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ckoons/engram/internal/atomicfile"
	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
)

// DefaultCapacity bounds the ring when the caller passes none.
const DefaultCapacity = 200

// Log is one client's session ring buffer.
type Log struct {
	path     string
	capacity int

	mu      sync.RWMutex
	entries []model.SessionEntry
	dirty   bool
}

// snapshot is the on-disk shape of the ring.
type snapshot struct {
	Entries []model.SessionEntry `json:"entries"`
}

// Path returns the session file for a client.
func Path(dataDir, clientID string) string {
	return filepath.Join(dataDir, "sessions", clientID+".session.json")
}

// Open loads the client's session ring, trimming it to capacity. A
// capacity <= 0 uses the default.
func Open(dataDir, clientID string, capacity int) (*Log, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{path: Path(dataDir, clientID), capacity: capacity}

	var snap snapshot
	err := atomicfile.ReadJSON(l.path, &snap)
	switch {
	case err == nil:
		l.entries = snap.Entries
		if len(l.entries) > capacity {
			l.entries = append([]model.SessionEntry(nil), l.entries[len(l.entries)-capacity:]...)
		}
		return l, nil
	case errors.Is(err, os.ErrNotExist):
		return l, nil
	default:
		return nil, fault.Storage(err, "load session log %s", l.path)
	}
}

// Capacity returns the ring bound.
func (l *Log) Capacity() int { return l.capacity }

// Len returns the current entry count.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Write appends an entry, dropping the oldest when the ring is full.
func (l *Log) Write(content string, metadata model.Metadata) error {
	if content == "" {
		return fault.Invalid("session content must not be empty")
	}
	entry := model.SessionEntry{
		Content:   content,
		Metadata:  metadata.Clone(),
		Timestamp: time.Now().UTC(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = append([]model.SessionEntry(nil), l.entries[len(l.entries)-l.capacity:]...)
	}
	l.dirty = true
	l.mu.Unlock()
	return nil
}

// Load returns the most recent limit entries, newest first. Limit 0
// returns nothing; a negative limit is an error; a limit beyond the ring
// clamps.
func (l *Log) Load(limit int) ([]model.SessionEntry, error) {
	if limit < 0 {
		return nil, fault.Invalid("limit must not be negative")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]model.SessionEntry, 0, limit)
	for i := len(l.entries) - 1; i >= len(l.entries)-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// Dirty reports whether unflushed writes exist.
func (l *Log) Dirty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dirty
}

// Flush writes the ring atomically when dirty.
func (l *Log) Flush() error {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	snap := snapshot{Entries: append([]model.SessionEntry(nil), l.entries...)}
	l.mu.Unlock()

	if err := atomicfile.WriteJSON(l.path, &snap, 0o600); err != nil {
		return fault.Storage(err, "flush session log %s", l.path)
	}

	l.mu.Lock()
	l.dirty = false
	l.mu.Unlock()
	return nil
}
