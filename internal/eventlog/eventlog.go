// Package eventlog keeps a short, human-readable history of dispatcher events
// for dashboards. Newest entries come first and the log is capped.
package eventlog

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the number of entries retained.
const DefaultCapacity = 50

// Log is a bounded, newest-first list of formatted events.
type Log struct {
	mu       sync.RWMutex
	entries  []string
	capacity int
	now      func() time.Time
}

// New creates a log keeping at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]string, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Record prepends "[HH:MM:SS] message", dropping the oldest entry when full.
func (l *Log) Record(message string) {
	ts := l.now().Format("15:04:05")
	entry := fmt.Sprintf("[%s] %s", ts, message)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == l.capacity {
		l.entries = l.entries[:l.capacity-1]
	}
	l.entries = append(l.entries, "")
	copy(l.entries[1:], l.entries)
	l.entries[0] = entry
}

// Recordf is Record with formatting.
func (l *Log) Recordf(format string, args ...any) {
	l.Record(fmt.Sprintf(format, args...))
}

// Entries returns a copy, newest first.
func (l *Log) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
