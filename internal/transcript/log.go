// Package transcript maintains the rolling conversation transcript: the
// recent exchanges between the user and the service, for display and for
// attaching context to feedback reports.
package transcript

import (
	"sync"
	"time"
)

// Entry is a single completed exchange stored in the [Log].
type Entry struct {
	// Transcript is what the service heard the user say.
	Transcript string

	// Reply is the service's textual reply.
	Reply string

	// Timestamp records when the exchange completed.
	Timestamp time.Time
}

// Log keeps a bounded window of recent exchanges. It enforces both a maximum
// entry count and a maximum age; entries that exceed either limit are
// evicted automatically on every [Add] call.
//
// All methods are safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// Option is a functional option for configuring the Log.
type Option func(*Log)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates a transcript log that retains at most maxSize entries and
// evicts entries older than maxAge.
func NewLog(maxSize int, maxAge time.Duration, opts ...Option) *Log {
	l := &Log{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Add appends an exchange and evicts entries that exceed the configured
// maximum size or age. A zero Timestamp is filled with the current time.
func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	l.entries = append(l.entries, e)
	l.evict()
}

// Recent returns up to maxEntries entries within the configured age window,
// in chronological order (oldest first).
func (l *Log) Recent(maxEntries int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := l.now().Add(-l.maxAge)
	result := make([]Entry, 0, maxEntries)

	for i := len(l.entries) - 1; i >= 0 && len(result) < maxEntries; i-- {
		e := l.entries[i]
		if e.Timestamp.Before(cutoff) {
			continue
		}
		result = append(result, e)
	}

	// Reverse to chronological order.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Entries returns all current entries in chronological order. Intended for
// testing and debugging.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// evict removes entries that are too old or exceed maxSize.
// Must be called with l.mu held.
//
// Surviving entries are copied to a fresh backing array to prevent the old
// (evicted) entries from pinning memory for the lifetime of the session.
func (l *Log) evict() {
	cutoff := l.now().Add(-l.maxAge)

	// Evict by age — find the first entry that is not expired.
	start := 0
	for start < len(l.entries) && l.entries[start].Timestamp.Before(cutoff) {
		start++
	}

	keep := l.entries[start:]

	// Evict by size — keep only the most recent maxSize entries.
	if len(keep) > l.maxSize {
		keep = keep[len(keep)-l.maxSize:]
	}

	if start > 0 || len(keep) < len(l.entries) {
		fresh := make([]Entry, len(keep), l.maxSize)
		copy(fresh, keep)
		l.entries = fresh
	}
}
