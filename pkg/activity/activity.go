// Package activity is the append-only record of user, AI and system events
// shown in the dashboard.
package activity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source identifies who produced an entry.
type Source string

const (
	SourceUser   Source = "user"
	SourceAI     Source = "ai"
	SourceSystem Source = "system"
)

// Severity tags an entry.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Error   Severity = "error"
	Command Severity = "command"
	Warning Severity = "warning"
)

// Entry is an immutable log record.
type Entry struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Source   Source    `json:"source"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// Log is the activity log. Entries are kept in append order and never
// modified or removed.
type Log struct {
	mu      sync.RWMutex
	entries []Entry

	subsMu sync.RWMutex
	subs   []func(Entry)

	// deliverMu makes append-and-notify one step, so subscribers see
	// entries in append order.
	deliverMu sync.Mutex

	logger *slog.Logger
	now    func() time.Time
}

// New creates an empty log. Every entry is mirrored to logger.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		entries: make([]Entry, 0, 128),
		logger:  logger,
		now:     time.Now,
	}
}

// Append records an event and returns the stored entry.
func (l *Log) Append(source Source, message string, severity Severity) Entry {
	e := Entry{
		ID:       uuid.NewString(),
		Source:   source,
		Message:  message,
		Severity: severity,
	}

	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	e.Time = l.now()
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	l.mirror(e)

	l.subsMu.RLock()
	subs := slices.Clone(l.subs)
	l.subsMu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
	return e
}

// System appends a system entry.
func (l *Log) System(message string, severity Severity) Entry {
	return l.Append(SourceSystem, message, severity)
}

// AI appends an AI entry.
func (l *Log) AI(message string, severity Severity) Entry {
	return l.Append(SourceAI, message, severity)
}

// User appends a user entry.
func (l *Log) User(message string, severity Severity) Entry {
	return l.Append(SourceUser, message, severity)
}

// Entries returns every entry in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Watch calls fn with every entry so far while no append is in flight.
// Entries appended later reach subscribers after fn returns, so the
// snapshot and the stream neither overlap nor leave a gap.
func (l *Log) Watch(fn func([]Entry)) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	fn(l.Entries())
}

// Subscribe registers fn to receive every future entry. fn must not
// append to the log.
func (l *Log) Subscribe(fn func(Entry)) {
	l.subsMu.Lock()
	l.subs = append(l.subs, fn)
	l.subsMu.Unlock()
}

func (l *Log) mirror(e Entry) {
	level := slog.LevelInfo
	switch e.Severity {
	case Error:
		level = slog.LevelError
	case Warning:
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, e.Message,
		"source", e.Source,
		"severity", e.Severity,
		"entry_id", e.ID,
	)
}
