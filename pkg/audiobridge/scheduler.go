package audiobridge

import (
	"sync"
	"time"
)

// Slot is the playback window assigned to one inbound chunk.
type Slot struct {
	Seq   int
	Start time.Time
	End   time.Time
}

// Duration returns the slot length.
func (s Slot) Duration() time.Duration { return s.End.Sub(s.Start) }

// Scheduler assigns back-to-back playback windows. Each chunk starts at
// max(now, cursor) and advances the cursor by its duration, so chunks play
// in arrival order with no gap and no overlap.
type Scheduler struct {
	mu     sync.Mutex
	now    func() time.Time
	cursor time.Time
	seq    int
}

// NewScheduler creates a scheduler reading time from now.
func NewScheduler(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{now: now}
}

// Schedule reserves the next slot for a chunk of length d.
func (s *Scheduler) Schedule(d time.Duration) Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	if s.cursor.After(start) {
		start = s.cursor
	}
	s.cursor = start.Add(d)
	s.seq++
	return Slot{Seq: s.seq, Start: start, End: s.cursor}
}

// Cursor returns the end of the last scheduled slot.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Drained reports whether every scheduled slot has ended.
func (s *Scheduler) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.cursor)
}

// Reset moves the cursor back to now, abandoning future slots.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cursor = s.now()
	s.mu.Unlock()
}
