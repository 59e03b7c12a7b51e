// Package slot implements the per-client single-frame mailbox.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// A Slot decouples the producer's cadence from one consumer's cadence
// without unbounded memory growth: it holds at most one unread frame and a
// publish while occupied replaces the held frame.
package slot

import (
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/frame"
)

// Slot is a single-element overwrite buffer with sync.Cond blocking semantics.
//
// Architecture:
//   - Single-slot buffer (frame *frame.Frame)
//   - Overwrite policy (new frame replaces old)
//   - Blocking consume (sync.Cond.Wait, no busy-wait)
//   - Drop tracking (consecutiveDrops, totalDrops)
//
// Thread-safety:
//   - All fields protected by mu
//   - Publish: called by the hub fan-out (producer side)
//   - Consume/TryConsume: called by the owning session's write loop (single consumer)
type Slot struct {
	// --- Mailbox State ---

	mu    sync.Mutex   // Protects all fields
	cond  *sync.Cond   // Signals the consumer
	frame *frame.Frame // nil = consumed, non-nil = unconsumed

	// --- Operational Stats ---

	published        uint64    // Frames offered to this slot
	lastConsumedAt   time.Time // Timestamp of last successful consume
	lastConsumedSeq  uint64    // Sequence number of last consumed frame
	consecutiveDrops uint64    // Current streak of overwritten frames (resets on consume)
	totalDrops       uint64    // Lifetime count of overwritten frames

	// --- Lifecycle ---

	closed bool // True after Close (Consume returns ok=false)
}

// Stats is a snapshot of a slot's counters.
type Stats struct {
	// Published counts frames offered to the slot while open.
	Published uint64

	// TotalDrops counts frames overwritten before they were consumed.
	TotalDrops uint64

	// ConsecutiveDrops is the current overwrite streak. Resets on consume.
	ConsecutiveDrops uint64

	// LastConsumedSeq is the Seq of the last consumed frame (0 = none yet).
	LastConsumedSeq uint64

	// LastConsumedAt is when the last frame was consumed.
	LastConsumedAt time.Time

	// Pending reports whether an unread frame is buffered.
	Pending bool

	// Closed reports whether Close has been called.
	Closed bool
}

// New creates an empty, open slot.
func New() *Slot {
	s := &Slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Publish stores f as the pending frame, discarding any unread one.
//
// Semantics:
//   - Non-blocking: lock + pointer swap + signal
//   - Overwrite policy: returns true when an unread frame was replaced
//   - Closed slot: no-op, returns false
func (s *Slot) Publish(f *frame.Frame) (overwrote bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.published++
	if s.frame != nil {
		s.consecutiveDrops++
		s.totalDrops++
		overwrote = true
	}

	s.frame = f
	s.cond.Signal()

	return overwrote
}

// Consume blocks until a frame is pending or the slot is closed.
//
// Returns (frame, true) and clears the slot, or (nil, false) once closed.
// A frame pending at Close time is discarded: a closed session sends nothing.
//
// MUST be called from a single consumer goroutine.
func (s *Slot) Consume() (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.frame == nil && !s.closed {
		s.cond.Wait()
	}

	if s.closed {
		return nil, false
	}

	return s.take(), true
}

// TryConsume takes the pending frame if there is one, without blocking.
func (s *Slot) TryConsume() (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.frame == nil {
		return nil, false
	}

	return s.take(), true
}

// take clears the slot and records consume stats. Caller holds mu.
func (s *Slot) take() *frame.Frame {
	f := s.frame
	s.frame = nil
	s.lastConsumedAt = time.Now()
	s.lastConsumedSeq = f.Seq
	s.consecutiveDrops = 0
	return f
}

// Close marks the slot closed and wakes a blocked consumer.
// Idempotent.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.frame = nil
	s.cond.Broadcast()
}

// Stats returns a consistent snapshot of the slot counters.
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Published:        s.published,
		TotalDrops:       s.totalDrops,
		ConsecutiveDrops: s.consecutiveDrops,
		LastConsumedSeq:  s.lastConsumedSeq,
		LastConsumedAt:   s.lastConsumedAt,
		Pending:          s.frame != nil,
		Closed:           s.closed,
	}
}
