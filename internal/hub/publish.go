package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/session"
)

// Publish fans f out to every connected session and reaps disconnected ones.
//
// Semantics:
//   - Non-blocking: one slot swap per session, no socket I/O
//   - Assigns f.Seq (monotonic, starts at 1); f MUST NOT be reused afterwards
//   - Disconnected sessions observed here are removed and closed in this call
//   - No sessions: constant work, nothing retained
func (h *Hub) Publish(f *frame.Frame) {
	if f == nil {
		return
	}
	f.Seq = h.publishSeq.Add(1)

	var dead []*session.Session

	h.mu.RLock()
	for _, s := range h.sessions {
		if !s.Connected() {
			dead = append(dead, s)
			continue
		}
		s.Offer(f)
	}
	h.mu.RUnlock()

	if len(dead) == 0 {
		return
	}

	for _, s := range dead {
		h.remove(s)
		s.Close()
	}
	h.logger.Debug("hub: reaped disconnected sessions", "count", len(dead), "seq", f.Seq)
}

// OnFrame implements frame.Sink: wraps payload in a Frame and publishes it.
func (h *Hub) OnFrame(payload []byte) {
	h.Publish(&frame.Frame{
		Data:      payload,
		Timestamp: time.Now(),
		TraceID:   uuid.NewString(),
	})
}
