package hub

import (
	"sort"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/session"
)

// Stats is a snapshot of hub state.
//
// Cumulative counters (FramesSent, BytesSent, FramesDropped) include sessions
// that already closed and never decrease.
type Stats struct {
	Listening        bool            `json:"listening" msgpack:"listening"`
	Address          string          `json:"address" msgpack:"address"`
	Uptime           time.Duration   `json:"uptime_ns" msgpack:"uptime_ns"`
	FramesPublished  uint64          `json:"frames_published" msgpack:"frames_published"`
	SessionsActive   int             `json:"sessions_active" msgpack:"sessions_active"`
	SessionsAccepted uint64          `json:"sessions_accepted" msgpack:"sessions_accepted"`
	SessionsClosed   uint64          `json:"sessions_closed" msgpack:"sessions_closed"`
	AcceptErrors     uint64          `json:"accept_errors" msgpack:"accept_errors"`
	FramesSent       uint64          `json:"frames_sent" msgpack:"frames_sent"`
	BytesSent        uint64          `json:"bytes_sent" msgpack:"bytes_sent"`
	FramesDropped    uint64          `json:"frames_dropped" msgpack:"frames_dropped"`
	Sessions         []session.Stats `json:"sessions" msgpack:"sessions"`
}

// Stats returns a snapshot. Sessions are ordered by connect time.
func (h *Hub) Stats() Stats {
	var st Stats
	if ls := h.bound.Load(); ls != nil {
		st.Listening = true
		st.Address = ls.addr.String()
		st.Uptime = time.Since(ls.startedAt)
	}

	h.mu.RLock()
	sessions := make([]session.Stats, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s.Stats())
	}
	st.SessionsClosed = h.sessionsClosed.Load()
	st.FramesSent = h.closedFramesSent.Load()
	st.BytesSent = h.closedBytesSent.Load()
	st.FramesDropped = h.closedDrops.Load()
	for s := range h.retiring {
		rs := s.Stats()
		st.FramesSent += rs.FramesSent
		st.BytesSent += rs.BytesSent
		st.FramesDropped += rs.TotalDrops
	}
	h.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})

	st.FramesPublished = h.publishSeq.Load()
	st.SessionsActive = len(sessions)
	st.SessionsAccepted = h.sessionsAccepted.Load()
	st.AcceptErrors = h.acceptErrors.Load()
	for _, s := range sessions {
		st.FramesSent += s.FramesSent
		st.BytesSent += s.BytesSent
		st.FramesDropped += s.TotalDrops
	}
	st.Sessions = sessions

	return st
}
