package session

import "time"

// Stats is a snapshot of one session.
type Stats struct {
	ID               string    `json:"id" msgpack:"id"`
	RemoteAddr       string    `json:"remote_addr" msgpack:"remote_addr"`
	State            State     `json:"state" msgpack:"state"`
	ConnectedAt      time.Time `json:"connected_at" msgpack:"connected_at"`
	FramesSent       uint64    `json:"frames_sent" msgpack:"frames_sent"`
	BytesSent        uint64    `json:"bytes_sent" msgpack:"bytes_sent"`
	TotalDrops       uint64    `json:"total_drops" msgpack:"total_drops"`
	ConsecutiveDrops uint64    `json:"consecutive_drops" msgpack:"consecutive_drops"`
	LastSentSeq      uint64    `json:"last_sent_seq" msgpack:"last_sent_seq"`
	LastSentAt       time.Time `json:"last_sent_at" msgpack:"last_sent_at"`
	IsIdle           bool      `json:"is_idle" msgpack:"is_idle"`
}

// Stats returns a snapshot of the session counters.
//
// IsIdle compares against the last send (or the connect time when nothing
// was sent yet).
func (s *Session) Stats() Stats {
	slotStats := s.slot.Stats()

	var lastSentAt time.Time
	if ns := s.lastSentAt.Load(); ns != 0 {
		lastSentAt = time.Unix(0, ns)
	}

	ref := lastSentAt
	if ref.IsZero() {
		ref = s.connectedAt
	}

	return Stats{
		ID:               s.id,
		RemoteAddr:       s.remote,
		State:            s.State(),
		ConnectedAt:      s.connectedAt,
		FramesSent:       s.framesSent.Load(),
		BytesSent:        s.bytesSent.Load(),
		TotalDrops:       slotStats.TotalDrops,
		ConsecutiveDrops: slotStats.ConsecutiveDrops,
		LastSentSeq:      s.lastSentSeq.Load(),
		LastSentAt:       lastSentAt,
		IsIdle:           time.Since(ref) > IdleThreshold,
	}
}
