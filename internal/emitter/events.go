package emitter

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source"
)

// Session event kinds.
const (
	EventOpened = "opened"
	EventClosed = "closed"
)

// SessionEvent reports a client connecting or going away.
type SessionEvent struct {
	InstanceID string        `msgpack:"instance_id"`
	Event      string        `msgpack:"event"`
	Timestamp  time.Time     `msgpack:"timestamp"`
	Session    session.Stats `msgpack:"session"`
	Error      string        `msgpack:"error,omitempty"`
}

// StatsEvent is the periodic health snapshot.
type StatsEvent struct {
	InstanceID string        `msgpack:"instance_id"`
	Timestamp  time.Time     `msgpack:"timestamp"`
	Hub        hub.Stats     `msgpack:"hub"`
	Source     *source.Stats `msgpack:"source,omitempty"`
}

func encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}
