package session

import (
	"errors"
	"fmt"
)

// ErrDisconnected is returned when the peer went away (EOF or read error).
var ErrDisconnected = errors.New("session: peer disconnected")

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("session: already running")

// Write stages reported by WriteError.
const (
	StagePreamble = "preamble"
	StageFrame    = "frame"
)

// WriteError reports a failed socket write. The session is Closed afterwards.
//
// For StageFrame, Seq and TraceID identify the frame being written.
type WriteError struct {
	SessionID string
	Stage     string
	Seq       uint64
	TraceID   string
	Err       error
}

func (e *WriteError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("session %s: %s write failed (seq %d, trace %s): %v",
			e.SessionID, e.Stage, e.Seq, e.TraceID, e.Err)
	}
	return fmt.Sprintf("session %s: %s write failed: %v", e.SessionID, e.Stage, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
