// Package framebroadcast serves the latest frame of a single producer to any
// number of independently paced TCP clients over multipart/x-mixed-replace.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Design:
//   - Non-blocking Publish()/OnFrame() (slot swap per client, no I/O)
//   - One write loop per client, blocking on a single-frame slot
//   - Zero-copy frame sharing (immutability contract)
//   - Explicit server object: New() → Start() → Publish() → Stop()
package framebroadcast

import (
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/framing"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/session"
)

// Frame is re-exported from the internal package.
// See internal/frame/frame.go for full documentation.
type Frame = frame.Frame

// FrameSink is the producer interface, implemented by Server.
type FrameSink = frame.Sink

// Options configures a Server. Zero values select defaults
// (boundary 0123456789876543210, content type application/json, pad size 100,
// no write timeout).
type Options = hub.Options

// Hooks are optional session lifecycle callbacks.
type Hooks = hub.Hooks

// Stats is a snapshot of server state.
type Stats = hub.Stats

// SessionStats is a snapshot of one client session.
type SessionStats = session.Stats

// Error types, usable with errors.As / errors.Is.
type (
	BindError           = hub.BindError
	AcceptError         = hub.AcceptError
	WriteError          = session.WriteError
	HeaderOverflowError = framing.HeaderOverflowError
)

var (
	ErrAlreadyStarted = hub.ErrAlreadyStarted
	ErrNotStarted     = hub.ErrNotStarted
	ErrDisconnected   = session.ErrDisconnected
)

// Wire defaults.
const (
	DefaultBoundary      = framing.DefaultBoundary
	DefaultContentType   = framing.DefaultContentType
	DefaultHeaderPadSize = framing.DefaultHeaderPadSize
)

// Server is the public interface of the broadcast server.
//
// Design:
//   - Interface (not concrete type), implementation in internal/hub
//   - Lifecycle: New() → Start() → OnFrame()/Publish() → Stop()
//   - Thread-safe: all methods safe for concurrent use
type Server interface {
	FrameSink

	// Start binds bindAddress:port and begins accepting clients.
	//
	// Returns *BindError when the socket cannot be created; the server
	// stays inert and retry is up to the caller. Returns ErrAlreadyStarted
	// when already listening.
	Start(bindAddress string, port int) error

	// Stop closes the listener and every client session.
	// Idempotent and safe concurrently with Publish.
	Stop() error

	// Rebind is Stop followed by Start(newAddress, lastPort).
	// Used when the advertised network interface changes at runtime.
	Rebind(newAddress string) error

	// Publish fans a frame out to every connected client (non-blocking).
	//
	// Contract:
	//   - frame.Data MUST NOT be modified after Publish
	//   - frame.Seq is assigned by the server
	Publish(frame *Frame)

	// Listening reports whether the accept loop is running.
	Listening() bool

	// Stats returns an operational snapshot.
	Stats() Stats
}

// New creates an inert Server. Call Start to begin accepting clients.
func New(opts Options) Server {
	return hub.New(opts)
}
