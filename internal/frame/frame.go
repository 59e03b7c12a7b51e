// Package frame defines the unit of broadcast and the producer-side interface.
//
// This package is INTERNAL - clients use the re-exports in the parent package.
package frame

import "time"

// Frame is one opaque payload published by a producer and fanned out to every
// connected client.
//
// IMMUTABILITY CONTRACT:
//   - Publisher: MUST NOT modify Data after handing the frame to the hub
//   - Sessions: read-only access (Data is shared by reference across slots)
//
// Zero-copy chain:
//
//	Source → *Frame.Data (Go heap)
//	             ↓ (0 copies)
//	        Hub fan-out
//	             ↓ (0 copies)
//	        Session slots (N)
//	             ↓ (0 copies)
//	        socket writes (N)
type Frame struct {
	// Data is the raw payload (JSON document, JPEG image, ...).
	Data []byte

	// Seq is assigned by the hub at publish time.
	// Monotonically increasing, starting at 1. Used for drop accounting.
	Seq uint64

	// Timestamp is when the producer handed the frame over.
	Timestamp time.Time

	// TraceID correlates a frame across producer logs and session write
	// failures. Hub.OnFrame assigns a random UUID.
	TraceID string
}

// Len returns the payload length in bytes (the advertised Content-Length).
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// Sink is the producer interface.
//
// OnFrame is invoked at the producer's own cadence and is a hot path:
// implementations MUST NOT block on consumer I/O.
type Sink interface {
	OnFrame(payload []byte)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(payload []byte)

// OnFrame calls f(payload).
func (f SinkFunc) OnFrame(payload []byte) { f(payload) }
