// Package source defines the internal frame producers that drive the
// broadcast hub. Every producer receives its frame.Sink at construction.
package source

import (
	"context"
	"time"
)

// Source is a frame producer.
//
// Lifecycle: New...(cfg, sink) → Start(ctx) → Stop()
type Source interface {
	// Name identifies the source in logs and stats ("filesim", "rtsp").
	Name() string

	// Start launches the producer goroutine and returns immediately.
	Start(ctx context.Context) error

	// Stop halts the producer. Idempotent.
	Stop() error

	// Stats returns a snapshot of producer counters.
	Stats() Stats
}

// Stats reports producer health.
type Stats struct {
	Name           string    `json:"name" msgpack:"name"`
	Running        bool      `json:"running" msgpack:"running"`
	FramesProduced uint64    `json:"frames_produced" msgpack:"frames_produced"`
	BytesProduced  uint64    `json:"bytes_produced" msgpack:"bytes_produced"`
	Errors         uint64    `json:"errors" msgpack:"errors"`
	Reconnects     uint64    `json:"reconnects" msgpack:"reconnects"`
	LastFrameAt    time.Time `json:"last_frame_at" msgpack:"last_frame_at"`
}
