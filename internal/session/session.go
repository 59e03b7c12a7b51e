// Package session implements one client connection of the broadcast server.
//
// Each session owns a single-frame slot and two goroutines:
//   - the write loop (Run): preamble once, then newest-frame-only streaming
//   - the peer watcher: reads and discards client bytes, detects EOF
//
// A slow client only ever falls behind by dropping intermediate frames; it
// never slows down the producer or other sessions.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/framing"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/slot"
)

// IdleThreshold marks a session idle when nothing was sent for this long.
const IdleThreshold = 30 * time.Second

// Config configures a Session.
type Config struct {
	ID     string
	Conn   net.Conn
	Framer *framing.Framer

	// WriteTimeout bounds each frame write. 0 disables the deadline.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Session is one connected client.
type Session struct {
	id           string
	conn         net.Conn
	remote       string
	framer       *framing.Framer
	writeTimeout time.Duration
	logger       *slog.Logger

	slot *slot.Slot

	state     atomic.Int32
	connected atomic.Bool
	running   atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error // first close reason, nil for a local Close

	connectedAt time.Time
	framesSent  atomic.Uint64
	bytesSent   atomic.Uint64
	lastSentSeq atomic.Uint64
	lastSentAt  atomic.Int64 // UnixNano, 0 = never
	overflowed  atomic.Bool  // header overflow already logged
}

// New creates a session in HeaderPending state.
//
// Fail-fast validation: Conn and ID are required.
func New(cfg Config) (*Session, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("session: conn is required")
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("session: id is required")
	}
	if cfg.Framer == nil {
		cfg.Framer = framing.New(framing.Config{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	remote := ""
	if addr := cfg.Conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	s := &Session{
		id:           cfg.ID,
		conn:         cfg.Conn,
		remote:       remote,
		framer:       cfg.Framer,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger.With("session_id", cfg.ID, "remote", remote),
		slot:         slot.New(),
		done:         make(chan struct{}),
		connectedAt:  time.Now(),
	}
	s.state.Store(int32(StateAccepted))
	s.connected.Store(true)
	s.state.Store(int32(StateHeaderPending))

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer endpoint as text.
func (s *Session) RemoteAddr() string { return s.remote }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Connected reports whether the peer is still considered connected.
func (s *Session) Connected() bool { return s.connected.Load() }

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the close reason (nil while open or after a local Close).
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Offer hands a frame to the session's slot.
//
// Non-blocking. Returns true when an unread frame was overwritten.
func (s *Session) Offer(f *frame.Frame) (overwrote bool) {
	if !s.connected.Load() {
		return false
	}
	return s.slot.Publish(f)
}

// Run drives the session until it closes: peer watcher, preamble, streaming.
//
// Returns the close reason: nil after a local Close, ErrDisconnected when the
// peer went away, or *WriteError when a write failed.
// MUST be called at most once.
func (s *Session) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.Close()

	if s.State() == StateClosed {
		return s.Err()
	}

	go s.watchPeer()

	if err := s.writePreamble(); err != nil {
		s.closeWith(err)
		return s.Err()
	}

	// A close during the preamble already moved the state to Closed.
	if !s.state.CompareAndSwap(int32(StateHeaderPending), int32(StateStreaming)) {
		return s.Err()
	}
	s.logger.Info("session: streaming")

	for {
		f, ok := s.slot.Consume()
		if !ok {
			return s.Err()
		}

		if !s.connected.Load() {
			s.closeWith(ErrDisconnected)
			return s.Err()
		}

		if err := s.writeFrame(f); err != nil {
			s.closeWith(err)
			return s.Err()
		}
	}
}

func (s *Session) writePreamble() error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}

	preamble := s.framer.Preamble()
	n, err := s.conn.Write(preamble)
	s.bytesSent.Add(uint64(n))
	if err != nil {
		return &WriteError{SessionID: s.id, Stage: StagePreamble, Err: err}
	}
	return nil
}

func (s *Session) writeFrame(f *frame.Frame) error {
	header, body, footer, err := s.framer.FrameChunk(f.Data)
	if err != nil {
		var overflow *framing.HeaderOverflowError
		if errors.As(err, &overflow) && s.overflowed.CompareAndSwap(false, true) {
			s.logger.Warn("session: frame header exceeds pad size, sending unpadded",
				"size", overflow.Size,
				"pad_size", overflow.PadSize,
				"seq", f.Seq,
				"trace_id", f.TraceID,
			)
		}
	}

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}

	bufs := net.Buffers{header, body, footer}
	n, err := bufs.WriteTo(s.conn)
	s.bytesSent.Add(uint64(n))
	if err != nil {
		return &WriteError{SessionID: s.id, Stage: StageFrame, Seq: f.Seq, TraceID: f.TraceID, Err: err}
	}

	s.framesSent.Add(1)
	s.lastSentSeq.Store(f.Seq)
	s.lastSentAt.Store(time.Now().UnixNano())
	return nil
}

// watchPeer discards client bytes until EOF or error, then closes the session.
func (s *Session) watchPeer() {
	buf := make([]byte, 512)
	for {
		if _, err := s.conn.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("session: peer read failed", "error", err)
			}
			s.closeWith(ErrDisconnected)
			return
		}
	}
}

// Close ends the session. Idempotent.
func (s *Session) Close() {
	s.closeWith(nil)
}

func (s *Session) closeWith(reason error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = reason
		s.errMu.Unlock()

		s.connected.Store(false)
		s.state.Store(int32(StateClosed))
		s.slot.Close()
		_ = s.conn.Close()
		close(s.done)

		st := s.Stats()
		if reason != nil && !errors.Is(reason, ErrDisconnected) {
			s.logger.Warn("session: closed",
				"error", reason,
				"frames_sent", st.FramesSent,
				"drops", st.TotalDrops,
			)
			return
		}
		s.logger.Info("session: closed",
			"frames_sent", st.FramesSent,
			"drops", st.TotalDrops,
		)
	})
}
