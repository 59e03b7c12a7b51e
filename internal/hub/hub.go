// Package hub implements the broadcast registry: listener, accept loop,
// session map, fan-out and reaping.
//
// This package is INTERNAL - clients use the framebroadcast package API.
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/framing"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/session"
)

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
	stopWaitTimeout  = 3 * time.Second
)

// Hooks are optional lifecycle callbacks. They run on the accept loop or
// session goroutines and MUST NOT block.
type Hooks struct {
	OnSessionOpened func(session.Stats)
	OnSessionClosed func(stats session.Stats, err error)
}

// Options configures a Hub. Zero values select defaults.
type Options struct {
	BindAddress   string
	Port          int
	HeaderPadSize int
	ContentType   string
	Boundary      string
	WriteTimeout  time.Duration
	Logger        *slog.Logger
	Hooks         Hooks
}

// Hub owns the live sessions and fans out frames to them.
//
// Thread-safety:
//   - sessions: RWMutex (RLock for fan-out, Lock for insert/remove)
//   - lifecycle (Start/Stop/Rebind): lifeMu, never held during fan-out
//   - counters: atomics
type Hub struct {
	opts   Options
	framer *framing.Framer
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
	// retiring holds sessions removed from the map (reaped, replaced or
	// stopped) whose serve goroutine has not folded their totals yet.
	retiring map[*session.Session]struct{}

	lifeMu      sync.Mutex
	listener    net.Listener
	acceptDone  chan struct{}
	everStarted bool
	lastAddress string
	lastPort    int

	// bound is read without lifeMu so hooks and stats never wait on Stop.
	bound atomic.Pointer[listenState]

	wg sync.WaitGroup // session goroutines

	publishSeq       atomic.Uint64
	sessionsAccepted atomic.Uint64
	sessionsClosed   atomic.Uint64
	acceptErrors     atomic.Uint64

	// Totals of retired sessions, written under mu so Stats never sees a
	// session both in these totals and in the map or retiring set.
	closedFramesSent atomic.Uint64
	closedBytesSent  atomic.Uint64
	closedDrops      atomic.Uint64
}

// New creates an inert hub. Call Start to begin accepting.
func New(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		opts: opts,
		framer: framing.New(framing.Config{
			Boundary:      opts.Boundary,
			ContentType:   opts.ContentType,
			HeaderPadSize: opts.HeaderPadSize,
		}),
		logger:      opts.Logger,
		sessions:    make(map[string]*session.Session),
		retiring:    make(map[*session.Session]struct{}),
		lastAddress: opts.BindAddress,
		lastPort:    opts.Port,
	}
}

// Framer returns the framer shared by all sessions.
func (h *Hub) Framer() *framing.Framer { return h.framer }

// Start binds bindAddress:port and launches the accept loop.
//
// Returns *BindError when the socket cannot be created (hub stays inert),
// ErrAlreadyStarted when already listening. Port 0 picks an ephemeral port.
func (h *Hub) Start(bindAddress string, port int) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	return h.startLocked(bindAddress, port)
}

func (h *Hub) startLocked(bindAddress string, port int) error {
	if h.listener != nil {
		return ErrAlreadyStarted
	}

	h.everStarted = true
	h.lastAddress = bindAddress
	h.lastPort = port

	addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		berr := &BindError{Address: addr, Err: err}
		h.logger.Error("hub: bind failed", "address", addr, "error", err)
		return berr
	}

	// Remember the resolved port so Rebind keeps the advertised URL stable.
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		h.lastPort = tcpAddr.Port
	}

	h.listener = ln
	h.acceptDone = make(chan struct{})
	h.bound.Store(&listenState{addr: ln.Addr(), startedAt: time.Now()})

	go h.acceptLoop(ln, h.acceptDone)

	h.logger.Info("hub: listening",
		"address", ln.Addr().String(),
		"content_type", h.framer.ContentType(),
		"header_pad_size", h.framer.HeaderPadSize(),
	)
	return nil
}

// acceptLoop runs until the listener is closed.
func (h *Hub) acceptLoop(ln net.Listener, done chan struct{}) {
	defer close(done)

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			h.acceptErrors.Add(1)
			if delay == 0 {
				delay = acceptBackoffMin
			} else {
				delay *= 2
			}
			if delay > acceptBackoffMax {
				delay = acceptBackoffMax
			}

			h.logger.Warn("hub: accept failed",
				"error", &AcceptError{Err: err},
				"retry_in", delay,
			)
			time.Sleep(delay)
			continue
		}

		delay = 0
		h.handleConn(conn)
	}
}

// handleConn registers a new session and starts its write loop.
func (h *Hub) handleConn(conn net.Conn) {
	id := SessionID(conn.RemoteAddr())

	sess, err := session.New(session.Config{
		ID:           id,
		Conn:         conn,
		Framer:       h.framer,
		WriteTimeout: h.opts.WriteTimeout,
		Logger:       h.logger,
	})
	if err != nil {
		h.logger.Error("hub: session setup failed", "error", err)
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	stale := h.sessions[id]
	h.sessions[id] = sess
	if stale != nil {
		h.retiring[stale] = struct{}{}
	}
	h.mu.Unlock()

	if stale != nil {
		h.logger.Info("hub: replacing stale session", "session_id", id)
		stale.Close()
	}

	h.sessionsAccepted.Add(1)
	h.logger.Info("hub: client connected",
		"session_id", id,
		"remote", sess.RemoteAddr(),
	)

	if h.opts.Hooks.OnSessionOpened != nil {
		h.opts.Hooks.OnSessionOpened(sess.Stats())
	}

	h.wg.Add(1)
	go h.serve(sess)
}

// serve runs one session to completion and retires it.
func (h *Hub) serve(sess *session.Session) {
	defer h.wg.Done()

	err := sess.Run()
	st := h.retire(sess)

	if h.opts.Hooks.OnSessionClosed != nil {
		h.opts.Hooks.OnSessionClosed(st, err)
	}
}

// remove deletes sess from the map if it is still the registered entry for
// its id. Its counters stay visible through retiring until serve folds them.
func (h *Hub) remove(sess *session.Session) {
	h.mu.Lock()
	if cur, ok := h.sessions[sess.ID()]; ok && cur == sess {
		delete(h.sessions, sess.ID())
		h.retiring[sess] = struct{}{}
	}
	h.mu.Unlock()
}

// retire moves a finished session's counters into the closed totals.
func (h *Hub) retire(sess *session.Session) session.Stats {
	st := sess.Stats()

	h.mu.Lock()
	if cur, ok := h.sessions[sess.ID()]; ok && cur == sess {
		delete(h.sessions, sess.ID())
	}
	delete(h.retiring, sess)
	h.sessionsClosed.Add(1)
	h.closedFramesSent.Add(st.FramesSent)
	h.closedBytesSent.Add(st.BytesSent)
	h.closedDrops.Add(st.TotalDrops)
	h.mu.Unlock()

	return st
}

// Stop closes the listener and every session. Idempotent, safe concurrently
// with Publish.
func (h *Hub) Stop() error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	return h.stopLocked()
}

func (h *Hub) stopLocked() error {
	if h.listener == nil {
		return nil
	}

	h.bound.Store(nil)
	closeErr := h.listener.Close()
	<-h.acceptDone
	h.listener = nil
	h.acceptDone = nil

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*session.Session)
	for _, s := range sessions {
		h.retiring[s] = struct{}{}
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	waitDone := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(stopWaitTimeout):
		h.logger.Warn("hub: stop timeout, session goroutines still draining",
			"timeout", stopWaitTimeout,
		)
	}

	h.logger.Info("hub: stopped", "sessions_closed", len(sessions))

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("hub: close listener: %w", closeErr)
	}
	return nil
}

// Rebind stops the hub and starts it again on newAddress with the last port.
func (h *Hub) Rebind(newAddress string) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if !h.everStarted {
		return ErrNotStarted
	}

	h.logger.Info("hub: rebinding", "from", h.lastAddress, "to", newAddress, "port", h.lastPort)

	if err := h.stopLocked(); err != nil {
		h.logger.Warn("hub: stop during rebind failed", "error", err)
	}
	return h.startLocked(newAddress, h.lastPort)
}

type listenState struct {
	addr      net.Addr
	startedAt time.Time
}

// Addr returns the bound listener address, or nil when not listening.
func (h *Hub) Addr() net.Addr {
	if ls := h.bound.Load(); ls != nil {
		return ls.addr
	}
	return nil
}

// Listening reports whether the accept loop is running.
func (h *Hub) Listening() bool {
	return h.bound.Load() != nil
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
