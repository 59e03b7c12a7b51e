// Package rtsp captures an RTSP H.264 camera through GStreamer and emits
// each decoded, scaled picture as a JPEG frame.
package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source"
)

// Config configures the capture.
type Config struct {
	URL          string
	Width        int
	Height       int
	FPS          float64
	JPEGQuality  int
	Acceleration Acceleration
	Reconnect    ReconnectConfig // zero value = DefaultReconnectConfig
	Logger       *slog.Logger
}

// ErrorCounts splits pipeline errors by category.
type ErrorCounts struct {
	Network uint64 `json:"network" msgpack:"network"`
	Codec   uint64 `json:"codec" msgpack:"codec"`
	Auth    uint64 `json:"auth" msgpack:"auth"`
	Unknown uint64 `json:"unknown" msgpack:"unknown"`
}

// Source is an RTSP capture feeding a frame.Sink.
type Source struct {
	cfg    Config
	sink   frame.Sink
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
	running atomic.Bool

	reconnect reconnectState

	framesProduced atomic.Uint64
	bytesProduced  atomic.Uint64
	lastFrameAt    atomic.Int64
	errNetwork     atomic.Uint64
	errCodec       atomic.Uint64
	errAuth        atomic.Uint64
	errUnknown     atomic.Uint64
}

var _ source.Source = (*Source)(nil)

// New validates the config and checks that GStreamer is usable.
func New(cfg Config, sink frame.Sink) (*Source, error) {
	if sink == nil {
		return nil, fmt.Errorf("rtsp: sink is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("rtsp: URL is required")
	}
	if !strings.HasPrefix(cfg.URL, "rtsp://") && !strings.HasPrefix(cfg.URL, "rtsps://") {
		return nil, fmt.Errorf("rtsp: invalid URL scheme %q", cfg.URL)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("rtsp: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS < 0.1 || cfg.FPS > 30 {
		return nil, fmt.Errorf("rtsp: invalid FPS %.2f (must be 0.1-30)", cfg.FPS)
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("rtsp: invalid JPEG quality %d (must be 1-100)", cfg.JPEGQuality)
	}
	if cfg.Acceleration == "" {
		cfg.Acceleration = AccelAuto
	}
	if cfg.Reconnect == (ReconnectConfig{}) {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := checkElements("rtspsrc", "rtph264depay", "jpegenc"); err != nil {
		return nil, fmt.Errorf("rtsp: GStreamer not available: %w", err)
	}
	if cfg.Acceleration == AccelVAAPI {
		if err := checkElements("vaapih264dec", "vaapipostproc"); err != nil {
			return nil, fmt.Errorf("rtsp: VAAPI not available: %w", err)
		}
	}

	return &Source{cfg: cfg, sink: sink, logger: cfg.Logger}, nil
}

// checkElements fails fast when a required plugin is missing.
func checkElements(names ...string) error {
	gst.Init(nil)
	for _, name := range names {
		elem, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("element %s: %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}
	return nil
}

// Name implements source.Source.
func (s *Source) Name() string { return "rtsp" }

// Start launches the capture loop. Frames arrive asynchronously once the
// pipeline reaches PLAYING.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("rtsp: already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	s.running.Store(true)

	s.logger.Info("rtsp: starting capture",
		"url", s.cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
		"acceleration", s.cfg.Acceleration,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		err := runWithReconnect(ctx, s.runOnce, s.cfg.Reconnect, &s.reconnect, s.logger)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("rtsp: capture stopped after reconnection failure",
				"error", err,
				"url", s.cfg.URL,
				"uptime", time.Since(s.started),
				"frames", s.framesProduced.Load(),
				"reconnects", s.reconnect.reconnects.Load(),
			)
		}
	}()

	return nil
}

// runOnce builds a fresh pipeline, plays it and monitors its bus until an
// error, EOS or cancellation.
func (s *Source) runOnce(ctx context.Context) error {
	p, err := buildPipeline(pipelineConfig{
		URL:          s.cfg.URL,
		Width:        s.cfg.Width,
		Height:       s.cfg.Height,
		FPS:          s.cfg.FPS,
		Quality:      s.cfg.JPEGQuality,
		Acceleration: s.cfg.Acceleration,
	}, s.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.destroy(); err != nil {
			s.logger.Error("rtsp: failed to destroy pipeline", "error", err)
		}
	}()

	p.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})
	p.RTSPSrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		s.onPadAdded(srcPad, p.Depay)
	})

	if err := p.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	return s.monitorBus(ctx, p.Pipeline)
}

// monitorBus polls the bus. Returns nil on cancellation.
func (s *Source) monitorBus(ctx context.Context, p *gst.Pipeline) error {
	bus := p.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			s.logger.Info("rtsp: end of stream",
				"url", s.cfg.URL,
				"frames", s.framesProduced.Load(),
			)
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := classifyGError(gerr)
			s.countError(category)

			s.logger.Error("rtsp: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"url", s.cfg.URL,
				"uptime", time.Since(s.started),
			)
			return fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() != p.GetName() {
				continue
			}
			_, newState := msg.ParseStateChanged()
			if newState == gst.StatePlaying {
				s.reconnect.reset()
				s.logger.Info("rtsp: pipeline playing")
			}
		}
	}
}

func (s *Source) countError(c ErrorCategory) {
	switch c {
	case ErrCategoryNetwork:
		s.errNetwork.Add(1)
	case ErrCategoryCodec:
		s.errCodec.Add(1)
	case ErrCategoryAuth:
		s.errAuth.Add(1)
	default:
		s.errUnknown.Add(1)
	}
}

// Stop cancels the capture and waits up to 3s for the loop. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		s.logger.Warn("rtsp: stop timeout exceeded, capture loop still running")
	}

	s.logger.Info("rtsp: capture stopped",
		"frames", s.framesProduced.Load(),
		"reconnects", s.reconnect.reconnects.Load(),
		"uptime", time.Since(s.started),
	)
	s.cancel = nil
	return nil
}

// Errors returns the per-category error counts.
func (s *Source) Errors() ErrorCounts {
	return ErrorCounts{
		Network: s.errNetwork.Load(),
		Codec:   s.errCodec.Load(),
		Auth:    s.errAuth.Load(),
		Unknown: s.errUnknown.Load(),
	}
}

// Stats implements source.Source.
func (s *Source) Stats() source.Stats {
	var last time.Time
	if ns := s.lastFrameAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	e := s.Errors()
	return source.Stats{
		Name:           s.Name(),
		Running:        s.running.Load(),
		FramesProduced: s.framesProduced.Load(),
		BytesProduced:  s.bytesProduced.Load(),
		Errors:         e.Network + e.Codec + e.Auth + e.Unknown,
		Reconnects:     s.reconnect.reconnects.Load(),
		LastFrameAt:    last,
	}
}
