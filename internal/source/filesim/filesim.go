// Package filesim replays a directory of files as a frame stream.
//
// Each file's bytes become one frame, in lexical order, at a target FPS.
// Useful for demos and for driving clients without a camera.
package filesim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source"
)

// Config configures the replay.
type Config struct {
	Dir     string
	Pattern string  // glob relative to Dir, default "*"
	FPS     float64 // must be > 0
	Loop    bool    // restart from the first file after the last
	Logger  *slog.Logger
}

// Source replays files into a frame.Sink.
type Source struct {
	cfg    Config
	sink   frame.Sink
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	framesProduced atomic.Uint64
	bytesProduced  atomic.Uint64
	errors         atomic.Uint64
	loops          atomic.Uint64
	lastFrameAt    atomic.Int64
}

var _ source.Source = (*Source)(nil)

// ErrNoFrames is returned by Start when the pattern matches nothing.
var ErrNoFrames = errors.New("filesim: no files match pattern")

// New creates a replay source with fail-fast validation.
func New(cfg Config, sink frame.Sink) (*Source, error) {
	if sink == nil {
		return nil, fmt.Errorf("filesim: sink is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("filesim: dir is required")
	}
	if info, err := os.Stat(cfg.Dir); err != nil {
		return nil, fmt.Errorf("filesim: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("filesim: %s is not a directory", cfg.Dir)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("filesim: fps must be > 0, got %v", cfg.FPS)
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("filesim: invalid pattern %q: %w", cfg.Pattern, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Source{cfg: cfg, sink: sink, logger: cfg.Logger}, nil
}

// Name implements source.Source.
func (s *Source) Name() string { return "filesim" }

// loadFrames returns the sorted list of regular files matching the pattern.
func (s *Source) loadFrames() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.cfg.Dir, s.cfg.Pattern))
	if err != nil {
		return nil, err
	}

	frames := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			frames = append(frames, m)
		}
	}
	sort.Strings(frames)
	return frames, nil
}

// Start launches the replay goroutine.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("filesim: already started")
	}

	frames, err := s.loadFrames()
	if err != nil {
		return fmt.Errorf("filesim: %w", err)
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w: %s", ErrNoFrames, filepath.Join(s.cfg.Dir, s.cfg.Pattern))
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	s.logger.Info("filesim: replay starting",
		"dir", s.cfg.Dir,
		"pattern", s.cfg.Pattern,
		"frames", len(frames),
		"fps", s.cfg.FPS,
		"loop", s.cfg.Loop,
	)

	go s.run(ctx, frames)
	return nil
}

// run publishes one file per tick until ctx is done or a non-looping pass ends.
func (s *Source) run(ctx context.Context, frames []string) {
	defer close(s.done)
	defer s.running.Store(false)

	interval := time.Duration(float64(time.Second) / s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		path := frames[idx]
		data, err := os.ReadFile(path)
		if err != nil {
			s.errors.Add(1)
			s.logger.Warn("filesim: failed to read frame", "path", path, "error", err)
		} else {
			s.sink.OnFrame(data)
			s.framesProduced.Add(1)
			s.bytesProduced.Add(uint64(len(data)))
			s.lastFrameAt.Store(time.Now().UnixNano())
		}

		idx++
		if idx < len(frames) {
			continue
		}

		idx = 0
		loops := s.loops.Add(1)
		s.logger.Debug("filesim: loop completed", "loop", loops)
		if !s.cfg.Loop {
			s.logger.Info("filesim: replay finished", "frames", s.framesProduced.Load())
			return
		}
	}
}

// Stop halts the replay and waits for the goroutine. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Done is closed when the replay goroutine exits. Nil before Start.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stats implements source.Source.
func (s *Source) Stats() source.Stats {
	var last time.Time
	if ns := s.lastFrameAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return source.Stats{
		Name:           s.Name(),
		Running:        s.running.Load(),
		FramesProduced: s.framesProduced.Load(),
		BytesProduced:  s.bytesProduced.Load(),
		Errors:         s.errors.Load(),
		LastFrameAt:    last,
	}
}
