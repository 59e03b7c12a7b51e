// Package service wires configuration into a running frame-broadcast
// instance: hub, frame source, metrics, MQTT events, control plane and the
// interface address watcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/netif"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source/filesim"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source/rtsp"
)

// Service is the main orchestrator.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger
	lister netif.Lister

	hub     *hub.Hub
	source  source.Source // nil when source.type is none
	emitter *emitter.MQTTEmitter
	metrics *metrics.Collector

	mu        sync.RWMutex
	wg        sync.WaitGroup
	started   time.Time
	isRunning bool
	cancel    context.CancelFunc
	control   *control.Server
}

// Option customizes a Service.
type Option func(*Service)

// WithLister replaces the system interface lister (tests).
func WithLister(l netif.Lister) Option {
	return func(s *Service) { s.lister = l }
}

// New builds every component. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{cfg: cfg, logger: logger, lister: netif.SystemLister}
	for _, opt := range opts {
		opt(s)
	}

	var hooks hub.Hooks
	if cfg.MQTT.Broker != "" {
		s.emitter = emitter.NewMQTTEmitter(emitter.Config{
			Broker:        cfg.MQTT.Broker,
			ClientID:      cfg.MQTT.ClientID,
			InstanceID:    cfg.InstanceID,
			SessionsTopic: cfg.MQTT.Topics.Sessions,
			StatsTopic:    cfg.MQTT.Topics.Stats,
			QoS:           cfg.MQTT.QoS,
			Logger:        logger,
		})
		hooks = s.emitter.Hooks()
	}

	s.hub = hub.New(hub.Options{
		Port:          cfg.Server.Port,
		HeaderPadSize: cfg.Server.FrameHeaderPadSize,
		ContentType:   cfg.Server.ContentType,
		Boundary:      cfg.Server.Boundary,
		WriteTimeout:  cfg.Server.WriteTimeout,
		Logger:        logger,
		Hooks:         hooks,
	})

	src, err := newSource(cfg.Source, s.hub, logger)
	if err != nil {
		return nil, err
	}
	s.source = src

	metricOpts := []metrics.Option{
		metrics.WithConstLabels(prometheus.Labels{"instance_id": cfg.InstanceID}),
	}
	if src != nil {
		metricOpts = append(metricOpts, metrics.WithSource(src))
	}
	s.metrics, err = metrics.New(s.hub, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("service: metrics: %w", err)
	}

	logger.Info("service: configured",
		"instance_id", cfg.InstanceID,
		"source", cfg.Source.Type,
		"mqtt", cfg.MQTT.Broker != "",
		"control", cfg.Control.Listen,
	)
	return s, nil
}

// newSource returns nil for type none.
func newSource(cfg config.SourceConfig, h *hub.Hub, logger *slog.Logger) (source.Source, error) {
	switch cfg.Type {
	case "filesim":
		src, err := filesim.New(filesim.Config{
			Dir:     cfg.FileSim.Dir,
			Pattern: cfg.FileSim.Pattern,
			FPS:     cfg.FileSim.FPS,
			Loop:    cfg.FileSim.Loop,
			Logger:  logger,
		}, h)
		if err != nil {
			return nil, fmt.Errorf("service: source: %w", err)
		}
		return src, nil

	case "rtsp":
		src, err := rtsp.New(rtsp.Config{
			URL:          cfg.RTSP.URL,
			Width:        cfg.RTSP.Width,
			Height:       cfg.RTSP.Height,
			FPS:          cfg.RTSP.FPS,
			JPEGQuality:  cfg.RTSP.JPEGQuality,
			Acceleration: rtsp.Acceleration(cfg.RTSP.Acceleration),
			Logger:       logger,
		}, h)
		if err != nil {
			return nil, fmt.Errorf("service: source: %w", err)
		}
		return src, nil

	case "", "none":
		return nil, nil

	default:
		return nil, fmt.Errorf("service: unknown source type %q", cfg.Type)
	}
}

// Hub exposes the broadcast hub (library publishing and tests).
func (s *Service) Hub() *hub.Hub { return s.hub }

// ControlAddr returns the control plane address, nil when disabled or not running.
func (s *Service) ControlAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.control == nil {
		return nil
	}
	return s.control.Addr()
}

// Run starts every component and blocks until ctx is cancelled.
//
// A bind failure leaves the hub inert; the control plane and the watcher
// stay up so the operator (or an address change) can recover it.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if s.emitter != nil {
		if err := s.emitter.Connect(ctx); err != nil {
			s.logger.Warn("service: mqtt unavailable, retrying in background", "error", err)
		}
		if s.cfg.MQTT.StatsInterval > 0 {
			s.wg.Add(1)
			go s.emitStats(ctx, s.cfg.MQTT.StatsInterval)
		}
	}

	bindAddr, candidate := s.resolveBindAddress()
	if err := s.hub.Start(bindAddr, s.cfg.Server.Port); err != nil {
		var berr *hub.BindError
		if !errors.As(err, &berr) {
			return fmt.Errorf("service: start hub: %w", err)
		}
		s.logger.Error("service: broadcast listener unavailable, waiting for rebind", "error", err)
	}

	if s.cfg.Control.Listen != "" {
		if err := s.startControl(); err != nil {
			return err
		}
	}

	if s.cfg.Server.BindAddress == "" && s.cfg.Server.InterfacePrefix != "" && s.cfg.Server.RebindPollInterval > 0 {
		w := &netif.Watcher{
			Prefix:   s.cfg.Server.InterfacePrefix,
			Interval: s.cfg.Server.RebindPollInterval,
			List:     s.lister,
			Logger:   s.logger,
			OnChange: s.onAddressChange,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(ctx, candidate)
		}()
	}

	if s.source != nil {
		if err := s.source.Start(ctx); err != nil {
			return fmt.Errorf("service: start source: %w", err)
		}
	}

	s.logger.Info("service: running",
		"instance_id", s.cfg.InstanceID,
		"listening", s.hub.Listening(),
	)

	<-ctx.Done()
	s.logger.Info("service: run loop exiting")
	return nil
}

// resolveBindAddress picks the explicit address, else the first candidate of
// the interface prefix, else 0.0.0.0. candidate is the prefix match ("" if none).
func (s *Service) resolveBindAddress() (bind, candidate string) {
	srv := s.cfg.Server
	if srv.BindAddress != "" {
		return srv.BindAddress, ""
	}
	if srv.InterfacePrefix != "" {
		addrs, err := netif.CandidatesFrom(s.lister, srv.InterfacePrefix)
		if err != nil {
			s.logger.Warn("service: interface query failed", "prefix", srv.InterfacePrefix, "error", err)
		} else if len(addrs) > 0 {
			return addrs[0], addrs[0]
		} else {
			s.logger.Warn("service: no address for interface prefix, binding all", "prefix", srv.InterfacePrefix)
		}
	}
	return "0.0.0.0", ""
}

// onAddressChange follows the interface address. An interface that went
// away leaves the current listener alone.
func (s *Service) onAddressChange(addr string) {
	if addr == "" {
		s.logger.Warn("service: interface lost its address, keeping current listener")
		return
	}
	if err := s.hub.Rebind(addr); err != nil {
		s.logger.Error("service: rebind failed", "address", addr, "error", err)
	}
}

func (s *Service) startControl() error {
	deps := control.Deps{
		Hub:     s.hub,
		Metrics: s.metrics.Handler(),
		Logger:  s.logger,
		Started: s.started,
	}
	if s.source != nil {
		deps.Checks.SourceRunning = func() bool { return s.source.Stats().Running }
	}
	if s.emitter != nil {
		deps.Checks.MQTTConnected = func() bool { return s.emitter.Stats().Connected }
	}

	srv, err := control.Start(s.cfg.Control.Listen, control.NewRouter(deps), s.logger)
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}

	s.mu.Lock()
	s.control = srv
	s.mu.Unlock()
	return nil
}

// emitStats publishes a StatsEvent every interval.
func (s *Service) emitStats(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var src *source.Stats
			if s.source != nil {
				st := s.source.Stats()
				src = &st
			}
			s.emitter.EmitStats(s.hub.Stats(), src)
		}
	}
}

// Shutdown stops components in dependency order: source first (no more
// frames), then everything that can call Rebind (control plane, address
// watcher), then the hub and MQTT.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	cancel, ctrl := s.cancel, s.control
	s.mu.Unlock()

	s.logger.Info("service: shutting down")
	cancel()

	var errs []error
	if s.source != nil {
		if err := s.source.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop source: %w", err))
		}
	}
	if ctrl != nil {
		if err := ctrl.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop control: %w", err))
		}
	}

	s.wg.Wait()

	if err := s.hub.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop hub: %w", err))
	}

	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect mqtt: %w", err))
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.control = nil
	s.mu.Unlock()

	s.logger.Info("service: shutdown complete", "uptime", uptime)
	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}
