// Package metrics exposes hub and source statistics as Prometheus metrics.
//
// The collector pulls a fresh snapshot on every scrape, so the hot path
// (Publish, session writes) never touches Prometheus types.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source"
)

// HubStatser is implemented by *hub.Hub.
type HubStatser interface {
	Stats() hub.Stats
}

// SourceStatser is implemented by every source.Source.
type SourceStatser interface {
	Stats() source.Stats
}

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "framebroadcast").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: a fresh registry with Go and process collectors.
	Registry *prometheus.Registry

	// Source adds producer metrics when set.
	Source SourceStatser
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// WithSource adds producer metrics.
func WithSource(src SourceStatser) Option {
	return func(c *Config) {
		c.Source = src
	}
}

// Collector is a prometheus.Collector over hub (and optionally source) stats.
type Collector struct {
	hub    HubStatser
	source SourceStatser
	reg    *prometheus.Registry

	framesPublished  *prometheus.Desc
	sessionsActive   *prometheus.Desc
	sessionsAccepted *prometheus.Desc
	sessionsClosed   *prometheus.Desc
	acceptErrors     *prometheus.Desc
	framesSent       *prometheus.Desc
	bytesSent        *prometheus.Desc
	framesDropped    *prometheus.Desc
	listening        *prometheus.Desc
	sessionDrops     *prometheus.Desc

	sourceFrames     *prometheus.Desc
	sourceErrors     *prometheus.Desc
	sourceReconnects *prometheus.Desc
}

// New creates a collector and registers it.
func New(h HubStatser, opts ...Option) (*Collector, error) {
	cfg := Config{Namespace: "framebroadcast"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(cfg.Namespace, "", name), help, labels, cfg.ConstLabels)
	}

	c := &Collector{
		hub:    h,
		source: cfg.Source,
		reg:    cfg.Registry,

		framesPublished:  desc("frames_published_total", "Total number of frames published by the producer"),
		sessionsActive:   desc("sessions_active", "Number of currently registered client sessions"),
		sessionsAccepted: desc("sessions_accepted_total", "Total number of accepted client connections"),
		sessionsClosed:   desc("sessions_closed_total", "Total number of closed client sessions"),
		acceptErrors:     desc("accept_errors_total", "Total number of failed accept attempts"),
		framesSent:       desc("frames_sent_total", "Total number of frames written to clients"),
		bytesSent:        desc("bytes_sent_total", "Total number of bytes written to clients"),
		framesDropped:    desc("frames_dropped_total", "Total number of frames overwritten before a client consumed them"),
		listening:        desc("listening", "Whether the broadcast listener is accepting connections (1) or inert (0)"),
		sessionDrops:     desc("session_frames_dropped", "Frames dropped for one live session", "session_id"),

		sourceFrames:     desc("source_frames_total", "Total number of frames produced by the internal source", "source"),
		sourceErrors:     desc("source_errors_total", "Total number of internal source errors", "source"),
		sourceReconnects: desc("source_reconnects_total", "Total number of internal source reconnects", "source"),
	}

	if err := cfg.Registry.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesPublished
	ch <- c.sessionsActive
	ch <- c.sessionsAccepted
	ch <- c.sessionsClosed
	ch <- c.acceptErrors
	ch <- c.framesSent
	ch <- c.bytesSent
	ch <- c.framesDropped
	ch <- c.listening
	ch <- c.sessionDrops
	if c.source != nil {
		ch <- c.sourceFrames
		ch <- c.sourceErrors
		ch <- c.sourceReconnects
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.hub.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.framesPublished, st.FramesPublished)
	gauge(c.sessionsActive, float64(st.SessionsActive))
	counter(c.sessionsAccepted, st.SessionsAccepted)
	counter(c.sessionsClosed, st.SessionsClosed)
	counter(c.acceptErrors, st.AcceptErrors)
	counter(c.framesSent, st.FramesSent)
	counter(c.bytesSent, st.BytesSent)
	counter(c.framesDropped, st.FramesDropped)

	listening := 0.0
	if st.Listening {
		listening = 1
	}
	gauge(c.listening, listening)

	for _, s := range st.Sessions {
		gauge(c.sessionDrops, float64(s.TotalDrops), s.ID)
	}

	if c.source != nil {
		src := c.source.Stats()
		counter(c.sourceFrames, src.FramesProduced, src.Name)
		counter(c.sourceErrors, src.Errors, src.Name)
		counter(c.sourceReconnects, src.Reconnects, src.Name)
	}
}

// Registry returns the registry the collector is registered with.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
