package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	defaultQueue   = 64
)

// Config configures the MQTT emitter
type Config struct {
	Broker        string
	ClientID      string
	InstanceID    string
	SessionsTopic string
	StatsTopic    string
	QoS           byte
	QueueSize     int // pending messages before new ones are dropped
	Logger        *slog.Logger
}

type message struct {
	topic   string
	payload []byte
}

// MQTTEmitter publishes session and stats events to an MQTT broker.
//
// Emit* calls encode and enqueue only; a single sender goroutine owns the
// network. A full queue drops the event.
type MQTTEmitter struct {
	cfg    Config
	logger *slog.Logger
	Client mqtt.Client // Exported for tests and diagnostics

	queue     chan message
	startOnce sync.Once
	stopOnce  sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	dropped   uint64
	connected bool
	started   bool // sendLoop running
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		logger:    cfg.Logger,
		queue:     make(chan message, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		published: make(map[string]uint64),
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes connection to MQTT broker and starts the sender.
//
// The sender starts even when the first attempt fails or times out: the
// client keeps retrying in the background and events flow once it connects.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	if e.Client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(brokerURL(e.cfg.Broker))
		opts.SetClientID(e.cfg.ClientID)
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(2 * time.Second)
		opts.SetMaxReconnectInterval(30 * time.Second)

		opts.OnConnect = func(c mqtt.Client) {
			e.setConnected(true)
			e.logger.Info("emitter: mqtt connection established",
				"broker", e.cfg.Broker,
				"client_id", e.cfg.ClientID,
			)
		}
		opts.OnConnectionLost = func(c mqtt.Client, err error) {
			e.setConnected(false)
			e.logger.Warn("emitter: mqtt connection lost, will auto-reconnect",
				"error", err,
				"broker", e.cfg.Broker,
			)
		}

		e.Client = mqtt.NewClient(opts)
	}

	e.logger.Info("emitter: connecting to mqtt broker", "broker", e.cfg.Broker)

	e.startOnce.Do(func() {
		e.mu.Lock()
		e.started = true
		e.mu.Unlock()
		go e.sendLoop()
	})

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		go e.awaitConnect(token)
		return ctx.Err()
	case <-time.After(connectTimeout):
		go e.awaitConnect(token)
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// awaitConnect marks the emitter connected when a retried connect completes.
func (e *MQTTEmitter) awaitConnect(token mqtt.Token) {
	select {
	case <-token.Done():
	case <-e.stop:
		return
	}
	if err := token.Error(); err != nil {
		e.logger.Warn("emitter: mqtt connect gave up", "broker", e.cfg.Broker, "error", err)
		return
	}
	e.setConnected(true)
	e.logger.Info("emitter: mqtt connected after retry", "broker", e.cfg.Broker)
}

// sendLoop drains the queue until Disconnect.
func (e *MQTTEmitter) sendLoop() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case msg := <-e.queue:
			if err := e.publish(msg); err != nil {
				e.logger.Debug("emitter: publish failed", "topic", msg.topic, "error", err)
			}
		}
	}
}

func (e *MQTTEmitter) publish(msg message) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(msg.topic, e.cfg.QoS, false, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[msg.topic]++
	e.mu.Unlock()
	return nil
}

// enqueue never blocks: a full queue drops the message.
func (e *MQTTEmitter) enqueue(topic string, v any) {
	payload, err := encode(v)
	if err != nil {
		e.countError()
		e.logger.Warn("emitter: encode failed", "topic", topic, "error", err)
		return
	}

	select {
	case e.queue <- message{topic: topic, payload: payload}:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}

// EmitSessionOpened enqueues an "opened" session event.
func (e *MQTTEmitter) EmitSessionOpened(st session.Stats) {
	e.enqueue(e.cfg.SessionsTopic, SessionEvent{
		InstanceID: e.cfg.InstanceID,
		Event:      EventOpened,
		Timestamp:  time.Now(),
		Session:    st,
	})
}

// EmitSessionClosed enqueues a "closed" session event.
func (e *MQTTEmitter) EmitSessionClosed(st session.Stats, cause error) {
	ev := SessionEvent{
		InstanceID: e.cfg.InstanceID,
		Event:      EventClosed,
		Timestamp:  time.Now(),
		Session:    st,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	e.enqueue(e.cfg.SessionsTopic, ev)
}

// EmitStats enqueues a stats snapshot. src may be nil.
func (e *MQTTEmitter) EmitStats(h hub.Stats, src *source.Stats) {
	e.enqueue(e.cfg.StatsTopic, StatsEvent{
		InstanceID: e.cfg.InstanceID,
		Timestamp:  time.Now(),
		Hub:        h,
		Source:     src,
	})
}

// Hooks returns hub hooks that emit session events.
func (e *MQTTEmitter) Hooks() hub.Hooks {
	return hub.Hooks{
		OnSessionOpened: e.EmitSessionOpened,
		OnSessionClosed: e.EmitSessionClosed,
	}
}

// Disconnect stops the sender and closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.mu.RLock()
		started := e.started
		e.mu.RUnlock()
		if started {
			<-e.done
		}
		if e.Client != nil && e.Client.IsConnected() {
			e.Client.Disconnect(250) // 250ms grace period
			e.logger.Info("emitter: mqtt disconnected")
		}
		e.setConnected(false)
	})
	return nil
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	Dropped   uint64            `json:"dropped"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
