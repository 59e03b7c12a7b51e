package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source"
)

// fakeToken completes immediately with err.
type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// lateToken completes when done is closed.
type lateToken struct{ done chan struct{} }

func (t *lateToken) Wait() bool { <-t.done; return true }
func (t *lateToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *lateToken) Error() error          { return nil }
func (t *lateToken) Done() <-chan struct{} { return t.done }

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes. Unused mqtt.Client methods panic via the nil embed.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	connectErr error
	connectTok mqtt.Token // overrides connectErr when set
	publishErr error
	msgs       []published
	connected  bool
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	if c.connectTok != nil {
		return c.connectTok
	}
	return fakeToken{err: c.connectErr}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return fakeToken{err: c.publishErr}
	}
	c.msgs = append(c.msgs, published{topic: topic, payload: payload.([]byte)})
	return fakeToken{}
}

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func newTestEmitter(t *testing.T, client *fakeClient) *MQTTEmitter {
	t.Helper()
	e := NewMQTTEmitter(Config{
		Broker:        "localhost:1883",
		ClientID:      "test",
		InstanceID:    "cam-01",
		SessionsTopic: "care/broadcast/cam-01/sessions",
		StatsTopic:    "care/broadcast/cam-01/stats",
	})
	e.Client = client
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() { e.Disconnect() })
	return e
}

func waitMessages(t *testing.T, c *fakeClient, n int) []published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := c.messages()
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d messages (got %d)", n, len(msgs))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSessionEventsViaHooks(t *testing.T) {
	client := &fakeClient{}
	e := newTestEmitter(t, client)

	hooks := e.Hooks()
	st := session.Stats{ID: "abc", RemoteAddr: "10.0.0.9:5000", FramesSent: 3}
	hooks.OnSessionOpened(st)
	hooks.OnSessionClosed(st, errors.New("broken pipe"))

	msgs := waitMessages(t, client, 2)

	for _, m := range msgs {
		if m.topic != "care/broadcast/cam-01/sessions" {
			t.Errorf("topic=%q", m.topic)
		}
	}

	var closed map[string]interface{}
	if err := msgpack.Unmarshal(msgs[1].payload, &closed); err != nil {
		t.Fatalf("msgpack.Unmarshal() failed: %v", err)
	}
	if closed["event"] != EventClosed || closed["instance_id"] != "cam-01" || closed["error"] != "broken pipe" {
		t.Errorf("closed event = %v", closed)
	}

	sess, ok := closed["session"].(map[string]interface{})
	if !ok || sess["id"] != "abc" {
		t.Errorf("session payload = %v", closed["session"])
	}

	if got := e.Stats().Published["care/broadcast/cam-01/sessions"]; got != 2 {
		t.Errorf("Published count=%d (expected 2)", got)
	}
}

func TestEmitStats(t *testing.T) {
	client := &fakeClient{}
	e := newTestEmitter(t, client)

	e.EmitStats(hub.Stats{FramesPublished: 42, SessionsActive: 1}, &source.Stats{Name: "filesim", FramesProduced: 42})

	msgs := waitMessages(t, client, 1)
	if msgs[0].topic != "care/broadcast/cam-01/stats" {
		t.Errorf("topic=%q", msgs[0].topic)
	}

	var ev struct {
		InstanceID string `msgpack:"instance_id"`
		Hub        struct {
			FramesPublished uint64 `msgpack:"frames_published"`
			SessionsActive  int    `msgpack:"sessions_active"`
		} `msgpack:"hub"`
		Source *source.Stats `msgpack:"source"`
	}
	if err := msgpack.Unmarshal(msgs[0].payload, &ev); err != nil {
		t.Fatalf("msgpack.Unmarshal() failed: %v", err)
	}
	if ev.Hub.FramesPublished != 42 || ev.Hub.SessionsActive != 1 {
		t.Errorf("hub payload = %+v", ev.Hub)
	}
	if ev.Source == nil || ev.Source.Name != "filesim" {
		t.Errorf("source payload = %+v", ev.Source)
	}
}

func TestPublishErrorsCounted(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("not authorized")}
	e := newTestEmitter(t, client)

	e.EmitSessionOpened(session.Stats{ID: "x"})

	deadline := time.Now().Add(2 * time.Second)
	for e.Stats().Errors == 0 {
		if time.Now().After(deadline) {
			t.Fatal("publish error not counted")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestConnectFailure(t *testing.T) {
	e := NewMQTTEmitter(Config{Broker: "localhost:1883"})
	e.Client = &fakeClient{connectErr: errors.New("connection refused")}

	if err := e.Connect(context.Background()); err == nil {
		t.Fatal("Connect() succeeded with failing client")
	}
	if err := e.Disconnect(); err != nil {
		t.Errorf("Disconnect() after failed connect = %v", err)
	}
}

// TestLateConnectDeliversEvents covers a broker that only becomes reachable
// after the first connect attempt timed out.
func TestLateConnectDeliversEvents(t *testing.T) {
	late := &lateToken{done: make(chan struct{})}
	client := &fakeClient{connectTok: late}

	e := NewMQTTEmitter(Config{Broker: "localhost:1883", SessionsTopic: "s"})
	e.Client = client
	t.Cleanup(func() { e.Disconnect() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Connect(ctx); err == nil {
		t.Fatal("Connect() succeeded before the broker answered")
	}
	if e.Stats().Connected {
		t.Error("emitter reports connected before the broker answered")
	}

	close(late.done)

	deadline := time.Now().Add(2 * time.Second)
	for !e.Stats().Connected {
		if time.Now().After(deadline) {
			t.Fatal("emitter never marked connected after late connect")
		}
		time.Sleep(2 * time.Millisecond)
	}

	e.EmitSessionOpened(session.Stats{ID: "late"})
	msgs := waitMessages(t, client, 1)
	if msgs[0].topic != "s" {
		t.Errorf("topic=%q", msgs[0].topic)
	}
	if got := e.Stats().Dropped; got != 0 {
		t.Errorf("Dropped=%d (expected 0)", got)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	e := NewMQTTEmitter(Config{QueueSize: 2, SessionsTopic: "s"})

	// Not connected: nothing drains the queue.
	for i := 0; i < 5; i++ {
		e.EmitSessionOpened(session.Stats{ID: "x"})
	}

	if got := e.Stats().Dropped; got != 3 {
		t.Errorf("Dropped=%d (expected 3)", got)
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL("localhost:1883"); got != "tcp://localhost:1883" {
		t.Errorf("brokerURL()=%q", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Errorf("brokerURL()=%q", got)
	}
}
