package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/source"
)

type fakeHub struct{ st hub.Stats }

func (f fakeHub) Stats() hub.Stats { return f.st }

type fakeSource struct{ st source.Stats }

func (f fakeSource) Stats() source.Stats { return f.st }

func TestCollectorExportsHubStats(t *testing.T) {
	h := fakeHub{st: hub.Stats{
		Listening:        true,
		FramesPublished:  120,
		SessionsActive:   2,
		SessionsAccepted: 5,
		SessionsClosed:   3,
		FramesSent:       200,
		FramesDropped:    40,
		Sessions: []session.Stats{
			{ID: "a", TotalDrops: 30},
			{ID: "b", TotalDrops: 10},
		},
	}}

	c, err := New(h, WithRegistry(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	expected := `
# HELP framebroadcast_frames_published_total Total number of frames published by the producer
# TYPE framebroadcast_frames_published_total counter
framebroadcast_frames_published_total 120
# HELP framebroadcast_sessions_active Number of currently registered client sessions
# TYPE framebroadcast_sessions_active gauge
framebroadcast_sessions_active 2
# HELP framebroadcast_listening Whether the broadcast listener is accepting connections (1) or inert (0)
# TYPE framebroadcast_listening gauge
framebroadcast_listening 1
# HELP framebroadcast_session_frames_dropped Frames dropped for one live session
# TYPE framebroadcast_session_frames_dropped gauge
framebroadcast_session_frames_dropped{session_id="a"} 30
framebroadcast_session_frames_dropped{session_id="b"} 10
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected),
		"framebroadcast_frames_published_total",
		"framebroadcast_sessions_active",
		"framebroadcast_listening",
		"framebroadcast_session_frames_dropped",
	)
	if err != nil {
		t.Errorf("CollectAndCompare() failed: %v", err)
	}
}

func TestCollectorSourceMetrics(t *testing.T) {
	src := fakeSource{st: source.Stats{Name: "filesim", FramesProduced: 33, Errors: 1}}

	c, err := New(fakeHub{}, WithRegistry(prometheus.NewRegistry()), WithSource(src), WithNamespace("fb"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	expected := `
# HELP fb_source_frames_total Total number of frames produced by the internal source
# TYPE fb_source_frames_total counter
fb_source_frames_total{source="filesim"} 33
# HELP fb_source_errors_total Total number of internal source errors
# TYPE fb_source_errors_total counter
fb_source_errors_total{source="filesim"} 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"fb_source_frames_total", "fb_source_errors_total"); err != nil {
		t.Errorf("CollectAndCompare() failed: %v", err)
	}
}

func TestHandler(t *testing.T) {
	c, err := New(fakeHub{st: hub.Stats{FramesPublished: 7}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "framebroadcast_frames_published_total 7") {
		t.Errorf("metrics output missing published counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("default registry missing Go collector")
	}
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(fakeHub{}, WithRegistry(reg)); err != nil {
		t.Fatalf("first New() failed: %v", err)
	}
	if _, err := New(fakeHub{}, WithRegistry(reg)); err == nil {
		t.Error("second registration on same registry succeeded")
	}
}
