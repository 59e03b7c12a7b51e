package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHub struct {
	stats     hub.Stats
	rebindErr error
	rebound   string
}

func (f *fakeHub) Stats() hub.Stats { return f.stats }
func (f *fakeHub) Listening() bool  { return f.stats.Listening }
func (f *fakeHub) Rebind(addr string) error {
	if f.rebindErr != nil {
		return f.rebindErr
	}
	f.rebound = addr
	f.stats.Address = addr + ":8080"
	return nil
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLiveness(t *testing.T) {
	r := NewRouter(Deps{Hub: &fakeHub{}})

	w := do(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID response header")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	r := NewRouter(Deps{Hub: &fakeHub{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID=%q (expected req-123)", got)
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		listening  bool
		mqtt       bool
		wantCode   int
		wantStatus string
	}{
		{"healthy", true, true, http.StatusOK, "healthy"},
		{"degraded", true, false, http.StatusOK, "degraded"},
		{"unhealthy", false, true, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqttUp := tt.mqtt
			r := NewRouter(Deps{
				Hub:    &fakeHub{stats: hub.Stats{Listening: tt.listening}},
				Checks: Checks{MQTTConnected: func() bool { return mqttUp }},
			})

			w := do(t, r, http.MethodGet, "/readiness", "")
			if w.Code != tt.wantCode {
				t.Errorf("GET /readiness = %d (expected %d)", w.Code, tt.wantCode)
			}

			var got HealthStatus
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode body failed: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status=%q (expected %q)", got.Status, tt.wantStatus)
			}
			if got.MQTTConnected == nil || *got.MQTTConnected != tt.mqtt {
				t.Errorf("mqtt_connected=%v", got.MQTTConnected)
			}
			if got.SourceRunning != nil {
				t.Error("source_running reported without a source check")
			}
		})
	}
}

func TestStats(t *testing.T) {
	h := &fakeHub{stats: hub.Stats{Listening: true, Address: "127.0.0.1:8080", FramesPublished: 9}}
	r := NewRouter(Deps{Hub: h})

	w := do(t, r, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /stats = %d", w.Code)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	want := map[string]interface{}{"listening": true, "address": "127.0.0.1:8080", "frames_published": float64(9)}
	for k, v := range want {
		if diff := cmp.Diff(v, got[k]); diff != "" {
			t.Errorf("stats[%q] mismatch (-want +got):\n%s", k, diff)
		}
	}
}

func TestRebind(t *testing.T) {
	h := &fakeHub{}
	r := NewRouter(Deps{Hub: h})

	w := do(t, r, http.MethodPost, "/rebind", `{"address":"192.168.1.50"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /rebind = %d body=%s", w.Code, w.Body.String())
	}
	if h.rebound != "192.168.1.50" {
		t.Errorf("Rebind called with %q", h.rebound)
	}
}

func TestRebindValidation(t *testing.T) {
	r := NewRouter(Deps{Hub: &fakeHub{}})

	for _, body := range []string{`{}`, `{"address":"not-an-ip"}`, `not json`} {
		if w := do(t, r, http.MethodPost, "/rebind", body); w.Code != http.StatusBadRequest {
			t.Errorf("POST /rebind %s = %d (expected 400)", body, w.Code)
		}
	}
}

func TestRebindErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&hub.BindError{Address: "10.0.0.1:8080", Err: errors.New("address in use")}, http.StatusConflict},
		{hub.ErrNotStarted, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		r := NewRouter(Deps{Hub: &fakeHub{rebindErr: tt.err}})
		if w := do(t, r, http.MethodPost, "/rebind", `{"address":"10.0.0.1"}`); w.Code != tt.code {
			t.Errorf("rebind error %v → %d (expected %d)", tt.err, w.Code, tt.code)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "framebroadcast_listening 1\n")
	})

	r := NewRouter(Deps{Hub: &fakeHub{}, Metrics: metrics})
	if w := do(t, r, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "listening") {
		t.Errorf("GET /metrics = %d %q", w.Code, w.Body.String())
	}

	r = NewRouter(Deps{Hub: &fakeHub{}})
	if w := do(t, r, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without handler = %d (expected 404)", w.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	s, err := Start("127.0.0.1:0", NewRouter(Deps{Hub: &fakeHub{}}), nil)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d", resp.StatusCode)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}
}
