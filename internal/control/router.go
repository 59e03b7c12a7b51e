// Package control serves the HTTP control plane: liveness, readiness,
// stats, rebind and Prometheus metrics.
package control

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/hub"
)

// Broadcaster is the hub surface the control plane needs.
type Broadcaster interface {
	Stats() hub.Stats
	Listening() bool
	Rebind(newAddress string) error
}

// Checks contains optional dependency checks for readiness.
type Checks struct {
	SourceRunning func() bool
	MQTTConnected func() bool
}

// Deps wires the router.
type Deps struct {
	Hub     Broadcaster
	Checks  Checks
	Metrics http.Handler // nil = /metrics not served
	Logger  *slog.Logger
	Started time.Time
}

// HealthStatus represents the readiness state of the service
type HealthStatus struct {
	Status         string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Listening      bool   `json:"listening"`
	Address        string `json:"address,omitempty"`
	SessionsActive int    `json:"sessions_active"`
	SourceRunning  *bool  `json:"source_running,omitempty"`
	MQTTConnected  *bool  `json:"mqtt_connected,omitempty"`
}

type rebindRequest struct {
	Address string `json:"address" binding:"required,ip"`
}

// NewRouter wires Gin with the control endpoints.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}

	h := &handler{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(AccessLog(deps.Logger))

	r.GET("/health", h.liveness)
	r.GET("/readiness", h.readiness)
	r.GET("/stats", h.stats)
	r.POST("/rebind", h.rebind)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	return r
}

type handler struct {
	deps Deps
}

func (h *handler) uptime() int64 {
	return int64(time.Since(h.deps.Started).Seconds())
}

// liveness returns 200 if the process is alive.
func (h *handler) liveness(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "alive", "uptime": h.uptime()})
}

// healthCheck computes the readiness status.
func (h *handler) healthCheck() HealthStatus {
	st := h.deps.Hub.Stats()

	status := HealthStatus{
		Status:         "healthy",
		UptimeSeconds:  h.uptime(),
		Listening:      st.Listening,
		Address:        st.Address,
		SessionsActive: st.SessionsActive,
	}

	degraded := false
	if h.deps.Checks.SourceRunning != nil {
		running := h.deps.Checks.SourceRunning()
		status.SourceRunning = &running
		degraded = degraded || !running
	}
	if h.deps.Checks.MQTTConnected != nil {
		connected := h.deps.Checks.MQTTConnected()
		status.MQTTConnected = &connected
		degraded = degraded || !connected
	}

	switch {
	case !st.Listening:
		status.Status = "unhealthy"
	case degraded:
		status.Status = "degraded"
	}
	return status
}

// readiness returns 200 unless the broadcast listener is down.
func (h *handler) readiness(ctx *gin.Context) {
	health := h.healthCheck()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, health)
}

func (h *handler) stats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.deps.Hub.Stats())
}

func (h *handler) rebind(ctx *gin.Context) {
	var req rebindRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.deps.Logger.Info("control: rebind requested",
		"address", req.Address,
		"request_id", ctx.GetHeader("X-Request-ID"),
	)

	if err := h.deps.Hub.Rebind(req.Address); err != nil {
		var berr *hub.BindError
		switch {
		case errors.As(err, &berr), errors.Is(err, hub.ErrNotStarted):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	st := h.deps.Hub.Stats()
	ctx.JSON(http.StatusOK, gin.H{"status": "rebound", "address": st.Address})
}
