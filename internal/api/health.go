package api

import (
	"net/http"
	"runtime"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	GoVersion     string            `json:"go_version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	deps      Deps
	s3Enabled bool
}

func NewHealthHandler(deps Deps, s3Enabled bool) *HealthHandler {
	return &HealthHandler{deps: deps, s3Enabled: s3Enabled}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	status := "ok"
	if h.deps.History != nil {
		if err := h.deps.History.Ping(r.Context()); err != nil {
			checks["database"] = "unavailable: " + err.Error()
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	}
	if h.deps.Artifacts != nil {
		checks["storage"] = h.deps.Artifacts.Type()
	}
	if h.deps.Events != nil {
		if h.deps.Events.IsConnected() {
			checks["mqtt"] = "connected"
		} else {
			checks["mqtt"] = "disconnected"
		}
	}
	if h.deps.Brain != nil {
		checks["analysis"] = "enabled"
	} else {
		checks["analysis"] = "disabled"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, HealthResponse{
		Status:        status,
		Version:       h.deps.Version,
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(h.deps.StartTime).Seconds()),
		Checks:        checks,
	})
}
