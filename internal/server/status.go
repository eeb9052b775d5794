package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/brandloom-ai/brandloom/internal/eventbus"
	"github.com/brandloom-ai/brandloom/internal/observability"
)

// StatusDeps carries the read-only views the status endpoints expose.
type StatusDeps struct {
	Version   string
	StartTime time.Time
	Bus       *eventbus.Bus
	Events    *observability.EventCounter
	Exporter  *observability.PrometheusExporter
	Activity  *observability.ActivityLog
}

type statusHandler struct {
	deps   StatusDeps
	server *Server
}

type statusResponse struct {
	Status   string                        `json:"status"`
	Version  string                        `json:"version"`
	Uptime   string                        `json:"uptime"`
	Sessions int                           `json:"sessions"`
	Clients  int                           `json:"clients"`
	Bus      busStatus                     `json:"bus"`
	Events   map[string]uint64             `json:"events,omitempty"`
	Recent   []observability.ActivityEntry `json:"recent,omitempty"`
}

type busStatus struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// Routes registers the daemon's HTTP surface on the mux.
func (s *Server) Routes(mux *http.ServeMux, deps StatusDeps) {
	h := &statusHandler{deps: deps, server: s}
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/statusz", h.handleStatusz)
	if deps.Exporter != nil {
		mux.HandleFunc("/metrics", h.handleMetrics)
	}
}

func (h *statusHandler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *statusHandler) handleStatusz(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Version: h.deps.Version,
	}
	if !h.deps.StartTime.IsZero() {
		resp.Uptime = time.Since(h.deps.StartTime).Round(time.Second).String()
	}
	if h.server != nil {
		resp.Clients = h.server.ClientCount()
		if h.server.registry != nil {
			resp.Sessions = h.server.registry.Count()
		}
	}
	if h.deps.Bus != nil {
		metrics := h.deps.Bus.Metrics()
		resp.Bus = busStatus{Published: metrics.PublishTotal, Dropped: metrics.DroppedTotal}
	}
	if h.deps.Events != nil {
		resp.Events = make(map[string]uint64)
		for topic, count := range h.deps.Events.Snapshot() {
			resp.Events[string(topic)] = count
		}
	}
	if h.deps.Activity != nil {
		resp.Recent = h.deps.Activity.Recent()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *statusHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write(h.deps.Exporter.Export())
}
