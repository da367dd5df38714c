// Package health serves liveness, readiness and metrics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/e7canasta/orion-tracker/modules/resultbus"
	"github.com/e7canasta/orion-tracker/modules/tracker"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Sources are the snapshots the server reports on. Pipeline is required.
type Sources struct {
	Pipeline func() tracker.Stats
	Bus      func() resultbus.Stats
	// MQTT is nil when publication is disabled.
	MQTT func() bool
}

// Status is the /readiness body.
type Status struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	WorkerState   string   `json:"worker_state"`
	WorkerIdle    bool     `json:"worker_idle"`
	PoolExhausted bool     `json:"pool_exhausted"`
	QueueDepth    int      `json:"queue_depth"`
	Ended         bool     `json:"ended"`
	MQTTConnected *bool    `json:"mqtt_connected,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
}

// Metrics is the /metrics body.
type Metrics struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Tracker       tracker.Stats    `json:"tracker"`
	Bus           *resultbus.Stats `json:"bus,omitempty"`
	BusDropRate   float64          `json:"bus_drop_rate"`
}

// Server answers health requests.
type Server struct {
	src     Sources
	started time.Time
	srv     *http.Server
}

// New returns a server; nothing listens until Start.
func New(src Sources) *Server {
	return &Server{src: src, started: time.Now()}
}

// Check evaluates the current status.
func (s *Server) Check() Status {
	st := s.src.Pipeline()
	out := Status{
		Status:        StatusHealthy,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		WorkerState:   st.Worker.State,
		WorkerIdle:    st.Worker.Idle,
		PoolExhausted: st.Pool.Exhausted(),
		QueueDepth:    st.QueueDepth,
		Ended:         st.Ended,
	}

	if st.Ended {
		out.Status = StatusUnhealthy
		out.Reasons = append(out.Reasons, "pipeline ended")
		if st.Worker.Error != "" {
			out.Reasons = append(out.Reasons, st.Worker.Error)
		}
	}
	if st.Worker.Idle {
		out.Reasons = append(out.Reasons, "tracker idle")
	}
	if s.src.MQTT != nil {
		connected := s.src.MQTT()
		out.MQTTConnected = &connected
		if !connected {
			out.Reasons = append(out.Reasons, "mqtt disconnected")
		}
	}
	if out.Status == StatusHealthy && len(out.Reasons) > 0 {
		out.Status = StatusDegraded
	}
	return out
}

// LivenessHandler handles /health: 200 while the process serves requests.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler handles /readiness: 503 once the pipeline has ended.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	st := s.Check()
	code := http.StatusOK
	if st.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// MetricsHandler handles /metrics with a JSON snapshot of every counter.
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	m := Metrics{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Tracker:       s.src.Pipeline(),
	}
	if s.src.Bus != nil {
		bs := s.src.Bus()
		m.Bus = &bs
		m.BusDropRate = resultbus.DropRate(bs)
	}
	writeJSON(w, http.StatusOK, m)
}

// Handler returns the mux with all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/metrics", s.MetricsHandler)
	return mux
}

// Start listens on addr and serves in the background. The bound address
// is returned (useful with ":0").
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health check server failed", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health response not written", "error", err)
	}
}
