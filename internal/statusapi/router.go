package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/georgelake2/plcaudit/internal/logging"
	"github.com/georgelake2/plcaudit/internal/metrics"
	"github.com/georgelake2/plcaudit/internal/monitor"
)

// MetricsSource is satisfied by *metrics.Recorder.
type MetricsSource interface {
	Snapshot() metrics.Metrics
}

// StateSource is satisfied by *monitor.Monitor.
type StateSource interface {
	State() monitor.State
}

// Info identifies the run in /healthz.
type Info struct {
	Scenario   string
	Controller string
	Version    string
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status               string `json:"status"`
	Scenario             string `json:"scenario"`
	Controller           string `json:"controller"`
	Version              string `json:"version"`
	UptimeSec            int64  `json:"uptime_sec"`
	CommFault            bool   `json:"comm_fault"`
	ConsecutiveFailures  int    `json:"consecutive_failures"`
	BaselinesEstablished bool   `json:"baselines_established"`
	Ticks                uint64 `json:"ticks"`
}

// MetricsResponse is the /api/metrics body.
type MetricsResponse struct {
	Scenario                 string            `json:"scenario"`
	AuthorizedAuditChanges   uint32            `json:"authorized_audit_changes"`
	UnauthorizedAuditChanges uint32            `json:"unauthorized_audit_changes"`
	AuthorizedPIDChanges     uint32            `json:"authorized_pid_changes"`
	UnauthorizedPIDChanges   uint32            `json:"unauthorized_pid_changes"`
	ReadFailures             uint32            `json:"read_failures"`
	CommFaultIntervals       uint32            `json:"comm_fault_intervals"`
	BaselineEstablishedMs    int64             `json:"baseline_established_ms"`
	FirstDetectionMs         int64             `json:"first_detection_ms"`
	TotalCommFaultDurMs      int64             `json:"total_comm_fault_dur_ms"`
	Events                   map[string]uint64 `json:"events"`
}

type handlers struct {
	info    Info
	tracker *Tracker
	metrics MetricsSource
	state   StateSource
}

// NewRouter builds the status routes. metrics and state may be nil.
func NewRouter(info Info, tracker *Tracker, metrics MetricsSource, state StateSource) chi.Router {
	h := &handlers{info: info, tracker: tracker, metrics: metrics, state: state}
	r := chi.NewRouter()
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", h.handleMetrics)
		r.Get("/last-tick", h.handleLastTick)
		r.Get("/events", h.handleEvents)
	})
	return r
}

// writeJSON encodes v before writing the header so an encoding failure
// becomes a 500 rather than a truncated body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth answers 503 while a communication fault is active.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Scenario:   h.info.Scenario,
		Controller: h.info.Controller,
		Version:    h.info.Version,
		UptimeSec:  int64(h.tracker.Uptime() / time.Second),
	}
	if h.state != nil {
		st := h.state.State()
		resp.CommFault = st.CommFault
		resp.ConsecutiveFailures = st.ConsecutiveFailures
		resp.BaselinesEstablished = st.BaselineMarked
		resp.Ticks = st.Ticks
	}
	status := http.StatusOK
	if resp.CommFault {
		resp.Status = "comm_fault"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics not enabled")
		return
	}
	m := h.metrics.Snapshot()
	writeJSON(w, http.StatusOK, MetricsResponse{
		Scenario:                 m.Scenario,
		AuthorizedAuditChanges:   m.AuthorizedAuditChanges,
		UnauthorizedAuditChanges: m.UnauthorizedAuditChanges,
		AuthorizedPIDChanges:     m.AuthorizedPIDChanges,
		UnauthorizedPIDChanges:   m.UnauthorizedPIDChanges,
		ReadFailures:             m.ReadFailures,
		CommFaultIntervals:       m.CommFaultIntervals,
		BaselineEstablishedMs:    m.BaselineEstablishedMs,
		FirstDetectionMs:         m.FirstDetectionMs,
		TotalCommFaultDurMs:      m.TotalCommFaultDurMs,
		Events:                   h.tracker.Counts(),
	})
}

func (h *handlers) handleLastTick(w http.ResponseWriter, r *http.Request) {
	tick := h.tracker.LastTick()
	if tick == nil {
		writeError(w, http.StatusNotFound, "no successful tick yet")
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

func (h *handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Events())
}

// Server runs the status router on its own listener.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *logging.Logger
	done     chan error
}

// Start listens on addr and serves handler in the background.
func Start(addr string, handler http.Handler, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status listener %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s := &Server{
		server:   srv,
		listener: ln,
		logger:   logger,
		done:     make(chan error, 1),
	}
	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	logger.Info("Status API listening on http://%s", ln.Addr())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Shutdown stops the server, waiting for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Verbose("Status API stopped")
	return <-s.done
}
