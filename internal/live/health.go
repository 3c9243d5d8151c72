package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/geowatch/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthServer exposes /healthz and /metrics for a running engine.
type HealthServer struct {
	addr     string
	engine   *Engine
	gatherer prometheus.Gatherer
	log      *zap.Logger

	server   *http.Server
	listener net.Listener
}

// NewHealthServer creates a server bound to addr on Start.
func NewHealthServer(addr string, engine *Engine, gatherer prometheus.Gatherer, log *zap.Logger) *HealthServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthServer{addr: addr, engine: engine, gatherer: gatherer, log: log}
}

// Start binds the listener and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("health server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, useful when addr was ":0".
func (h *HealthServer) Addr() string {
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// Shutdown gracefully shuts down the server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status         string `json:"status"`
	Session        string `json:"session"`
	LastAppliedSeq uint64 `json:"last_applied_seq"`
	Error          string `json:"error,omitempty"`
}

// healthCheckHandler returns 200 while the session is authenticated and
// 503 otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := h.engine.Session()
	response := HealthResponse{
		Status:         "healthy",
		Session:        string(sess.State),
		LastAppliedSeq: h.engine.LastApplied(),
	}
	status := http.StatusOK

	if !sess.IsAuthenticated() && sess.State != session.StateLoading {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if snap := h.engine.Snapshot(); snap.Err != nil {
		response.Error = snap.Err.Error()
	} else if sess.Err != nil {
		response.Error = sess.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
