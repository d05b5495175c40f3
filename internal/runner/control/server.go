// Package control implements the runner's status HTTP server.
//
// Endpoints:
//
//	GET /health   → HealthResponse
//	GET /status   → StatusResponse (bearer token when configured)
//	GET /metrics  → Prometheus exposition
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/lcsm/common/version"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	RunnerID string `json:"runner_id"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	RunnerID  string       `json:"runner_id"`
	Version   version.Info `json:"version"`
	Uptime    float64      `json:"uptime_seconds"`
	StartedAt time.Time    `json:"started_at"`
	Serving   bool         `json:"serving"`
	Running   []int        `json:"running_instances"`
}

// Handlers bundles what the server reports on.
type Handlers struct {
	// RunnerID is the runner's stable identifier.
	RunnerID string
	// StartedAt is the time the binary started.
	StartedAt time.Time

	// Token, when non-empty, is the bearer token required on /status.
	Token string

	// Serving reports whether the RPC server is accepting connections.
	Serving func() bool
	// Running returns the ids of instances with a live process.
	Running func() []int

	// Registry receives the runner gauges and is exposed on /metrics.
	// When nil, /metrics returns 404.
	Registry *prometheus.Registry
}

// Server is the status HTTP server.
type Server struct {
	addr     string
	handlers Handlers
	server   *http.Server
}

// New creates a new Server listening on addr.
func New(addr string, h Handlers) *Server {
	s := &Server{addr: addr, handlers: h}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/status", s.authMiddleware(http.HandlerFunc(s.handleStatus)))
	if h.Registry != nil {
		s.registerGauges(h.Registry)
		mux.Handle("/metrics", promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) registerGauges(reg prometheus.Registerer) {
	running := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "lcsm",
		Subsystem: "supervisor",
		Name:      "running_instances",
		Help:      "Number of instances with a live process.",
	}, func() float64 {
		if s.handlers.Running == nil {
			return 0
		}
		return float64(len(s.handlers.Running()))
	})
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "lcsm",
		Subsystem: "runner",
		Name:      "uptime_seconds",
		Help:      "Seconds since the runner started.",
	}, func() float64 {
		return time.Since(s.handlers.StartedAt).Seconds()
	})
	for _, c := range []prometheus.Collector{running, uptime} {
		if err := reg.Register(c); err != nil {
			slog.Warn("control: metric registration failed", "err", err)
		}
	}
}

// authMiddleware rejects requests that do not carry the correct bearer token.
// When Handlers.Token is empty, all requests are allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.handlers.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if auth[len("Bearer "):] != s.handlers.Token {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening. It returns once the listener is bound; the server
// shuts down when ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status listen %s: %w", s.addr, err)
	}
	slog.Info("control: status server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control: status server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

// Handler exposes the server's HTTP handler for use in httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", RunnerID: s.handlers.RunnerID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	running := []int{}
	if s.handlers.Running != nil {
		running = append(running, s.handlers.Running()...)
	}
	serving := false
	if s.handlers.Serving != nil {
		serving = s.handlers.Serving()
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		RunnerID:  s.handlers.RunnerID,
		Version:   version.Get(),
		Uptime:    time.Since(s.handlers.StartedAt).Seconds(),
		StartedAt: s.handlers.StartedAt,
		Serving:   serving,
		Running:   running,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigStd.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("control: write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
