package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/scopedfs/internal/logger"
)

// Status is the device summary served on /status.
type Status struct {
	PackageName           string `json:"package_name"`
	SDKLevel              int    `json:"sdk_level"`
	ScopedStorageEnforced bool   `json:"scoped_storage_enforced"`
	Grants                int    `json:"grants"`
	ActiveTransfers       int64  `json:"active_transfers"`
}

// StatusFunc reports the current device summary.
type StatusFunc func(ctx context.Context) (Status, error)

// Server exposes the device over HTTP:
//   - GET /metrics: Prometheus metrics
//   - GET /status: JSON device summary, 503 until a status source is set
//   - GET /: plain text list of the endpoints
type Server struct {
	server       *http.Server
	port         int
	status       atomic.Pointer[StatusFunc]
	shutdownOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on for HTTP requests.
	// Default: 9090
	Port int
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
}

// NewServer creates a stopped server. Call Start to serve.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()
	s := &Server{port: config.Port}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler())
	mux.HandleFunc("GET /status", s.serveStatus)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "scopedfs on port %d\n\n/metrics  transfer and grant metrics\n/status   device summary (JSON)\n", s.port)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func metricsHandler() http.Handler {
	registry := GetRegistry()
	if !IsEnabled() || registry == nil {
		logger.Debug("Metrics collection disabled")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	logger.Debug("Metrics endpoint registered at /metrics")
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// SetStatus installs the source of /status. The device is usually opened
// after the server is created, so the source is set late.
func (s *Server) SetStatus(fn StatusFunc) {
	s.status.Store(&fn)
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	fn := s.status.Load()
	if fn == nil || *fn == nil {
		http.Error(w, "device not ready", http.StatusServiceUnavailable)
		return
	}

	st, err := (*fn)(r.Context())
	if err != nil {
		logger.Warn("Status request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		logger.Debug("Status response not written: %v", err)
	}
}

// Handler returns the HTTP handler serving the endpoints.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on port %d", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return shutdownErr
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.port
}
