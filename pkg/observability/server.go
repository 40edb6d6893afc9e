// Package observability exposes Prometheus metrics and health probes over
// HTTP.
package observability

import (
	"context"
	"net/http"
	"time"
)

// Server serves the metrics and health endpoints on one listener, separate
// from any caller-facing surface.
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer creates an observability server listening on addr.
func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
	}
}

// Start blocks serving /metrics, /healthz, /livez and /readyz until Shutdown.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/healthz", HealthHandler())
	mux.HandleFunc("/livez", LivenessHandler())
	mux.HandleFunc("/readyz", ReadinessHandler())

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
