// Package server implements the HTTP surface over the lifecycle
// engine: upload, download and revoke handlers plus health and metrics
// endpoints. It is deliberately thin; every lifecycle decision lives in
// the engine.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dropbin/internal/drop"
)

// BuildInfo identifies the running binary in health responses and logs.
type BuildInfo struct {
	Version string
	Commit  string
}

// Config wires the server's collaborators. The ping funcs back the
// readiness probe so tests can substitute them freely.
type Config struct {
	Addr           string
	BaseURL        string
	BehindProxy    bool
	MaxUploadBytes int64
	Build          BuildInfo

	Engine   *drop.Engine
	DBPing   func(ctx context.Context) error
	BlobPing func(ctx context.Context) error
}

// Server owns the HTTP listener.
type Server struct {
	httpServer *http.Server
}

// New builds the router and middleware chain.
func New(cfg Config) *Server {
	mux := http.NewServeMux()

	mux.Handle("POST /drops", cfg.createDropHandler())
	mux.Handle("GET /drops/{id}", cfg.downloadDropHandler())
	mux.Handle("DELETE /drops/{id}", cfg.revokeDropHandler())

	mux.Handle("GET /health", cfg.healthHandler())
	mux.Handle("GET /ready", cfg.readyHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	// Wrap middleware: requestID -> logging -> mux
	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{httpServer: s}
}

// Handler exposes the assembled middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
