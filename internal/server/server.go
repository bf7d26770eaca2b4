// Package server exposes a knowledge store over the JSON wire protocol
// spoken by knowledge.HTTPGateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/hivemind/internal/logging"
	"github.com/dyluth/hivemind/pkg/knowledge"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 16 << 20

// Backend is the storage the server fronts. *store.Store implements it.
type Backend interface {
	Add(ctx context.Context, e knowledge.Entry) (knowledge.Result, error)
	Search(ctx context.Context, f knowledge.Filter) ([]knowledge.Entry, error)
	Stats(ctx context.Context) (knowledge.Stats, error)
	Ping(ctx context.Context) error
}

// Config holds listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the knowledge wire protocol.
type Server struct {
	backend  Backend
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// New creates a server. Zero timeouts default to 10s.
func New(backend Backend, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &Server{backend: backend, logger: logger}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+knowledge.PathAdd, s.handleAdd)
	mux.HandleFunc("POST "+knowledge.PathSearch, s.handleSearch)
	mux.HandleFunc("GET "+knowledge.PathHealth, s.handleHealth)
	mux.HandleFunc("GET "+knowledge.PathStats, s.handleStats)
	return s.logRequests(mux)
}

// Start binds the listener and serves in a background goroutine. Bind errors
// (e.g. port in use) are returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("knowledge server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("knowledge server error", "error", err)
		}
		s.logger.Debug("knowledge server stopped")
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
