// Package server exposes the monitor's published state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nvandessel/dbmon/internal/logging"
	"github.com/nvandessel/dbmon/internal/publish"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Addr is the listen address. "localhost:0" picks a free port.
	Addr string

	// Latest supplies the state served by the JSON API.
	Latest *publish.Latest

	// Feed handles websocket upgrades on /ws. Nil disables the route.
	Feed http.Handler

	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server serves the JSON API, websocket feed and metrics.
type Server struct {
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server
	mu         sync.Mutex
	addr       string
}

// New creates a server. It does not listen until ListenAndServe is called.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Latest == nil {
		opts.Latest = publish.NewLatest()
	}
	return &Server{opts: opts, logger: logger}
}

// Addr returns the address the server is listening on.
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/databases", func(r chi.Router) {
		r.Get("/", s.handleDatabases)
		r.Get("/{name}", s.handleDatabase)
	})
	if s.opts.Feed != nil {
		r.Handle("/ws", s.opts.Feed)
	}
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe listens on the configured address and blocks until ctx is
// cancelled, then shuts down gracefully. A clean shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown", "error", err)
		}
	}()

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleDatabases returns the most recently published state.
func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	state, err := s.opts.Latest.Get()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleDatabase returns the rolling history of one source.
func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	state, err := s.opts.Latest.Get()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	name := chi.URLParam(r, "name")
	h, ok := state.Source(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source: "+name)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// requestLogger logs each request through slog at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
