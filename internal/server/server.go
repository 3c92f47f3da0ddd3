// Package server provides the HTTP server behind the palm reader viewer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/server/api"
	"github.com/ayusman/palmreader/internal/session"
)

// Reader is the session controller the server drives.
type Reader interface {
	api.Reader
	Subscribe(fn session.Observer) func()
	Preview() []byte
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Reader    Reader
	// History enables /api/readings when set.
	History api.History
	// Gatherer enables /metrics when set.
	Gatherer prometheus.Gatherer
	// StreamFPS paces /api/stream. Zero uses 15.
	StreamFPS int
}

// Server represents the HTTP server for the palm reader.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	events *EventsHandler
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Reader != nil {
		sessions := api.NewSessionHandler(s.ctx, s.config.Reader)
		s.mux.HandleFunc("/api/read", sessions.Read)
		s.mux.HandleFunc("/api/reset", sessions.Reset)
		s.mux.HandleFunc("/api/state", sessions.State)

		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Reader, s.config.StreamFPS))

		s.events = NewEventsHandler(s.config.Reader)
		s.mux.Handle("/api/events", s.events)
	}

	if s.config.History != nil {
		readings := api.NewReadingsHandler(s.config.History)
		s.mux.Handle("/api/readings", readings)
		s.mux.Handle("/api/readings/", readings)
	}

	if s.config.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Reader != nil {
		response["busy"] = s.config.Reader.Busy()
		response["state"] = s.config.Reader.View().State
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(log.Fields{"addr": addr}, "viewer listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close cancels sessions started through the API and detaches the event feed.
func (s *Server) Close() {
	s.cancel()
	if s.events != nil {
		s.events.Close()
	}
}
